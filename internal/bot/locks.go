// ABOUTME: Per-address mutexes so only one event per user is handled at a time
// ABOUTME: Entries are reference counted and dropped when no one holds or waits on them

package bot

import "sync"

type addressLock struct {
	mu   sync.Mutex
	refs int
}

type addressLocks struct {
	mu    sync.Mutex
	locks map[string]*addressLock
}

func newAddressLocks() *addressLocks {
	return &addressLocks{locks: make(map[string]*addressLock)}
}

// lock blocks until address is free and returns the matching unlock func.
func (l *addressLocks) lock(address string) func() {
	l.mu.Lock()
	al, ok := l.locks[address]
	if !ok {
		al = &addressLock{}
		l.locks[address] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()

	return func() {
		al.mu.Unlock()

		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, address)
		}
		l.mu.Unlock()
	}
}

func (l *addressLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
