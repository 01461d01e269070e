// ABOUTME: Named sub-dialog threads and the registry sessions resolve them from
// ABOUTME: At most one thread is open per session; opening one closes the previous

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/2389/coven-paybot/internal/store"
)

// ErrThreadNotFound is returned when a thread name isn't registered.
var ErrThreadNotFound = errors.New("thread not found")

// ErrThreadAlreadyRegistered is returned when a name is registered twice.
var ErrThreadAlreadyRegistered = errors.New("thread already registered")

// Thread is a sub-dialog a session can enter and leave.
type Thread interface {
	Open(ctx context.Context, s *Session)
	Close(ctx context.Context, s *Session)
}

// ThreadFuncs adapts a pair of functions to Thread. Nil funcs are no-ops.
type ThreadFuncs struct {
	OnOpen  func(ctx context.Context, s *Session)
	OnClose func(ctx context.Context, s *Session)
}

func (f ThreadFuncs) Open(ctx context.Context, s *Session) {
	if f.OnOpen != nil {
		f.OnOpen(ctx, s)
	}
}

func (f ThreadFuncs) Close(ctx context.Context, s *Session) {
	if f.OnClose != nil {
		f.OnClose(ctx, s)
	}
}

// Registry maps thread names to handlers. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	threads map[string]Thread
}

var emptyRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{threads: make(map[string]Thread)}
}

// Register adds a thread under name.
func (r *Registry) Register(name string, t Thread) error {
	if name == "" {
		return errors.New("thread name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.threads[name]; exists {
		return fmt.Errorf("%w: %q", ErrThreadAlreadyRegistered, name)
	}
	r.threads[name] = t
	return nil
}

// Lookup returns the thread registered under name.
func (r *Registry) Lookup(name string) (Thread, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.threads[name]
	return t, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.threads))
	for name := range r.threads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenThread closes any open thread, then activates the one registered as
// name and runs its Open hook. An unregistered name returns ErrThreadNotFound
// and leaves the session untouched.
func (s *Session) OpenThread(ctx context.Context, name string) error {
	t, ok := s.deps.threads().Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrThreadNotFound, name)
	}

	s.CloseThread(ctx)

	s.thread = t
	s.threadName = name
	s.Flush()

	s.logger.Debug("thread opened", "thread", name)
	t.Open(ctx, s)
	return nil
}

// CloseThread runs the open thread's Close hook, if any, then clears the
// thread and the state. Both are persisted even when no thread was open.
func (s *Session) CloseThread(ctx context.Context) {
	if s.thread != nil {
		s.logger.Debug("thread closed", "thread", s.threadName)
		s.thread.Close(ctx, s)
	}
	s.thread = nil
	s.threadName = ""
	s.state = ""
	s.Flush()
}

// Reset abandons all conversational context: the thread is closed and data
// goes back to {address}.
func (s *Session) Reset(ctx context.Context) {
	s.CloseThread(ctx)
	s.state = ""
	s.data = store.Record{store.KeyAddress: s.address}
	s.Flush()
}
