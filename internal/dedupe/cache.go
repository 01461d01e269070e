// ABOUTME: Bounded TTL set of inbound event ids used to drop redelivered events
// ABOUTME: Oldest ids are evicted first once the size limit is reached

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Config sizes a Cache.
type Config struct {
	TTL     time.Duration // how long an id is remembered (default 10m)
	MaxSize int           // ids kept before the oldest is evicted (default 10000)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	seenAt time.Time
	elem   *list.Element
}

// Cache is a concurrency-safe set of event ids with per-id expiry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // ids, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a Cache and starts its background sweeper. Call Close to stop it.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether id was already seen within the TTL. An unseen or
// expired id is recorded, so only the first of two concurrent calls for the
// same id returns false.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[id]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		e.seenAt = now
		c.order.MoveToBack(e.elem)
		return false
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[id] = &entry{seenAt: now, elem: c.order.PushBack(id)}
	return false
}

// Forget removes id so the next Seen for it returns false. Used when handling
// failed and a redelivery should be processed.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		c.order.Remove(e.elem)
		delete(c.entries, id)
	}
}

// Len returns the number of remembered ids, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, id)
}

func (c *Cache) sweepLoop() {
	interval := c.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired ids. Entries are ordered by last sighting, so it stops
// at the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		id, _ := front.Value.(string)
		if now.Sub(c.entries[id].seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.entries, id)
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
