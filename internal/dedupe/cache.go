// ABOUTME: Bounded TTL set of recently-seen message ids
// ABOUTME: Backs the reconciler's duplicate suppression across push and poll

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	markedAt time.Time
	elem     *list.Element
}

// Cache is a thread-safe, size-bounded, TTL-expiring set of message ids.
// The reconciler uses it to suppress re-delivery of an id that arrived via
// both the push stream and a concurrent poll. Insertion order is kept in a
// doubly-linked list so the oldest id is evicted in O(1) when the cache is
// at capacity.
type Cache struct {
	mu      sync.Mutex
	ids     map[string]*entry
	order   *list.List // oldest id at the front
	ttl     time.Duration
	maxSize int

	done   chan struct{}
	closed bool
}

// New creates a cache holding at most maxSize ids for at most ttl each.
// A background goroutine sweeps expired ids periodically.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		ids:     make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen atomically checks whether id is present and marks it if not.
// Returns true if the id was already present (a duplicate), false if it is
// new and now marked. The check and mark are one critical section so a push
// and a racing poll cannot both claim the same id.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.ids[id]; ok && time.Since(e.markedAt) < c.ttl {
		return true
	}
	c.mark(id)
	return false
}

// Mark records id without reporting whether it was present.
func (c *Cache) Mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mark(id)
}

// Reset drops every tracked id and marks exactly the given ones. Used when
// the reconciler replaces its visible sequence wholesale from a poll batch.
func (c *Cache) Reset(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids = make(map[string]*entry, len(ids))
	c.order.Init()
	for _, id := range ids {
		c.mark(id)
	}
}

// Len reports the number of tracked ids, including any not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// mark inserts or refreshes id. Caller holds mu.
func (c *Cache) mark(id string) {
	now := time.Now()

	if e, ok := c.ids[id]; ok {
		e.markedAt = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.ids) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.ids, oldest)
		}
	}

	c.ids[id] = &entry{markedAt: now, elem: c.order.PushBack(id)}
}

// sweepLoop periodically removes expired ids until Close is called.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
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

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.ids {
		if now.Sub(e.markedAt) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.ids, id)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
