package dedup

import "github.com/gammazero/deque"

// Cache is a bounded FIFO set of keys. Once full, each insert evicts the oldest
// key in insertion order.
type Cache struct {
	capacity int
	order    deque.Deque[uint64]
	keys     map[uint64]struct{}
}

// NewCache creates a cache holding at most capacity keys (minimum 1).
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		keys:     make(map[uint64]struct{}, capacity),
	}
}

// Contains reports whether key is in the window.
func (c *Cache) Contains(key uint64) bool {
	_, ok := c.keys[key]
	return ok
}

// Insert adds key. It returns false if key was already present.
func (c *Cache) Insert(key uint64) bool {
	if c.Contains(key) {
		return false
	}
	c.order.PushBack(key)
	c.keys[key] = struct{}{}
	for c.order.Len() > c.capacity {
		delete(c.keys, c.order.PopFront())
	}
	return true
}

// Len returns the number of keys held.
func (c *Cache) Len() int { return c.order.Len() }
