package dedupe

import (
	"sync"
	"time"
)

type entry[K comparable] struct {
	key K
	ts  time.Time
}

// Cache remembers recently handled keys, bounded by capacity and ttl.
type Cache[K comparable] struct {
	mu       sync.Mutex
	items    map[K]time.Time
	order    []entry[K]
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache[K comparable](capacity int, ttl time.Duration) *Cache[K] {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache[K]{
		items:    make(map[K]time.Time, capacity),
		order:    make([]entry[K], 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Recent reports whether key was marked inside the ttl window.
func (c *Cache[K]) Recent(key K) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.items[key]
	return ok && now.Sub(ts) <= c.ttl
}

// Mark records key as handled now.
func (c *Cache[K]) Mark(key K) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = now
	c.order = append(c.order, entry[K]{key: key, ts: now})
	c.compact(now)
}

// Len returns the number of tracked keys.
func (c *Cache[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[K]) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		// A re-marked key has a newer entry further back.
		if ts, ok := c.items[oldest.key]; ok && ts.Equal(oldest.ts) {
			delete(c.items, oldest.key)
		}
	}
}
