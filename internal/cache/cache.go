// ABOUTME: Thread-safe TTL cache for read-mostly lookup results.
// ABOUTME: Used for model descriptors and subscription checks hit on every chat turn.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the value, timestamp, and list element for a cached key.
type entry[V any] struct {
	value     V
	timestamp time.Time
	element   *list.Element
}

// Cache provides a thread-safe, TTL-based, size-limited value cache.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
// Expired recomputation is left to callers; a stampede of concurrent
// recomputes for the same key is acceptable and not deduplicated.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Since(e.timestamp) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set records a value for key. If the cache is at capacity, the oldest
// entry is evicted to make room.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	// If key already exists, update in place and move to back
	if e, exists := c.entries[key]; exists {
		e.value = value
		e.timestamp = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry[V]{
		value:     value,
		timestamp: now,
		element:   elem,
	}
}

// Delete removes a key from the cache if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	c.order.Remove(e.element)
	delete(c.entries, key)
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache[V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.timestamp) > c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
