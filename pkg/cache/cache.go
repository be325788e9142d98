// Package cache provides thread-safe caching with TTL support.
package cache

import (
	"sync"
	"time"
)

const defaultCleanupInterval = 5 * time.Minute

// Entry holds a cached value with expiration.
type Entry[V any] struct {
	value      V
	expiration time.Time
}

// Cache provides thread-safe caching with TTL.
type Cache[V any] struct {
	entries map[string]Entry[V]
	done    chan struct{}
	mu      sync.RWMutex
	ttl     time.Duration
	once    sync.Once
}

// New creates a new cache with the specified TTL.
// Close stops the background janitor.
func New[V any](ttl time.Duration) *Cache[V] {
	return newWithInterval[V](ttl, defaultCleanupInterval)
}

func newWithInterval[V any](ttl, interval time.Duration) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]Entry[V]),
		done:    make(chan struct{}),
		ttl:     ttl,
	}
	go c.cleanupExpired(interval)
	return c
}

// Get retrieves a value from cache if not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	entry, exists := c.entries[key]
	if !exists {
		c.mu.RUnlock()
		return zero, false
	}

	if time.Now().After(entry.expiration) {
		c.mu.RUnlock()
		c.mu.Lock()
		// Double-check after lock upgrade
		if e, exists := c.entries[key]; exists && time.Now().After(e.expiration) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}

	value := entry.value
	c.mu.RUnlock()
	return value, true
}

// Set stores a value in cache with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value in cache with custom TTL.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry[V]{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
}

// Delete removes key from the cache.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache[V]) Close() {
	c.once.Do(func() { close(c.done) })
}

// cleanupExpired periodically removes expired entries.
func (c *Cache[V]) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *Cache[V]) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiration) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
