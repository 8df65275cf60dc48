package middleware

import (
	"sync"
	"time"
)

// Cache is a simple in-memory cache with expiration
type Cache[V any] struct {
	items map[string]cacheItem[V]
	mu    sync.RWMutex
}

type cacheItem[V any] struct {
	value      V
	expiration time.Time
}

// NewCache creates a new Cache
func NewCache[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]cacheItem[V]),
	}
}

// Set adds an item to the cache with a specified expiration duration
func (c *Cache[V]) Set(key string, value V, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem[V]{
		value:      value,
		expiration: time.Now().Add(duration),
	}
}

// Get retrieves an item from the cache. Expired items are reported as missing and left for
// CleanupExpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, found := c.items[key]
	if !found || time.Now().After(item.expiration) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Len returns the number of stored items, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CleanupExpired removes expired items from the cache
func (c *Cache[V]) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, item := range c.items {
		if now.After(item.expiration) {
			delete(c.items, key)
		}
	}
}
