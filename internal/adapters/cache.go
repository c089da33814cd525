package adapters

import (
	"sync"
	"time"
)

type cacheEntry[T any] struct {
	data      T
	expiresAt time.Time
}

// Cache is a small TTL map for read-mostly lookups such as search results.
type Cache[T any] struct {
	mu    sync.RWMutex
	items map[string]cacheEntry[T]
	ttl   time.Duration
	nowFn func() time.Time
}

func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{items: make(map[string]cacheEntry[T]), ttl: ttl, nowFn: time.Now}
}

func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || c.nowFn().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.data, true
}

func (c *Cache[T]) Set(key string, data T) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheEntry[T]{data: data, expiresAt: c.nowFn().Add(c.ttl)}
	// Opportunistic sweep keeps the map bounded by live keys.
	now := c.nowFn()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
		}
	}
}
