package secrets

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value      string
	expiration time.Time
}

// InMemoryCache is a thread-safe cache with a fixed time-to-live per entry.
type InMemoryCache struct {
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

// NewInMemoryCache creates a cache whose entries expire after ttl.
// A non-positive ttl keeps entries for the life of the cache.
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key if it has not expired.
func (c *InMemoryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !entry.expiration.IsZero() && c.now().After(entry.expiration) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

// Set stores value under key.
func (c *InMemoryCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiration time.Time
	if c.ttl > 0 {
		expiration = c.now().Add(c.ttl)
	}
	c.entries[key] = cacheEntry{value: value, expiration: expiration}
}

// Size returns the number of unexpired entries.
func (c *InMemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, entry := range c.entries {
		if !entry.expiration.IsZero() && c.now().After(entry.expiration) {
			delete(c.entries, key)
			continue
		}
		count++
	}
	return count
}
