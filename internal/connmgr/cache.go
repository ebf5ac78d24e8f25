package connmgr

import (
	"sync"
	"time"
)

// cacheEntry lives until expiresAt; there is no manual invalidation.
type cacheEntry struct {
	value     Response
	expiresAt time.Time
}

// responseCache is a TTL map of successful responses keyed by dedup key.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *responseCache) get(key string) (Response, bool) {
	if c.ttl <= 0 {
		return Response{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Response{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return Response{}, false
	}
	return e.value, true
}

func (c *responseCache) put(key string, v Response) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: v, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
