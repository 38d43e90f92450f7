package client

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// cacheEntry represents a cached response body with expiration.
type cacheEntry struct {
	body      []byte
	expiresAt time.Time
}

// responseCache is the short-TTL GET cache. It exists to collapse duplicate
// reads fired close together (several stores hydrating at once), not to be a
// durable cache; entries live for a few seconds at most.
type responseCache struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]*cacheEntry
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:   ttl,
		items: make(map[string]*cacheEntry),
	}
}

// cacheKey builds the lookup key from method, path and encoded query.
// url.Values.Encode sorts keys, so equivalent queries collide as intended.
func cacheKey(method, path string, params url.Values) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(path)
	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(params.Encode())
	}
	return b.String()
}

// get returns the cached body for key, or nil when absent or expired.
func (c *responseCache) get(key string) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.items[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.body
}

func (c *responseCache) set(key string, body []byte) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &cacheEntry{
		body:      body,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// flush drops every entry. Called after any mutating request so reads that
// follow a write observe the write.
func (c *responseCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*cacheEntry)
}
