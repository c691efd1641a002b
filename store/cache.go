package store

import (
	"sync"
	"time"
)

type cacheEntry struct {
	record    *Record
	expiresAt time.Time
}

// cache is a TTL read cache over stored records, keyed by KV key.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// get returns the cached record for the key, or nil if absent or expired.
func (c *cache) get(key string) *Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.record
}

// put stores a record under the key with the configured TTL.
func (c *cache) put(key string, record *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		record:    record,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// invalidate drops the entry for a single key.
func (c *cache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// clear drops every entry.
func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
}
