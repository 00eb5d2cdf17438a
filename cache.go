package playground

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value     any
	writtenAt time.Time
	ttl       time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.writtenAt) > e.ttl
}

// Cache is a per-key, TTL-bounded store for idempotent list/read results.
// Get never returns an entry older than its TTL, while GetStale keeps serving
// the last written value regardless of age, enabling stale-while-revalidate.
// A Cache is scoped to one Playground instance.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	// now is swappable for tests.
	now func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Set stores value under key with the given TTL, replacing any prior entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, writtenAt: c.now(), ttl: ttl}
}

// Get returns the fresh value for key. Expired entries are evicted lazily
// here and reported as missing.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// GetStale returns the last written value for key even if it has expired.
// It only reports missing when the key was never written, or was deleted or
// evicted. Callers use this to serve stale data while a refresh is in flight.
func (c *Cache) GetStale(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// IsStale reports whether key holds an entry older than its TTL. A missing
// key is not stale, it is absent; use GetStale's second return to tell the
// two apart.
func (c *Cache) IsStale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && e.expired(c.now())
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
