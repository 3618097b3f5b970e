// Package cache provides a TTL-bounded query result cache with
// prefix-pattern invalidation.
//
// Keys are free-form strings; by convention the router uses "node:<id>",
// "edge:<id>" and "query:<fingerprint>". When a key contains a ':' the cache
// also registers it under the "<prefix>:*" pattern, so a single
// Invalidate("query:*") drops every cached query result without touching
// cached entities.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL applies when NewQueryCache is given a non-positive TTL.
const DefaultTTL = 300 * time.Second

type entry struct {
	data      any
	timestamp time.Time
}

// QueryCache is a concurrency-safe map of cached results with a single TTL.
// Expiry is lazy: an entry past its TTL is evicted on the Get that finds it,
// or by an explicit Cleanup sweep.
type QueryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]*entry
	patterns map[string]map[string]struct{}
	hits     uint64
	misses   uint64
}

// NewQueryCache returns a cache whose entries expire ttl after being set.
func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &QueryCache{
		ttl:      ttl,
		entries:  make(map[string]*entry),
		patterns: make(map[string]map[string]struct{}),
	}
}

// Get returns the cached value for key. The second return is false on a
// miss; an expired entry counts as a miss and is evicted.
func (c *QueryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Since(e.timestamp) >= c.ttl {
		c.evictLocked(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.data, true
}

// Set stores value under key, resetting its TTL clock.
func (c *QueryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{data: value, timestamp: time.Now()}
	if i := strings.IndexByte(key, ':'); i >= 0 {
		pattern := key[:i+1] + "*"
		keys, ok := c.patterns[pattern]
		if !ok {
			keys = make(map[string]struct{})
			c.patterns[pattern] = keys
		}
		keys[key] = struct{}{}
	}
}

// Invalidate removes a single key, or every key registered under a
// "<prefix>:*" pattern. It returns the number of entries removed.
func (c *QueryCache) Invalidate(keyOrPattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.HasSuffix(keyOrPattern, ":*") {
		keys, ok := c.patterns[keyOrPattern]
		if !ok {
			return 0
		}
		n := 0
		for key := range keys {
			if _, present := c.entries[key]; present {
				delete(c.entries, key)
				n++
			}
		}
		delete(c.patterns, keyOrPattern)
		return n
	}

	if _, ok := c.entries[keyOrPattern]; !ok {
		return 0
	}
	c.evictLocked(keyOrPattern)
	return 1
}

// Clear drops every entry and pattern registration. Hit and miss counters
// survive a Clear.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.patterns = make(map[string]map[string]struct{})
}

// Cleanup sweeps expired entries eagerly and returns how many it removed.
func (c *QueryCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if time.Since(e.timestamp) >= c.ttl {
			c.evictLocked(key)
			n++
		}
	}
	return n
}

// Len reports the number of live entries, expired or not.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports lifetime hit and miss counts.
func (c *QueryCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// evictLocked removes key from the entry map and from any pattern set that
// references it. Callers must hold mu.
func (c *QueryCache) evictLocked(key string) {
	delete(c.entries, key)
	if i := strings.IndexByte(key, ':'); i >= 0 {
		pattern := key[:i+1] + "*"
		if keys, ok := c.patterns[pattern]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.patterns, pattern)
			}
		}
	}
}
