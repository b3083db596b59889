// Package blobcache caches compiled shader blobs by 64-bit content hash.
//
// The cache is a soft-limited LRU: once it grows past the limit, the least
// recently used quarter of the entries is dropped. Failed builds are never
// cached, so a fixed shader is rebuilt on the next request.
package blobcache

import (
	"sync"
	"sync/atomic"
)

// Cache maps a content hash to a compiled value.
//
// Cache is safe for concurrent use and must not be copied after creation.
type Cache[V any] struct {
	mu        sync.Mutex
	entries   map[uint64]*entry[V]
	softLimit int
	tick      int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type entry[V any] struct {
	value V
	atime int64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Len       int
	Limit     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// New creates a cache. A softLimit of 0 means unlimited.
func New[V any](softLimit int) *Cache[V] {
	return &Cache[V]{
		entries:   make(map[uint64]*entry[V]),
		softLimit: softLimit,
	}
}

// Get returns the value stored under key.
func (c *Cache[V]) Get(key uint64) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.tick++
	e.atime = c.tick
	c.hits.Add(1)
	return e.value, true
}

// GetOrBuild returns the cached value for key, or calls build and caches its
// result. build runs under the cache lock so two callers never compile the
// same blob twice. An error from build is returned as-is and nothing is stored.
func (c *Cache[V]) GetOrBuild(key uint64, build func() (V, error)) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if e, ok := c.entries[key]; ok {
		e.atime = c.tick
		c.hits.Add(1)
		return e.value, true, nil
	}
	c.misses.Add(1)

	v, err := build()
	if err != nil {
		var zero V
		return zero, false, err
	}
	c.entries[key] = &entry[V]{value: v, atime: c.tick}
	if c.softLimit > 0 && len(c.entries) > c.softLimit {
		c.evictOldest()
	}
	return v, false, nil
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear drops every entry. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*entry[V])
	c.tick = 0
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Len:       n,
		Limit:     c.softLimit,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// evictOldest trims the cache to three quarters of the soft limit.
// Caller must hold c.mu.
func (c *Cache[V]) evictOldest() {
	target := max(c.softLimit*3/4, 1)
	for len(c.entries) > target {
		var (
			oldestKey  uint64
			oldestTime int64 = -1
		)
		for k, e := range c.entries {
			if oldestTime < 0 || e.atime < oldestTime {
				oldestKey, oldestTime = k, e.atime
			}
		}
		delete(c.entries, oldestKey)
		c.evictions.Add(1)
	}
}
