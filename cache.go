package tangguh

import (
	"hash/fnv"
	"net/http"
	"sync"
	"time"
)

// CacheEntry is a cached response with its freshness bounds.
type CacheEntry struct {
	Response  *Response
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Cache stores settled responses keyed by request fingerprint. Implementations
// must be safe for concurrent use. Only successful GET responses are stored by
// the pipeline; the cache itself is policy-free.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
	Len() int

	// DeleteExpired drops stale entries and reports how many were removed.
	// The client's background sweeper calls this on a fixed interval.
	DeleteExpired() int
}

// CacheCondition decides whether a request is eligible for caching.
type CacheCondition func(req *Request) bool

// DefaultCacheCondition caches GET requests only.
func DefaultCacheCondition(req *Request) bool {
	return req.Method == http.MethodGet
}

// CacheKeyFunc overrides how cache and coalescing keys are derived.
type CacheKeyFunc func(req *Request) string

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64

	// Evictions counts entries removed by background sweeps. Entries that
	// lapse between sweeps surface as misses when read.
	Evictions uint64
	Sweeps    uint64
}

const cacheShardCount = 16

// InMemoryCache is the default Cache: a sharded map with per-shard locking so
// concurrent lookups on different keys rarely contend.
type InMemoryCache struct {
	shards [cacheShardCount]*cacheShard
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache returns an empty sharded cache.
func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{}
	for i := range c.shards {
		c.shards[i] = &cacheShard{store: make(map[string]*CacheEntry)}
	}
	return c
}

func (c *InMemoryCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%cacheShardCount]
}

// Get returns a live entry. Expired entries are evicted on the spot and
// reported as misses.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	shard := c.shard(key)

	shard.mu.RLock()
	entry, ok := shard.store[key]
	shard.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		shard.mu.Lock()
		// Re-check under the write lock: a fresh entry may have replaced
		// the stale one while we were upgrading.
		if current, still := shard.store[key]; still && current == entry {
			delete(shard.store, key)
		}
		shard.mu.Unlock()
		return nil, false
	}

	return entry, true
}

// Set stores entry under key for ttl.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	now := time.Now()
	entry.StoredAt = now
	entry.ExpiresAt = now.Add(ttl)

	shard := c.shard(key)
	shard.mu.Lock()
	shard.store[key] = entry
	shard.mu.Unlock()
}

// Delete removes key.
func (c *InMemoryCache) Delete(key string) {
	shard := c.shard(key)
	shard.mu.Lock()
	delete(shard.store, key)
	shard.mu.Unlock()
}

// Clear drops every entry.
func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// Len reports the current entry count, expired entries included.
func (c *InMemoryCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// DeleteExpired removes every stale entry and returns the count.
func (c *InMemoryCache) DeleteExpired() int {
	now := time.Now()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.store {
			if now.After(entry.ExpiresAt) {
				delete(shard.store, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
