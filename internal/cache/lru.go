package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUWithTTL is a size-bounded cache with per-entry expiry. It holds the
// working set of loaded series histories: the M5 corpus has 30k+
// item/store series, so a server keeps only the recently requested ones
// in memory and reloads the rest from the backing provider.
//
// The underlying LRU is synchronized and the hit/miss/eviction counters
// are atomics, so every method is safe to call from concurrent request
// handlers.
type LRUWithTTL[K comparable, V any] struct {
	cache *lru.Cache[K, entry[V]]
	ttl   time.Duration

	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLRUWithTTL creates a cache holding at most size entries, evicting
// the least recently used when full. A ttl of 0 disables expiry.
func NewLRUWithTTL[K comparable, V any](size int, ttl time.Duration) (*LRUWithTTL[K, V], error) {
	cache, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &LRUWithTTL[K, V]{
		cache: cache,
		ttl:   ttl,
	}, nil
}

// Get returns the cached value for key. Expired entries are treated as
// misses and dropped so they stop holding a cache slot.
func (c *LRUWithTTL[K, V]) Get(key K) (V, bool) {
	var zero V

	e, ok := c.cache.Get(key)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.cache.Remove(key)
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRUWithTTL[K, V]) Set(key K, value V) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if c.cache.Add(key, entry[V]{value: value, expiresAt: expiresAt}) {
		c.evicted.Add(1)
	}
}

// Delete removes a key from the cache.
func (c *LRUWithTTL[K, V]) Delete(key K) {
	c.cache.Remove(key)
}

// Len returns the number of entries currently held, expired or not.
func (c *LRUWithTTL[K, V]) Len() int {
	return c.cache.Len()
}

// Clear drops every entry. Counters are unaffected.
func (c *LRUWithTTL[K, V]) Clear() {
	c.cache.Purge()
}

// Stats is the counter snapshot exposed on the health endpoint.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns a snapshot of the cache counters.
func (c *LRUWithTTL[K, V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Evicted: c.evicted.Load(),
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}

// ResetStats zeroes the hit/miss/eviction counters.
func (c *LRUWithTTL[K, V]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evicted.Store(0)
}

// Close drops all entries.
func (c *LRUWithTTL[K, V]) Close() error {
	c.Clear()
	return nil
}

// CleanupExpired scans the cache and removes expired entries, returning
// the number removed. O(n) over the cache, so callers should run it from
// a periodic background task rather than the request path.
func (c *LRUWithTTL[K, V]) CleanupExpired() int {
	if c.ttl == 0 {
		return 0
	}

	now := time.Now()
	removed := 0
	for _, key := range c.cache.Keys() {
		if e, ok := c.cache.Peek(key); ok && now.After(e.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}
