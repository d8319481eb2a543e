package abac

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DecisionCache stores recent decisions keyed by subject, object, action and
// context fingerprint. InvalidateAll is wholesale: any policy mutation drops
// every entry, so staleness is bounded by the TTL alone.
type DecisionCache interface {
	Get(key string) (*Decision, bool)
	Put(key string, d *Decision, ttl time.Duration)
	InvalidateAll()
}

type cacheEntry struct {
	decision *Decision
	expires  time.Time
}

// memoryCache is the default deterministic mutex-map cache with per-entry
// expiry checked on read.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache returns the default decision cache.
func NewMemoryCache() DecisionCache {
	return &memoryCache{entries: make(map[string]cacheEntry)}
}

func (c *memoryCache) Get(key string) (*Decision, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.decision, true
}

func (c *memoryCache) Put(key string, d *Decision, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{decision: d, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *memoryCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// RistrettoCache adapts a ristretto cache for decision storage. Ristretto's
// admission policy may decline individual writes, which only costs a
// recomputation later.
type RistrettoCache struct {
	cache *ristretto.Cache
}

// RistrettoSettings sizes the underlying cache. Zero values fall back to
// defaults suitable for tens of thousands of live entries.
type RistrettoSettings struct {
	NumCounters int64 `json:"num_counters" yaml:"num_counters"`
	MaxCost     int64 `json:"max_cost" yaml:"max_cost"`
	BufferItems int64 `json:"buffer_items" yaml:"buffer_items"`
}

func NewRistrettoCache(s RistrettoSettings) (*RistrettoCache, error) {
	if s.NumCounters <= 0 {
		s.NumCounters = 100_000
	}
	if s.MaxCost <= 0 {
		s.MaxCost = 10_000
	}
	if s.BufferItems <= 0 {
		s.BufferItems = 64
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: s.NumCounters,
		MaxCost:     s.MaxCost,
		BufferItems: s.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{cache: cache}, nil
}

func (c *RistrettoCache) Get(key string) (*Decision, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	d, ok := v.(*Decision)
	return d, ok
}

func (c *RistrettoCache) Put(key string, d *Decision, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.cache.SetWithTTL(key, d, 1, ttl)
}

func (c *RistrettoCache) InvalidateAll() {
	c.cache.Clear()
}
