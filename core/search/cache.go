package search

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adalundhe/recall/core/memory"
	"github.com/dgraph-io/ristretto"
)

type CacheConfig struct {
	// MaxCost bounds the total number of cached hits.
	MaxCost int64
	TTL     time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxCost: 10000,
		TTL:     5 * time.Minute,
	}
}

// ResultCache memoizes merged search results. Clear bumps a generation so
// that searches started before a write cannot repopulate the cache with
// stale results.
type ResultCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
	gen   atomic.Uint64
}

func NewResultCache(config CacheConfig) (*ResultCache, error) {
	if config.MaxCost <= 0 {
		config.MaxCost = DefaultCacheConfig().MaxCost
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.MaxCost * 10,
		MaxCost:     config.MaxCost,
		BufferItems: 64,
		// cost is the hit count, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &ResultCache{cache: cache, ttl: config.TTL}, nil
}

// CacheKey identifies a routed query. Whitespace in the query is collapsed.
func CacheKey(query string, plan Plan, filters memory.Filters) string {
	return fmt.Sprintf("%s|%s|%d|%g|%s",
		strings.Join(strings.Fields(query), " "), plan.Method, plan.Limit, plan.Threshold, filters.Key())
}

// Generation is captured before a search and handed back to Put.
func (c *ResultCache) Generation() uint64 {
	return c.gen.Load()
}

func (c *ResultCache) Get(key string) ([]memory.SearchHit, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := v.(cacheEntry)
	if !ok || entry.gen != c.gen.Load() {
		return nil, false
	}
	return cloneHits(entry.hits), true
}

// Put stores hits unless the cache was cleared since gen was read.
func (c *ResultCache) Put(key string, gen uint64, hits []memory.SearchHit) {
	if gen != c.gen.Load() {
		return
	}
	cost := max(int64(len(hits)), 1)
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, cacheEntry{gen: gen, hits: cloneHits(hits)}, cost, c.ttl)
	} else {
		c.cache.Set(key, cacheEntry{gen: gen, hits: cloneHits(hits)}, cost)
	}
	c.cache.Wait()
}

// Clear drops every cached result.
func (c *ResultCache) Clear() {
	c.gen.Add(1)
	c.cache.Clear()
}

func (c *ResultCache) Close() {
	c.cache.Close()
}

type cacheEntry struct {
	gen  uint64
	hits []memory.SearchHit
}

// cloneHits copies hits deeply enough that callers cannot reach cached
// slices or graph contexts.
func cloneHits(hits []memory.SearchHit) []memory.SearchHit {
	out := make([]memory.SearchHit, len(hits))
	for i, h := range hits {
		h.Record = h.Record.Clone()
		h.Origins = slices.Clone(h.Origins)
		h.GraphContext = cloneGraphContext(h.GraphContext)
		out[i] = h
	}
	return out
}
