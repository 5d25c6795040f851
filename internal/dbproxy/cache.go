package dbproxy

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	value  []byte
	source time.Time
}

// CacheStats are cumulative counters.
type CacheStats struct {
	Entries       int
	Hits          uint64
	Misses        uint64
	Invalidations uint64
}

// Cache is a bounded read-through cache of slow-changing rows, keyed by
// table and key. It is safe for concurrent use.
type Cache struct {
	lru *lru.Cache[string, cacheEntry]
	now func() time.Time

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
}

func NewCache(entries int) (*Cache, error) {
	if entries <= 0 {
		entries = 1024
	}
	l, err := lru.New[string, cacheEntry](entries)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, now: time.Now}, nil
}

func cacheKey(table, key string) string { return table + "/" + key }

// Get returns the cached value and when it was read from the store.
func (c *Cache) Get(table, key string) ([]byte, time.Time, bool) {
	e, ok := c.lru.Get(cacheKey(table, key))
	if !ok {
		c.misses.Add(1)
		return nil, time.Time{}, false
	}
	c.hits.Add(1)
	return e.value, e.source, true
}

func (c *Cache) Put(table, key string, value []byte) {
	c.lru.Add(cacheKey(table, key), cacheEntry{value: value, source: c.now()})
}

// Invalidate drops the entry after a completed write. It counts every
// call and reports whether an entry was present.
func (c *Cache) Invalidate(table, key string) bool {
	c.invalidations.Add(1)
	return c.lru.Remove(cacheKey(table, key))
}

func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries:       c.lru.Len(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
