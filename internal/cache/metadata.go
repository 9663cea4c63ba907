package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/objectfs/bucketfs/pkg/types"
)

// DefaultMetadataEntries is the metadata cache capacity used when none is
// configured.
const DefaultMetadataEntries = 1000

// MetadataCache is the bounded, recency-ordered path -> attributes cache.
// Evicting a record never touches the identity of its path.
type MetadataCache struct {
	lru      *lru.Cache[string, types.Metadata]
	capacity int
	metrics  types.MetricsCollector

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewMetadataCache creates a metadata cache holding at most maxEntries records.
func NewMetadataCache(maxEntries int, metrics types.MetricsCollector) (*MetadataCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMetadataEntries
	}
	l, err := lru.New[string, types.Metadata](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}
	return &MetadataCache{lru: l, capacity: maxEntries, metrics: metrics}, nil
}

// Get returns the record for path and marks it most recently used.
func (c *MetadataCache) Get(path string) (types.Metadata, bool) {
	meta, ok := c.lru.Get(path)
	if ok {
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.RecordCacheHit("metadata", 0)
		}
	} else {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.RecordCacheMiss("metadata", 0)
		}
	}
	return meta, ok
}

// Put stores the record for path, evicting the least recently used record
// when the cache is full.
func (c *MetadataCache) Put(path string, meta types.Metadata) {
	if c.lru.Add(path, meta) {
		c.evictions.Add(1)
	}
}

// Invalidate drops the record for path.
func (c *MetadataCache) Invalidate(path string) {
	c.lru.Remove(path)
}

// Contains reports residency without touching recency.
func (c *MetadataCache) Contains(path string) bool {
	return c.lru.Contains(path)
}

// Len returns the number of resident records.
func (c *MetadataCache) Len() int {
	return c.lru.Len()
}

// Clear drops every record.
func (c *MetadataCache) Clear() {
	c.lru.Purge()
}

// Stats returns a snapshot of cache statistics.
func (c *MetadataCache) Stats() types.CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := types.CacheStats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Entries:   c.lru.Len(),
		Size:      int64(c.lru.Len()),
		Capacity:  int64(c.capacity),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	return stats
}
