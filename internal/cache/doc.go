/*
Package cache provides the two cache tiers that sit between the filesystem
handlers and the object store.

# Cache Architecture

	┌─────────────────────────────────────────────┐
	│         Filesystem operation handlers       │
	└─────────────────────────────────────────────┘
	          │                        │
	┌─────────┴──────────┐  ┌──────────┴──────────┐
	│  MetadataCache     │  │   ContentCache      │
	│  path -> attrs     │  │   path -> file      │
	│  in memory, LRU    │  │   on disk, LRU by   │
	│  by entry count    │  │   bytes, pinning    │
	└────────────────────┘  └─────────────────────┘
	          │                        │
	┌─────────┴────────────────────────┴──────────┐
	│                ObjectStore                  │
	└─────────────────────────────────────────────┘

MetadataCache is filled as a side effect of directory listings and consulted
by getattr. It is backed by hashicorp/golang-lru and bounded by entry count.

ContentCache stores whole objects, one file per object, under
<dir>/<first two hex chars>/<blake3(path)>.obj. Bodies are written to a
temporary file and renamed into place, so a present file is always complete.
Handles returned by Get, Put and GetOrFetch pin their entry; eviction walks the
recency list from the least recently used end and skips pinned entries.
GetOrFetch collapses concurrent misses for one path into a single fetch.

The directory is locked with an flock while a ContentCache owns it. Files left
by a previous owner are indexed at startup and adopted the first time their
path is requested.

# Usage

	meta, _ := cache.NewMetadataCache(1000, collector)
	content, err := cache.NewContentCache(cache.ContentConfig{
		Directory: "/var/cache/bucketfs",
		MaxSize:   10 << 30,
	}, collector, logger)
	if err != nil {
		return err
	}
	defer content.Close()

	h, err := content.GetOrFetch(ctx, "/data/file1.txt", func(ctx context.Context) ([]byte, error) {
		return store.Fetch(ctx, "data/file1.txt")
	})
	if err != nil {
		return err
	}
	defer h.Release()
	n, err := h.ReadAt(buf, off)
*/
package cache
