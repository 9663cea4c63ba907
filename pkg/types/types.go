package types

import (
	"time"
)

// Kind distinguishes the two entry kinds the namespace knows about.
type Kind uint8

const (
	KindDirectory Kind = iota + 1
	KindFile
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// ObjectInfo represents metadata about an object as reported by the store.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
}

// Listing is the result of one prefix/delimiter listing. Prefixes carry the
// full common prefix including the trailing delimiter; Objects carry full keys.
type Listing struct {
	Prefixes []string     `json:"prefixes"`
	Objects  []ObjectInfo `json:"objects"`
}

// Metadata is the synthesized attribute record kept in the metadata cache.
type Metadata struct {
	Kind    Kind      `json:"kind"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	ETag    string    `json:"etag,omitempty"`
}

// IsDir reports whether the record describes a directory.
func (m Metadata) IsDir() bool {
	return m.Kind == KindDirectory
}

// DirEntry is one name emitted by a directory listing.
type DirEntry struct {
	Name string `json:"name"`
	ID   uint64 `json:"id"`
	Kind Kind   `json:"kind"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	Pinned      int     `json:"pinned"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}
