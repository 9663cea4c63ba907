package types

import (
	"context"
	"time"
)

// ObjectStore is the remote boundary the namespace and caches consume.
// Implementations own timeouts and retry policy and report failures using the
// remote error codes from pkg/errors.
type ObjectStore interface {
	// List returns the immediate sub-prefixes and objects under prefix,
	// following continuation tokens until the listing is complete.
	List(ctx context.Context, prefix, delimiter string) (*Listing, error)

	// Fetch returns the full body of key.
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// ObjectHeader is implemented by stores that can describe a single object
// without listing its parent.
type ObjectHeader interface {
	Head(ctx context.Context, key string) (*ObjectInfo, error)
}

// HealthChecker is implemented by stores that can verify bucket access.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordCacheHit(tier string, size int64)
	RecordCacheMiss(tier string, size int64)
	RecordRemoteCall(operation string, duration time.Duration, err error)
	RecordError(operation string, err error)
}
