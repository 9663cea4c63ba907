/*
Package types provides the boundary interfaces and shared data structures of bucketfs.

# Architecture Overview

bucketfs presents a bucket as a read-only directory tree:

	┌─────────────────────────────────────────────┐
	│              FUSE bridge                    │
	│        (cmd/bucketfs, internal/fuse)        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Filesystem operation handlers       │
	│            (internal/filesystem)            │
	└─────────────────────────────────────────────┘
	          │                 │
	┌─────────┴────────┐ ┌──────┴──────────────────┐
	│    Namespace     │ │   Metadata / content    │
	│ identity, synth  │ │        caches           │
	└──────────────────┘ └─────────────────────────┘
	          │                 │
	┌─────────┴─────────────────┴─────────────────┐
	│        ObjectStore (s3, minio, memory)      │
	└─────────────────────────────────────────────┘

# Store boundary

ObjectStore exposes exactly two remote operations. List is a prefix/delimiter
listing: Prefixes holds the common prefixes (future directories) and Objects
the keys directly under the prefix. Fetch returns a whole object body; partial
ranges are never requested.

Implementations report failures with the remote codes of pkg/errors
(REMOTE_UNAVAILABLE, REMOTE_TIMEOUT, REMOTE_NOT_FOUND) and apply their own
timeouts and retry policy. Layers above the boundary never retry.

Implementing a new store:

	type MyStore struct {
		client *myservice.Client
	}

	func (s *MyStore) List(ctx context.Context, prefix, delimiter string) (*types.Listing, error) {
		page, err := s.client.List(ctx, prefix, delimiter)
		if err != nil {
			return nil, errors.NewRemoteUnavailable("list", prefix, err)
		}
		return &types.Listing{Prefixes: page.Dirs, Objects: page.Files}, nil
	}

# Thread Safety

All interfaces in this package must be safe for concurrent use.
*/
package types
