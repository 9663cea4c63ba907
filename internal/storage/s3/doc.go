/*
Package s3 implements the bucketfs object store over the AWS S3 API.

Backend exposes the two remote operations bucketfs needs, plus two optional
capabilities:

	List(ctx, prefix, delimiter)   ListObjectsV2, every page consumed
	Fetch(ctx, key)                GetObject, whole body
	Head(ctx, key)                 HeadObject
	HealthCheck(ctx)               HeadBucket

Failures are translated to the remote error codes of pkg/errors. A missing key
is REMOTE_NOT_FOUND and an expired deadline is REMOTE_TIMEOUT. Anything else is
REMOTE_UNAVAILABLE. The SDK's own retryer is limited to a single attempt by
default; backoff and circuit breaking are applied by internal/storage.

# Configuration

	store:
	  backend: s3
	  bucket: my-bucket
	  region: us-west-2
	  endpoint: http://localhost:9000   # optional, S3-compatible services
	  force_path_style: true

Credentials come from the default AWS chain (environment, shared config, IMDS)
unless static keys or a profile are configured.

# Usage

	backend, err := s3.NewBackend(ctx, "my-bucket", &s3.Config{Region: "us-west-2"}, logger)
	if err != nil {
		return err
	}
	store := storage.Wrap(backend, storage.Options{Name: "s3"})
*/
package s3
