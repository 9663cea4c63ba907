// Package minio implements the bucketfs object store over minio-go, for
// MinIO and other S3-compatible services.
package minio

import (
	"context"
	stderrors "errors"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// Store serves one bucket through a minio client.
type Store struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// New creates a Store. No request is made until the first call.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, errors.NewError(errors.ErrCodeInvalidConfig, "failed to create minio client").
				WithComponent("minio").
				WithCause(err)
		}
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		logger: utils.OrNop(logger).With(zap.String("component", "minio"), zap.String("bucket", cfg.Bucket)),
	}, nil
}

// List implements types.ObjectStore. minio-go only groups on "/", so any
// other non-empty delimiter is rejected.
func (s *Store) List(ctx context.Context, prefix, delimiter string) (*types.Listing, error) {
	if delimiter != "" && delimiter != "/" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "unsupported delimiter").
			WithComponent("minio").
			WithContext("delimiter", delimiter)
	}

	out := &types.Listing{}
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: delimiter == "",
	}) {
		if object.Err != nil {
			return nil, translate(object.Err, "list", prefix)
		}

		// Common prefixes come back as key-only entries ending in "/".
		if delimiter != "" && object.Key != prefix && strings.HasSuffix(object.Key, delimiter) {
			out.Prefixes = append(out.Prefixes, object.Key)
			continue
		}
		out.Objects = append(out.Objects, types.ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ETag:         strings.Trim(object.ETag, `"`),
			ContentType:  object.ContentType,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, translate(err, "list", prefix)
	}
	return out, nil
}

// Fetch implements types.ObjectStore.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err, "fetch", key)
	}
	defer obj.Close()

	// GetObject is lazy; the first read surfaces NoSuchKey.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(err, "fetch", key)
	}
	return data, nil
}

// Head implements types.ObjectHeader.
func (s *Store) Head(ctx context.Context, key string) (*types.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, translate(err, "head", key)
	}
	return &types.ObjectInfo{
		Key:          key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ETag:         strings.Trim(info.ETag, `"`),
		ContentType:  info.ContentType,
	}, nil
}

// HealthCheck implements types.HealthChecker.
func (s *Store) HealthCheck(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return translate(err, "health", "")
	}
	if !ok {
		return errors.NewRemoteUnavailable("health", "", stderrors.New("bucket does not exist")).
			WithContext("bucket", s.bucket)
	}
	s.logger.Debug("Bucket reachable")
	return nil
}

// translate maps minio errors onto the remote error codes.
func translate(err error, operation, key string) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewRemoteTimeout(operation, key, err)
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return errors.NewRemoteNotFound(operation, key, err)
	case "RequestTimeout":
		return errors.NewRemoteTimeout(operation, key, err)
	}
	return errors.NewRemoteUnavailable(operation, key, err)
}
