package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// Backend serves one bucket over the S3 API.
type Backend struct {
	client   API
	bucket   string
	pageSize int32
	logger   *zap.Logger
	metrics  *MetricsCollector
}

// NewBackend connects to bucket using cfg.
func NewBackend(ctx context.Context, bucket string, cfg *Config, logger *zap.Logger) (*Backend, error) {
	if bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "cannot build S3 client").
			WithComponent("s3").
			WithCause(err)
	}
	return NewBackendWithClient(client, bucket, cfg, logger), nil
}

// NewBackendWithClient wraps an existing client.
func NewBackendWithClient(client API, bucket string, cfg *Config, logger *zap.Logger) *Backend {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	return &Backend{
		client:   client,
		bucket:   bucket,
		pageSize: cfg.PageSize,
		logger:   utils.OrNop(logger).With(zap.String("component", "s3"), zap.String("bucket", bucket)),
		metrics:  NewMetricsCollector(),
	}
}

// List implements types.ObjectStore. Every page is consumed before
// returning.
func (b *Backend) List(ctx context.Context, prefix, delimiter string) (*types.Listing, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}
	if b.pageSize > 0 {
		input.MaxKeys = aws.Int32(b.pageSize)
	}

	out := &types.Listing{}
	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		b.metrics.RecordRequest(time.Since(start), err)
		if err != nil {
			return nil, b.translateError(err, "list", prefix)
		}
		b.metrics.RecordListPage()

		for _, p := range page.CommonPrefixes {
			out.Prefixes = append(out.Prefixes, aws.ToString(p.Prefix))
		}
		for _, obj := range page.Contents {
			out.Objects = append(out.Objects, types.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         normalizeETag(aws.ToString(obj.ETag)),
			})
		}
	}

	b.logger.Debug("Listed prefix",
		zap.String("prefix", prefix),
		zap.Int("prefixes", len(out.Prefixes)),
		zap.Int("objects", len(out.Objects)))
	return out, nil
}

// Fetch implements types.ObjectStore.
func (b *Backend) Fetch(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		b.metrics.RecordRequest(time.Since(start), err)
		return nil, b.translateError(err, "fetch", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	b.metrics.RecordRequest(time.Since(start), err)
	if err != nil {
		return nil, b.translateError(fmt.Errorf("failed to read object body: %w", err), "fetch", key)
	}
	b.metrics.RecordBytesDownloaded(int64(len(data)))
	return data, nil
}

// Head implements types.ObjectHeader.
func (b *Backend) Head(ctx context.Context, key string) (*types.ObjectInfo, error) {
	start := time.Now()
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	b.metrics.RecordRequest(time.Since(start), err)
	if err != nil {
		return nil, b.translateError(err, "head", key)
	}

	return &types.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		LastModified: aws.ToTime(result.LastModified),
		ETag:         normalizeETag(aws.ToString(result.ETag)),
		ContentType:  aws.ToString(result.ContentType),
	}, nil
}

// HealthCheck implements types.HealthChecker.
func (b *Backend) HealthCheck(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	b.metrics.RecordRequest(time.Since(start), err)
	if err != nil {
		return b.translateError(err, "health", "")
	}
	return nil
}

// GetMetrics returns current backend metrics
func (b *Backend) GetMetrics() BackendMetrics {
	return b.metrics.GetMetrics()
}

// Bucket returns the bucket name.
func (b *Backend) Bucket() string {
	return b.bucket
}

func (b *Backend) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return errors.NewRemoteNotFound(operation, key, err)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.NewRemoteUnavailable(operation, key, err).WithContext("bucket", b.bucket)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewRemoteTimeout(operation, key, err)
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return errors.NewRemoteNotFound(operation, key, err)
		case "RequestTimeout", "RequestTimeoutException":
			return errors.NewRemoteTimeout(operation, key, err)
		}
	}
	return errors.NewRemoteUnavailable(operation, key, err)
}

// normalizeETag strips the quotes S3 puts around entity tags.
func normalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
