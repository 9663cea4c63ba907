package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/internal/cache"
	"github.com/objectfs/bucketfs/internal/circuit"
	"github.com/objectfs/bucketfs/internal/config"
	"github.com/objectfs/bucketfs/internal/filesystem"
	"github.com/objectfs/bucketfs/internal/fuse"
	"github.com/objectfs/bucketfs/internal/metrics"
	"github.com/objectfs/bucketfs/internal/storage"
	"github.com/objectfs/bucketfs/internal/storage/memory"
	"github.com/objectfs/bucketfs/internal/storage/minio"
	"github.com/objectfs/bucketfs/internal/storage/s3"
	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/health"
	"github.com/objectfs/bucketfs/pkg/retry"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// Adapter owns every component between a FUSE bridge and the bucket for one
// mount session.
type Adapter struct {
	config    *config.Configuration
	sessionID string
	logger    *zap.Logger

	store   *storage.Store
	health  *health.Tracker
	meta    *cache.MetadataCache
	content *cache.ContentCache
	fs      *filesystem.FileSystem

	// scratch is a temporary content directory removed by Close.
	scratch string

	mu    sync.Mutex
	mount fuse.PlatformFileSystem
}

// New builds the store, both caches and the handler set described by cfg.
// recorder may be nil.
func New(ctx context.Context, cfg *config.Configuration, logger *zap.Logger, recorder types.MetricsCollector) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	logger = utils.OrNop(logger).With(zap.String("session", sessionID))

	backend, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	tracker := health.NewTracker(health.DefaultConfig())
	tracker.OnStateChange(func(component string, from, to health.HealthState, err error) {
		fields := []zap.Field{
			zap.String("component", component),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Warn("Health state changed", fields...)
	})

	store := storage.Wrap(backend, storage.Options{
		Name:           cfg.Store.Backend,
		RequestTimeout: cfg.Store.RequestTimeout,
		Retry: retry.Config{
			MaxAttempts:  cfg.Store.Retry.MaxAttempts,
			InitialDelay: cfg.Store.Retry.BaseDelay,
			MaxDelay:     cfg.Store.Retry.MaxDelay,
			Jitter:       true,
		},
		Circuit: circuit.Config{
			FailureThreshold: uint32(cfg.Store.CircuitBreaker.FailureThreshold),
			Timeout:          cfg.Store.CircuitBreaker.Timeout,
		},
		Logger:  logger,
		Metrics: recorder,
		Health:  tracker,
	})

	meta, err := cache.NewMetadataCache(cfg.Cache.MetadataEntries, recorder)
	if err != nil {
		return nil, err
	}
	maxSize, err := cfg.ContentMaxBytes()
	if err != nil {
		return nil, err
	}
	content, scratch, err := openContentCache(cfg.Cache.Directory, maxSize, recorder, logger)
	if err != nil {
		return nil, err
	}

	fsys := filesystem.New(store, meta, content, filesystem.Config{
		Prefix:    cfg.Store.Prefix,
		UID:       owner(cfg.Mount.UID, os.Getuid()),
		GID:       owner(cfg.Mount.GID, os.Getgid()),
		SessionID: sessionID,
		Epoch:     time.Now(),
	}, logger, recorder)

	return &Adapter{
		config:    cfg,
		sessionID: sessionID,
		logger:    logger,
		store:     store,
		health:    tracker,
		meta:      meta,
		content:   content,
		fs:        fsys,
		scratch:   scratch,
	}, nil
}

// SessionID returns the id of this mount session.
func (a *Adapter) SessionID() string { return a.sessionID }

// Logger returns the session-scoped logger.
func (a *Adapter) Logger() *zap.Logger { return a.logger }

// FileSystem returns the handler set.
func (a *Adapter) FileSystem() *filesystem.FileSystem { return a.fs }

// Store returns the resilient store wrapper.
func (a *Adapter) Store() *storage.Store { return a.store }

// Health returns the tracker fed by every store call.
func (a *Adapter) Health() *health.Tracker { return a.health }

// MonitorHealth probes the store periodically until ctx ends. Probes also
// restore a degraded store once the bucket answers again.
func (a *Adapter) MonitorHealth(ctx context.Context) {
	a.health.StartHealthChecks(ctx, func(ctx context.Context, _ string) error {
		return a.HealthCheck(ctx)
	})
}

// CacheDirectory returns the content directory actually in use.
func (a *Adapter) CacheDirectory() string { return a.content.Directory() }

// Gauges samples the values exported as metrics gauges.
func (a *Adapter) Gauges() metrics.Gauges {
	s := a.fs.Stats()
	return metrics.Gauges{
		Identities:      s.Identities,
		OpenHandles:     s.OpenHandles,
		MetadataEntries: s.Metadata.Entries,
		ContentFiles:    s.Content.Entries,
		ContentBytes:    s.Content.Size,
	}
}

// HealthCheck probes the store once, bounded by the request timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if a.config.Store.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Store.RequestTimeout)
		defer cancel()
	}
	if err := a.store.HealthCheck(ctx); err != nil {
		return errors.NewError(errors.ErrCodeMountFailed, "object store is not reachable").
			WithContext("backend", a.config.Store.Backend).
			WithContext("bucket", a.config.Store.Bucket).
			WithCause(err)
	}
	return nil
}

// Start checks the store and mounts at the configured mount point.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.HealthCheck(ctx); err != nil {
		return err
	}

	mountPoint, err := filepath.Abs(a.config.Mount.MountPoint)
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}
	mc := fuse.DefaultMountConfig(mountPoint)
	mc.AllowOther = a.config.Mount.AllowOther
	mc.AllowNonEmpty = a.config.Mount.AllowNonEmpty
	mc.Debug = a.config.Mount.Debug
	if a.config.Mount.FSName != "" {
		mc.FSName = a.config.Mount.FSName
	}
	if a.config.Mount.EntryTTL > 0 {
		mc.Timeout = a.config.Mount.EntryTTL
	}

	mgr := fuse.CreatePlatformMountManager(a.fs, mc, a.logger)
	if err := mgr.Mount(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.mount = mgr
	a.mu.Unlock()

	a.logger.Info("Serving bucket",
		zap.String("backend", a.config.Store.Backend),
		zap.String("bucket", a.config.Store.Bucket),
		zap.String("prefix", a.config.Store.Prefix),
		zap.String("mount_point", mountPoint),
		zap.String("cache_dir", a.CacheDirectory()))
	return nil
}

// Wait blocks until the FUSE server exits. It returns at once if Start has
// not mounted anything.
func (a *Adapter) Wait() {
	a.mu.Lock()
	mgr := a.mount
	a.mu.Unlock()
	if mgr != nil {
		mgr.Wait()
	}
}

// Stop unmounts if still mounted.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	mgr := a.mount
	a.mu.Unlock()

	if mgr == nil || !mgr.IsMounted() {
		return nil
	}
	return mgr.Unmount()
}

// Close releases open handles, the cache directory lock and any scratch
// directory. Cached files in the configured directory are kept.
func (a *Adapter) Close() error {
	a.fs.Close()
	err := a.content.Close()
	if a.scratch != "" {
		if rerr := os.RemoveAll(a.scratch); rerr != nil && err == nil {
			err = rerr
		}
	}

	s := a.fs.Stats()
	a.logger.Info("Session closed",
		zap.Int("identities", s.Identities),
		zap.Int64("reads", s.Reads),
		zap.Int64("bytes_read", s.BytesRead),
		zap.Int64("rejected_writes", s.Rejected),
		zap.Int64("errors", s.Errors))
	return err
}

// StorageLocation is a parsed storage URI.
type StorageLocation struct {
	Backend string
	Bucket  string
	Prefix  string
}

// ParseStorageURI parses s3://bucket/prefix, minio://bucket/prefix and
// memory:///prefix.
func ParseStorageURI(uri string) (StorageLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageLocation{}, invalidURI(uri, "failed to parse URI").WithCause(err)
	}

	loc := StorageLocation{
		Bucket: parsed.Host,
		Prefix: strings.TrimPrefix(parsed.Path, "/"),
	}
	switch parsed.Scheme {
	case "s3":
		loc.Backend = config.BackendS3
	case "minio":
		loc.Backend = config.BackendMinIO
	case "memory":
		loc.Backend = config.BackendMemory
		return loc, nil
	default:
		return StorageLocation{}, invalidURI(uri,
			fmt.Sprintf("unsupported storage scheme: %q (s3, minio and memory are supported)", parsed.Scheme))
	}

	if loc.Bucket == "" {
		return StorageLocation{}, invalidURI(uri, "storage URI must include a bucket name")
	}
	return loc, nil
}

// Apply copies the location into cfg.
func (l StorageLocation) Apply(cfg *config.Configuration) {
	cfg.Store.Backend = l.Backend
	if l.Bucket != "" {
		cfg.Store.Bucket = l.Bucket
	}
	if l.Prefix != "" {
		cfg.Store.Prefix = l.Prefix
	}
}

func invalidURI(uri, msg string) *errors.BucketFSError {
	return errors.NewError(errors.ErrCodeInvalidConfig, msg).
		WithComponent("adapter").
		WithContext("uri", uri)
}

// openBackend constructs the configured object store client.
func openBackend(ctx context.Context, sc config.StoreConfig, logger *zap.Logger) (types.ObjectStore, error) {
	switch sc.Backend {
	case config.BackendS3:
		return s3.NewBackend(ctx, sc.Bucket, &s3.Config{
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			Profile:         sc.Profile,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			SessionToken:    sc.SessionToken,
			ForcePathStyle:  sc.ForcePathStyle,
			MaxAttempts:     1,
		}, logger)

	case config.BackendMinIO:
		return minio.New(minio.Config{
			Endpoint:  sc.Endpoint,
			Bucket:    sc.Bucket,
			AccessKey: sc.AccessKeyID,
			SecretKey: sc.SecretAccessKey,
			Region:    sc.Region,
			UseSSL:    sc.UseSSL,
		}, logger)

	case config.BackendMemory:
		store := memory.New()
		if sc.SeedDir != "" {
			n, err := store.LoadDir(sc.SeedDir, utils.NormalizePrefix(sc.Prefix))
			if err != nil {
				return nil, errors.NewError(errors.ErrCodeInvalidConfig, "cannot load seed directory").
					WithContext("path", sc.SeedDir).
					WithCause(err)
			}
			logger.Info("Memory store seeded", zap.String("path", sc.SeedDir), zap.Int("objects", n))
		}
		return store, nil
	}
	return nil, errors.NewError(errors.ErrCodeInvalidConfig, "unknown store backend").
		WithContext("backend", sc.Backend)
}

// openContentCache opens dir, or a scratch directory when another process
// holds dir's lock. The scratch path is returned so it can be removed.
func openContentCache(dir string, maxSize int64, recorder types.MetricsCollector, logger *zap.Logger) (*cache.ContentCache, string, error) {
	content, err := cache.NewContentCache(cache.ContentConfig{Directory: dir, MaxSize: maxSize}, recorder, logger)
	if err == nil {
		return content, "", nil
	}
	if !stderrors.Is(err, cache.ErrDirectoryInUse) {
		return nil, "", err
	}

	scratch, terr := os.MkdirTemp("", "bucketfs-cache-")
	if terr != nil {
		return nil, "", err
	}
	logger.Info("Cache directory in use, using a scratch cache",
		zap.String("directory", dir),
		zap.String("scratch", scratch))
	content, err = cache.NewContentCache(cache.ContentConfig{Directory: scratch, MaxSize: maxSize}, recorder, logger)
	if err != nil {
		_ = os.RemoveAll(scratch)
		return nil, "", err
	}
	return content, scratch, nil
}

func owner(configured, current int) uint32 {
	if configured < 0 {
		return uint32(current)
	}
	return uint32(configured)
}
