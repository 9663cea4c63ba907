package filesystem

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/internal/cache"
	"github.com/objectfs/bucketfs/internal/namespace"
	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// Config holds handler settings that are not cache or store parameters.
type Config struct {
	// Prefix is the bucket prefix presented as "/".
	Prefix string

	// UID and GID own every entry.
	UID uint32
	GID uint32

	// SessionID identifies this mount in logs and extended attributes.
	SessionID string

	// Epoch is the modification time of directories. Zero means now.
	Epoch time.Time
}

// FileSystem ties the identity table, synthesizer, caches and store together
// behind the operations a FUSE bridge calls.
type FileSystem struct {
	store   types.ObjectStore
	table   *namespace.Table
	synth   *namespace.Synthesizer
	meta    *cache.MetadataCache
	content *cache.ContentCache

	config  Config
	logger  *zap.Logger
	metrics types.MetricsCollector

	mu         sync.Mutex
	openFiles  map[uint64]*openFile
	nextHandle uint64

	stats Stats
}

// openFile is the state behind one open file handle. The content handle is
// acquired on first read and pins the cached copy until release.
type openFile struct {
	id   uint64
	path string

	mu      sync.Mutex
	content *cache.Handle
}

// Stats tracks filesystem operation statistics
type Stats struct {
	Lookups   atomic.Int64
	Getattrs  atomic.Int64
	Readdirs  atomic.Int64
	Opens     atomic.Int64
	Reads     atomic.Int64
	BytesRead atomic.Int64
	Rejected  atomic.Int64
	Errors    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the filesystem counters.
type StatsSnapshot struct {
	SessionID   string           `json:"session_id"`
	Identities  int              `json:"identities"`
	OpenHandles int              `json:"open_handles"`
	Lookups     int64            `json:"lookups"`
	Getattrs    int64            `json:"getattrs"`
	Readdirs    int64            `json:"readdirs"`
	Opens       int64            `json:"opens"`
	Reads       int64            `json:"reads"`
	BytesRead   int64            `json:"bytes_read"`
	Rejected    int64            `json:"rejected_writes"`
	Errors      int64            `json:"errors"`
	Metadata    types.CacheStats `json:"metadata_cache"`
	Content     types.CacheStats `json:"content_cache"`
}

// New creates the handler set over store with the given caches.
func New(store types.ObjectStore, meta *cache.MetadataCache, content *cache.ContentCache, cfg Config, logger *zap.Logger, metrics types.MetricsCollector) *FileSystem {
	if cfg.Epoch.IsZero() {
		cfg.Epoch = time.Now()
	}
	logger = utils.OrNop(logger)
	table := namespace.NewTable()
	synth := namespace.NewSynthesizer(store, table, meta, namespace.Config{
		Prefix: cfg.Prefix,
		Epoch:  cfg.Epoch,
	}, logger)

	return &FileSystem{
		store:      store,
		table:      table,
		synth:      synth,
		meta:       meta,
		content:    content,
		config:     cfg,
		logger:     logger.With(zap.String("component", "filesystem")),
		metrics:    metrics,
		openFiles:  make(map[uint64]*openFile),
		nextHandle: 1,
	}
}

// Table returns the identity table.
func (fs *FileSystem) Table() *namespace.Table {
	return fs.table
}

// Stats returns current filesystem statistics
func (fs *FileSystem) Stats() StatsSnapshot {
	fs.mu.Lock()
	open := len(fs.openFiles)
	fs.mu.Unlock()

	snap := StatsSnapshot{
		SessionID:   fs.config.SessionID,
		Identities:  fs.table.Len(),
		OpenHandles: open,
		Lookups:     fs.stats.Lookups.Load(),
		Getattrs:    fs.stats.Getattrs.Load(),
		Readdirs:    fs.stats.Readdirs.Load(),
		Opens:       fs.stats.Opens.Load(),
		Reads:       fs.stats.Reads.Load(),
		BytesRead:   fs.stats.BytesRead.Load(),
		Rejected:    fs.stats.Rejected.Load(),
		Errors:      fs.stats.Errors.Load(),
	}
	if fs.meta != nil {
		snap.Metadata = fs.meta.Stats()
	}
	if fs.content != nil {
		snap.Content = fs.content.Stats()
	}
	return snap
}

// ClearCaches drops every metadata record and every unpinned content file.
// Identities are kept.
func (fs *FileSystem) ClearCaches() int {
	if fs.meta != nil {
		fs.meta.Clear()
	}
	if fs.content == nil {
		return 0
	}
	return fs.content.Clear()
}

// Close releases every open handle.
func (fs *FileSystem) Close() {
	fs.mu.Lock()
	files := fs.openFiles
	fs.openFiles = make(map[uint64]*openFile)
	fs.mu.Unlock()

	for _, f := range files {
		f.release()
	}
}

// observe records an operation's outcome in stats, metrics and logs. Corrupted
// namespace errors are always logged at error level since they indicate a bug.
func (fs *FileSystem) observe(op string, start time.Time, size int64, err error) {
	if fs.metrics != nil {
		fs.metrics.RecordOperation(op, time.Since(start), size, err == nil)
	}
	if err == nil {
		return
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeRemoteNotFound, errors.ErrCodeNoAttribute:
		fs.logger.Debug("operation failed", zap.String("op", op), zap.Error(err))
		return
	case errors.ErrCodeReadOnly:
		fs.stats.Rejected.Add(1)
		return
	case errors.ErrCodeCorruptedNamespace:
		fs.logger.Error("namespace invariant violated", zap.String("op", op), zap.Error(err))
	default:
		fs.logger.Warn("operation failed", zap.String("op", op), zap.Error(err))
	}
	fs.stats.Errors.Add(1)
	if fs.metrics != nil {
		fs.metrics.RecordError(op, err)
	}
}

func (f *openFile) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.content != nil {
		_ = f.content.Release()
		f.content = nil
	}
}
