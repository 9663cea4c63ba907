package cache

import (
	"bytes"
	"container/list"
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

const (
	objectSuffix = ".obj"
	tempPrefix   = ".fetch-"
	lockName     = ".lock"
)

// ErrDirectoryInUse is the cause when another process holds the cache lock.
var ErrDirectoryInUse = stderrors.New("cache directory is in use by another mount")

// ContentConfig represents content cache configuration
type ContentConfig struct {
	Directory string `yaml:"directory"`
	MaxSize   int64  `yaml:"max_size"` // 0 means unbounded
}

// ContentCache keeps whole object bodies on disk, one file per object. File
// names are derived from the object path so a path always maps to the same
// file for the lifetime of the directory.
type ContentCache struct {
	mu          sync.Mutex
	directory   string
	maxSize     int64
	currentSize int64
	entries     map[string]*contentEntry // by file name
	order       *list.List               // front is most recently used

	fetches singleflight.Group
	lock    *flock.Flock
	logger  *zap.Logger
	metrics types.MetricsCollector

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	closed    bool
}

type contentEntry struct {
	name       string
	path       string // empty for files left by an earlier session
	size       int64
	pins       int
	lastAccess time.Time
	element    *list.Element
}

// Fetcher loads the full body of an object path.
type Fetcher func(ctx context.Context) ([]byte, error)

// NewContentCache opens (creating if needed) a content cache directory and
// takes an exclusive lock on it.
func NewContentCache(cfg ContentConfig, metrics types.MetricsCollector, logger *zap.Logger) (*ContentCache, error) {
	if cfg.Directory == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "content cache directory is required")
	}
	if cfg.MaxSize < 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "content cache max size cannot be negative")
	}
	if err := os.MkdirAll(cfg.Directory, 0750); err != nil {
		return nil, errors.NewCacheIO("open", cfg.Directory, err)
	}

	lock := flock.New(filepath.Join(cfg.Directory, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.NewCacheIO("lock", cfg.Directory, err)
	}
	if !locked {
		return nil, errors.NewError(errors.ErrCodeCacheIO, "cannot lock cache directory").
			WithContext("path", cfg.Directory).
			WithCause(ErrDirectoryInUse)
	}

	c := &ContentCache{
		directory: cfg.Directory,
		maxSize:   cfg.MaxSize,
		entries:   make(map[string]*contentEntry),
		order:     list.New(),
		lock:      lock,
		logger:    utils.OrNop(logger).With(zap.String("component", "content_cache")),
		metrics:   metrics,
	}

	if err := c.scan(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.evictLocked()
	c.mu.Unlock()

	return c, nil
}

// FileName returns the cache file name for an object path.
func FileName(path string) string {
	sum := blake3.Sum256([]byte(utils.NormalizePath(path)))
	return hex.EncodeToString(sum[:]) + objectSuffix
}

func (c *ContentCache) filePath(name string) string {
	return filepath.Join(c.directory, name[:2], name)
}

// Get returns a pinned handle for path, or false on a miss. The caller must
// Release the handle.
func (c *ContentCache) Get(path string) (*Handle, bool) {
	h, err := c.acquire(path)
	if err != nil || h == nil {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.RecordCacheMiss("content", 0)
		}
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.RecordCacheHit("content", h.size)
	}
	return h, true
}

// Put stores data as the content of path and returns a pinned handle to it.
func (c *ContentCache) Put(path string, data []byte) (*Handle, error) {
	e, err := c.insert(path, data, true)
	if err != nil {
		return nil, err
	}
	return c.open(e)
}

// GetOrFetch returns a pinned handle for path, calling fetch on a miss.
// Concurrent callers for the same path share one fetch.
func (c *ContentCache) GetOrFetch(ctx context.Context, path string, fetch Fetcher) (*Handle, error) {
	if h, ok := c.Get(path); ok {
		return h, nil
	}

	path = utils.NormalizePath(path)
	v, err, _ := c.fetches.Do(path, func() (interface{}, error) {
		// A flight that finished just before this one started has
		// already stored the body.
		if e := c.peek(path); e != nil {
			return nil, nil
		}
		data, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if _, err := c.insert(path, data, false); err != nil {
			c.logger.Warn("failed to store object, serving from memory",
				zap.String("path", path), zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	h, aerr := c.acquire(path)
	if aerr == nil && h != nil {
		return h, nil
	}
	if data, ok := v.([]byte); ok {
		// Evicted between store and pin; the flight's bytes are still good.
		return MemoryHandle(data), nil
	}
	if aerr != nil {
		return nil, aerr
	}
	return nil, errors.NewError(errors.ErrCodeCacheIO, "cached object vanished").WithContext("path", path)
}

// Invalidate drops path unless it is pinned. It reports whether an entry was
// removed.
func (c *ContentCache) Invalidate(path string) bool {
	name := FileName(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok || e.pins > 0 {
		return false
	}
	c.removeLocked(e)
	return true
}

// Clear removes every unpinned entry and returns how many were removed.
func (c *ContentCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, e := range c.entries {
		if e.pins > 0 {
			continue
		}
		c.removeLocked(e)
		removed++
	}
	return removed
}

// Stats returns a snapshot of cache statistics.
func (c *ContentCache) Stats() types.CacheStats {
	c.mu.Lock()
	stats := types.CacheStats{
		Entries:  len(c.entries),
		Size:     c.currentSize,
		Capacity: c.maxSize,
	}
	for _, e := range c.entries {
		if e.pins > 0 {
			stats.Pinned++
		}
	}
	c.mu.Unlock()

	stats.Hits = c.hits.Load()
	stats.Misses = c.misses.Load()
	stats.Evictions = c.evictions.Load()
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	}
	return stats
}

// Directory returns the cache directory.
func (c *ContentCache) Directory() string {
	return c.directory
}

// Close releases the directory lock. Files stay on disk.
func (c *ContentCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.lock.Unlock()
}

func (c *ContentCache) peek(path string) *contentEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(path)
}

// lookupLocked finds the entry for path, adopting a file left by an earlier
// session. A name already bound to another path is a hash collision and is
// treated as absent.
func (c *ContentCache) lookupLocked(path string) *contentEntry {
	path = utils.NormalizePath(path)
	e, ok := c.entries[FileName(path)]
	if !ok {
		return nil
	}
	if e.path == "" {
		e.path = path
	}
	if e.path != path {
		c.logger.Error("content cache name collision",
			zap.String("path", path), zap.String("other", e.path))
		return nil
	}
	return e
}

// acquire pins the entry for path and opens its file. It returns nil, nil on
// a miss.
func (c *ContentCache) acquire(path string) (*Handle, error) {
	c.mu.Lock()
	e := c.lookupLocked(path)
	if e == nil {
		c.mu.Unlock()
		return nil, nil
	}
	e.pins++
	e.lastAccess = time.Now()
	c.order.MoveToFront(e.element)
	c.mu.Unlock()

	return c.open(e)
}

// open wraps a pinned entry in a handle, unpinning it if the file is gone.
func (c *ContentCache) open(e *contentEntry) (*Handle, error) {
	f, err := os.Open(c.filePath(e.name))
	if err != nil {
		c.mu.Lock()
		e.pins--
		// Other handles may still read the unlinked file; drop the entry
		// only once the last of them is gone.
		if e.pins == 0 && e.element != nil {
			c.removeLocked(e)
		}
		c.mu.Unlock()
		return nil, errors.NewCacheIO("open", e.path, err)
	}
	return &Handle{cache: c, entry: e, reader: f, closer: f, size: e.size}, nil
}

// insert writes data to a temporary file and renames it into place. The
// rename and index update happen under the cache lock so a path never has two
// writers racing on its final file.
func (c *ContentCache) insert(path string, data []byte, pin bool) (*contentEntry, error) {
	path = utils.NormalizePath(path)
	name := FileName(path)
	final := c.filePath(name)

	if err := os.MkdirAll(filepath.Dir(final), 0750); err != nil {
		return nil, errors.NewCacheIO("put", path, err)
	}
	tmp, err := os.CreateTemp(c.directory, tempPrefix+"*")
	if err != nil {
		return nil, errors.NewCacheIO("put", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, errors.NewCacheIO("put", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, errors.NewCacheIO("put", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[name]; ok && e.path != "" && e.path != path {
		_ = os.Remove(tmpName)
		return nil, errors.NewError(errors.ErrCodeCacheIO, "content cache name collision").
			WithContext("path", path).
			WithContext("other", e.path)
	}

	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return nil, errors.NewCacheIO("put", path, err)
	}

	e, ok := c.entries[name]
	if ok {
		c.currentSize -= e.size
		e.path = path
		e.size = int64(len(data))
		c.order.MoveToFront(e.element)
	} else {
		e = &contentEntry{name: name, path: path, size: int64(len(data))}
		e.element = c.order.PushFront(e)
		c.entries[name] = e
	}
	e.lastAccess = time.Now()
	c.currentSize += e.size
	if pin {
		e.pins++
	}

	c.logger.Debug("stored object",
		zap.String("path", path),
		zap.Int64("size", e.size),
		zap.String("file", name))

	c.evictLocked()
	return e, nil
}

func (c *ContentCache) release(e *contentEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.pins > 0 {
		e.pins--
	}
	c.evictLocked()
}

// evictLocked removes least recently used unpinned entries until the cache
// fits. Pinned entries may keep it over budget until they are released.
func (c *ContentCache) evictLocked() {
	if c.maxSize <= 0 {
		return
	}
	for el := c.order.Back(); el != nil && c.currentSize > c.maxSize; {
		e := el.Value.(*contentEntry)
		prev := el.Prev()
		if e.pins == 0 {
			c.removeLocked(e)
			c.evictions.Add(1)
			c.logger.Debug("evicted object", zap.String("path", e.path), zap.Int64("size", e.size))
		}
		el = prev
	}
}

func (c *ContentCache) removeLocked(e *contentEntry) {
	if err := os.Remove(c.filePath(e.name)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove cache file", zap.String("file", e.name), zap.Error(err))
	}
	c.order.Remove(e.element)
	e.element = nil
	delete(c.entries, e.name)
	c.currentSize -= e.size
}

// scan indexes files left by an earlier session, oldest first at the back of
// the recency list, and deletes abandoned temporary files.
func (c *ContentCache) scan() error {
	type found struct {
		name    string
		size    int64
		modTime time.Time
	}
	var files []found

	err := filepath.WalkDir(c.directory, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, tempPrefix) {
			_ = os.Remove(p)
			return nil
		}
		if !strings.HasSuffix(name, objectSuffix) || filepath.Dir(p) != filepath.Join(c.directory, name[:2]) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, found{name: name, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return errors.NewCacheIO("scan", c.directory, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files {
		e := &contentEntry{name: f.name, size: f.size, lastAccess: f.modTime}
		e.element = c.order.PushFront(e)
		c.entries[f.name] = e
		c.currentSize += f.size
	}
	if len(files) > 0 {
		c.logger.Info("indexed existing cache files",
			zap.Int("files", len(files)),
			zap.String("size", utils.FormatBytes(c.currentSize)))
	}
	return nil
}

// Handle is a pinned, read-only view of one cached object. While any handle
// for an entry is open the entry is not evicted.
type Handle struct {
	cache  *ContentCache
	entry  *contentEntry
	reader io.ReaderAt
	closer io.Closer
	size   int64
	once   sync.Once
}

// MemoryHandle serves data from memory without any cache entry behind it.
func MemoryHandle(data []byte) *Handle {
	return &Handle{reader: bytes.NewReader(data), size: int64(len(data))}
}

// Size returns the object size in bytes.
func (h *Handle) Size() int64 {
	return h.size
}

// ReadAt reads from the cached copy.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.reader.ReadAt(p, off)
}

// Release closes the handle and unpins its entry. It is safe to call more
// than once.
func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		if h.closer != nil {
			err = h.closer.Close()
		}
		if h.cache != nil && h.entry != nil {
			h.cache.release(h.entry)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to close cached object: %w", err)
	}
	return nil
}
