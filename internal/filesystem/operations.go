package filesystem

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/objectfs/bucketfs/internal/cache"
	"github.com/objectfs/bucketfs/internal/namespace"
	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
	"github.com/objectfs/bucketfs/pkg/utils"
)

// Lookup resolves name inside the directory parentID.
func (fs *FileSystem) Lookup(ctx context.Context, parentID uint64, name string) (attr Attributes, err error) {
	start := time.Now()
	fs.stats.Lookups.Add(1)
	defer func() { fs.observe("lookup", start, 0, err) }()

	parent, err := fs.table.Resolve(parentID)
	if err != nil {
		return Attributes{}, err
	}
	if !parent.IsDir() {
		return Attributes{}, errors.NewNotADirectory(parent.Path).WithOperation("lookup")
	}

	switch name {
	case ".":
		return fs.attributesOf(ctx, parent)
	case "..":
		up, err := fs.table.Resolve(parent.ParentID)
		if err != nil {
			return Attributes{}, err
		}
		return fs.attributesOf(ctx, up)
	}

	child, err := fs.synth.ResolveChild(ctx, parent.Path, name)
	if err != nil {
		return Attributes{}, err
	}
	entry, err := fs.table.Resolve(child.ID)
	if err != nil {
		return Attributes{}, err
	}
	return fs.attributesOf(ctx, entry)
}

// ResolvePath walks p from the root one lookup at a time. Path-based
// bridges and the command line use it.
func (fs *FileSystem) ResolvePath(ctx context.Context, p string) (Attributes, error) {
	p = utils.NormalizePath(p)
	if p == "/" {
		return fs.GetAttributes(ctx, namespace.RootID)
	}

	id := namespace.RootID
	var attr Attributes
	for _, name := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		var err error
		attr, err = fs.Lookup(ctx, id, name)
		if err != nil {
			return Attributes{}, err
		}
		id = attr.ID
	}
	return attr, nil
}

// GetAttributes reports the attributes of id, listing its parent when the
// metadata cache has nothing for it.
func (fs *FileSystem) GetAttributes(ctx context.Context, id uint64) (attr Attributes, err error) {
	start := time.Now()
	fs.stats.Getattrs.Add(1)
	defer func() { fs.observe("getattr", start, 0, err) }()

	entry, err := fs.table.Resolve(id)
	if err != nil {
		return Attributes{}, err
	}
	return fs.attributesOf(ctx, entry)
}

// ListDirectory returns the children of id preceded by "." and "..".
func (fs *FileSystem) ListDirectory(ctx context.Context, id uint64) (entries []types.DirEntry, err error) {
	start := time.Now()
	fs.stats.Readdirs.Add(1)
	defer func() { fs.observe("readdir", start, 0, err) }()

	entry, err := fs.table.Resolve(id)
	if err != nil {
		return nil, err
	}
	if !entry.IsDir() {
		return nil, errors.NewNotADirectory(entry.Path).WithOperation("readdir")
	}

	children, err := fs.synth.ListDirectory(ctx, entry.Path)
	if err != nil {
		return nil, err
	}

	entries = make([]types.DirEntry, 0, len(children)+2)
	entries = append(entries,
		types.DirEntry{Name: ".", ID: entry.ID, Kind: types.KindDirectory},
		types.DirEntry{Name: "..", ID: entry.ParentID, Kind: types.KindDirectory},
	)
	return append(entries, children...), nil
}

// Open hands out a file handle for id. Content is fetched on first read.
func (fs *FileSystem) Open(ctx context.Context, id uint64, flags uint32) (fh uint64, err error) {
	start := time.Now()
	fs.stats.Opens.Add(1)
	defer func() { fs.observe("open", start, 0, err) }()

	entry, err := fs.table.Resolve(id)
	if err != nil {
		return 0, err
	}
	if entry.IsDir() {
		return 0, errors.NewNotAFile(entry.Path).WithOperation("open")
	}
	if wantsWrite(flags) {
		return 0, errors.NewReadOnly("open")
	}

	fs.mu.Lock()
	fh = fs.nextHandle
	fs.nextHandle++
	fs.openFiles[fh] = &openFile{id: id, path: entry.Path}
	fs.mu.Unlock()

	return fh, nil
}

// Read returns up to length bytes of id starting at offset, clipped to the
// object size. fh may be zero for reads without an open handle.
func (fs *FileSystem) Read(ctx context.Context, id, fh uint64, offset int64, length int) (data []byte, err error) {
	start := time.Now()
	fs.stats.Reads.Add(1)
	defer func() { fs.observe("read", start, int64(len(data)), err) }()

	entry, err := fs.table.Resolve(id)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() {
		return nil, errors.NewNotAFile(entry.Path).WithOperation("read")
	}

	h, done, err := fs.contentHandle(ctx, entry, fh)
	if err != nil {
		return nil, err
	}
	defer done()

	size := h.Size()
	if offset < 0 {
		offset = 0
	}
	if offset >= size || length <= 0 {
		return []byte{}, nil
	}
	end := offset + int64(length)
	if end > size {
		end = size
	}

	buf := make([]byte, end-offset)
	n, rerr := h.ReadAt(buf, offset)
	if rerr != nil && !(stderrors.Is(rerr, io.EOF) && n == len(buf)) {
		return nil, errors.NewCacheIO("read", entry.Path, rerr)
	}
	fs.stats.BytesRead.Add(int64(n))
	return buf[:n], nil
}

// Release drops a file handle and unpins its cached content.
func (fs *FileSystem) Release(fh uint64) {
	fs.mu.Lock()
	f, ok := fs.openFiles[fh]
	delete(fs.openFiles, fh)
	fs.mu.Unlock()

	if ok {
		f.release()
	}
}

// Access checks an access(2) mask. Any write bit fails on this read-only
// filesystem; everything else is granted for known entries.
func (fs *FileSystem) Access(ctx context.Context, id uint64, mask uint32) error {
	if _, err := fs.table.Resolve(id); err != nil {
		return err
	}
	if mask&AccessWrite != 0 {
		err := errors.NewReadOnly("access")
		fs.observe("access", time.Now(), 0, err)
		return err
	}
	return nil
}

// Statfs reports filesystem statistics. Capacity is the content cache
// footprint; nothing is ever free.
func (fs *FileSystem) Statfs() StatfsInfo {
	var used int64
	if fs.content != nil {
		used = fs.content.Stats().Size
	}
	return StatfsInfo{
		TotalBlocks:   uint64((used + int64(BlockSize) - 1) / int64(BlockSize)),
		TotalInodes:   uint64(fs.table.Len()),
		BlockSize:     BlockSize,
		MaxNameLength: MaxNameLen,
	}
}

func (fs *FileSystem) attributesOf(ctx context.Context, e namespace.Entry) (Attributes, error) {
	meta, err := fs.metadata(ctx, e.Path)
	if err != nil {
		return Attributes{}, err
	}
	if meta.Kind != e.Kind {
		return Attributes{}, errors.NewCorruptedNamespace(e.Path, "metadata kind differs from identity kind").
			WithComponent("filesystem")
	}
	return fs.attributes(e.ID, meta), nil
}

func (fs *FileSystem) metadata(ctx context.Context, path string) (types.Metadata, error) {
	if path == "/" {
		return fs.synth.DirectoryMetadata(), nil
	}
	if fs.meta != nil {
		if meta, ok := fs.meta.Get(path); ok {
			return meta, nil
		}
	}
	return fs.synth.Stat(ctx, path)
}

func (fs *FileSystem) attributes(id uint64, meta types.Metadata) Attributes {
	attr := Attributes{
		ID:      id,
		Kind:    meta.Kind,
		Blksize: BlockSize,
		UID:     fs.config.UID,
		GID:     fs.config.GID,
		Mtime:   meta.ModTime,
	}
	if attr.Mtime.IsZero() {
		attr.Mtime = fs.config.Epoch
	}
	if meta.IsDir() {
		attr.Mode = ModeDir | DirPerm
		attr.Nlink = 2
		return attr
	}
	size := meta.Size
	if size < 0 {
		size = 0
	}
	attr.Mode = ModeRegular | FilePerm
	attr.Nlink = 1
	attr.Size = uint64(size)
	attr.Blocks = uint64((size + sectorBytes - 1) / sectorBytes)
	return attr
}

// contentHandle returns a pinned content handle for a read. With an open file
// handle the content stays pinned until Release; without one it is released
// by done. No lock is held while the content is fetched.
func (fs *FileSystem) contentHandle(ctx context.Context, e namespace.Entry, fh uint64) (*cache.Handle, func(), error) {
	noop := func() {}

	var f *openFile
	if fh != 0 {
		fs.mu.Lock()
		f = fs.openFiles[fh]
		fs.mu.Unlock()
		if f != nil && f.id != e.ID {
			f = nil
		}
	}

	if f == nil {
		h, err := fs.fetchContent(ctx, e.Path)
		if err != nil {
			return nil, noop, err
		}
		return h, func() { _ = h.Release() }, nil
	}

	f.mu.Lock()
	h := f.content
	f.mu.Unlock()
	if h != nil {
		return h, noop, nil
	}

	fresh, err := fs.fetchContent(ctx, e.Path)
	if err != nil {
		return nil, noop, err
	}
	f.mu.Lock()
	if f.content == nil {
		f.content = fresh
	} else {
		_ = fresh.Release()
	}
	h = f.content
	f.mu.Unlock()
	return h, noop, nil
}

// fetchContent gets path from the content cache, fetching it on a miss. A
// cached copy whose size disagrees with the listing is refetched once.
func (fs *FileSystem) fetchContent(ctx context.Context, path string) (*cache.Handle, error) {
	fetch := func(ctx context.Context) ([]byte, error) {
		return fs.store.Fetch(ctx, fs.synth.ObjectKey(path))
	}

	h, err := fs.content.GetOrFetch(ctx, path, fetch)
	if err != nil {
		return nil, err
	}
	if fs.meta == nil {
		return h, nil
	}
	meta, ok := fs.meta.Get(path)
	if !ok || meta.Size == h.Size() {
		return h, nil
	}

	fs.logger.Info("cached copy size differs from listing, refetching",
		zap.String("path", path),
		zap.Int64("cached", h.Size()),
		zap.Int64("listed", meta.Size))
	_ = h.Release()
	if fs.content.Invalidate(path) {
		h, err = fs.content.GetOrFetch(ctx, path, fetch)
		if err != nil {
			return nil, err
		}
	} else {
		// Another open handle pins the stale copy, so it cannot be replaced.
		fs.logger.Warn("stale cached copy is still open, serving refetched object uncached",
			zap.String("path", path))
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		h = cache.MemoryHandle(data)
	}
	if h.Size() != meta.Size {
		meta.Size = h.Size()
		fs.meta.Put(path, meta)
	}
	return h, nil
}

func wantsWrite(flags uint32) bool {
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		return true
	}
	return flags&(syscall.O_TRUNC|syscall.O_APPEND|syscall.O_CREAT) != 0
}

// objectKey returns the bucket key, or for directories the listing prefix,
// backing path.
func (fs *FileSystem) objectKey(e namespace.Entry) string {
	if e.IsDir() {
		return utils.ListPrefix(utils.NormalizePrefix(fs.config.Prefix), e.Path)
	}
	return fs.synth.ObjectKey(e.Path)
}
