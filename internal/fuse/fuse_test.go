package fuse

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/bucketfs/internal/cache"
	"github.com/objectfs/bucketfs/internal/filesystem"
	"github.com/objectfs/bucketfs/internal/namespace"
	"github.com/objectfs/bucketfs/internal/storage/memory"
	"github.com/objectfs/bucketfs/pkg/errors"
)

func newTestFS(t *testing.T) (*filesystem.FileSystem, *memory.Store) {
	t.Helper()

	store := memory.New()
	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.Put("data/file1.txt", []byte("0123456789"), mod)
	store.Put("data/sub/file2.txt", make([]byte, 20), mod)

	meta, err := cache.NewMetadataCache(100, nil)
	require.NoError(t, err)
	content, err := cache.NewContentCache(cache.ContentConfig{Directory: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = content.Close() })

	return filesystem.New(store, meta, content, filesystem.Config{SessionID: "test", Epoch: mod}, nil, nil), store
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"not found", errors.NewNotFound("/x"), syscall.ENOENT},
		{"remote not found", errors.NewRemoteNotFound("fetch", "x", nil), syscall.ENOENT},
		{"unknown identity", errors.NewUnknownIdentity(7), syscall.ENOENT},
		{"not a directory", errors.NewNotADirectory("/x"), syscall.ENOTDIR},
		{"not a file", errors.NewNotAFile("/x"), syscall.EISDIR},
		{"read only", errors.NewReadOnly("write"), syscall.EROFS},
		{"remote unavailable", errors.NewRemoteUnavailable("list", "x", nil), syscall.EIO},
		{"remote timeout", errors.NewRemoteTimeout("fetch", "x", nil), syscall.EIO},
		{"corrupted namespace", errors.NewCorruptedNamespace("/x", "kind changed"), syscall.EIO},
		{"cache io", errors.NewCacheIO("read", "/x", nil), syscall.EIO},
		{"range", errors.NewError(errors.ErrCodeRangeTooSmall, ""), syscall.ERANGE},
		{"no attribute", errors.NewError(errors.ErrCodeNoAttribute, ""), syscall.Errno(fuse.ENOATTR)},
		{"plain error", os.ErrClosed, syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToErrno(tt.err))
		})
	}
}

func TestRootNodeAttributes(t *testing.T) {
	fsys, _ := newTestFS(t)
	root := NewRoot(fsys, 0)
	assert.Equal(t, DefaultTimeout, root.b.timeout)

	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), root.Getattr(context.Background(), nil, &out))
	assert.Equal(t, namespace.RootID, out.Ino)
	assert.Equal(t, uint32(fuse.S_IFDIR|0o755), out.Mode)
	assert.Equal(t, uint32(2), out.Nlink)
}

func TestDirectoryReaddir(t *testing.T) {
	fsys, _ := newTestFS(t)
	root := NewRoot(fsys, time.Second)
	ctx := context.Background()

	stream, errno := root.Readdir(ctx)
	require.Equal(t, syscall.Errno(0), errno)
	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Equal(t, syscall.Errno(0), errno)
		names = append(names, e.Name)
		assert.Equal(t, uint32(fuse.S_IFDIR), e.Mode)
		assert.GreaterOrEqual(t, e.Ino, namespace.FirstDynamicID)
	}
	stream.Close()
	assert.Equal(t, []string{"data"}, names)
}

func TestFileHandleReadAndRelease(t *testing.T) {
	fsys, store := newTestFS(t)
	ctx := context.Background()

	attr, err := fsys.ResolvePath(ctx, "/data/file1.txt")
	require.NoError(t, err)

	file := &FileNode{node{b: &bridge{fsys: fsys, timeout: time.Second}, id: attr.ID}}
	fh, flags, errno := file.Open(ctx, uint32(syscall.O_RDONLY))
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(fuse.FOPEN_KEEP_CACHE), flags)

	h := fh.(*FileHandle)
	res, errno := h.Read(ctx, make([]byte, 100), 8)
	require.Equal(t, syscall.Errno(0), errno)
	data, status := res.Bytes(make([]byte, 100))
	require.True(t, status.Ok())
	assert.Equal(t, "89", string(data))

	_, errno = h.Write(ctx, []byte("x"), 0)
	assert.Equal(t, syscall.EROFS, errno)

	assert.Equal(t, syscall.Errno(0), h.Release(ctx))
	assert.Equal(t, 0, fsys.Stats().OpenHandles)
	assert.Equal(t, int64(1), store.FetchCalls())

	_, _, errno = file.Open(ctx, uint32(syscall.O_RDWR))
	assert.Equal(t, syscall.EROFS, errno)
}

func TestNodeXattrs(t *testing.T) {
	fsys, _ := newTestFS(t)
	ctx := context.Background()

	attr, err := fsys.ResolvePath(ctx, "/data/file1.txt")
	require.NoError(t, err)
	n := &node{b: &bridge{fsys: fsys, timeout: time.Second}, id: attr.ID}

	sz, errno := n.Getxattr(ctx, filesystem.XattrKey, nil)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(len("data/file1.txt")), sz)

	_, errno = n.Getxattr(ctx, filesystem.XattrKey, make([]byte, 2))
	assert.Equal(t, syscall.ERANGE, errno)

	dest := make([]byte, 64)
	sz, errno = n.Getxattr(ctx, filesystem.XattrKey, dest)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, "data/file1.txt", string(dest[:sz]))

	_, errno = n.Getxattr(ctx, "user.nope", dest)
	assert.Equal(t, syscall.Errno(fuse.ENOATTR), errno)

	sz, errno = n.Listxattr(ctx, nil)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Greater(t, sz, uint32(0))

	assert.Equal(t, syscall.EROFS, n.Setxattr(ctx, filesystem.XattrKey, []byte("v"), 0))
	assert.Equal(t, syscall.EROFS, n.Removexattr(ctx, filesystem.XattrKey))
	assert.Equal(t, syscall.EROFS, n.Access(ctx, filesystem.AccessWrite))
	assert.Equal(t, syscall.Errno(0), n.Access(ctx, filesystem.AccessRead))

	var st fuse.StatfsOut
	assert.Equal(t, syscall.Errno(0), n.Statfs(ctx, &st))
	assert.Equal(t, filesystem.BlockSize, st.Bsize)
}

func TestValidateMountPoint(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, ValidateMountPoint(dir, false))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o600))
	err := ValidateMountPoint(dir, false)
	assert.ErrorIs(t, err, errors.NewError(errors.ErrCodeMountFailed, ""))
	assert.NoError(t, ValidateMountPoint(dir, true))

	assert.Error(t, ValidateMountPoint(filepath.Join(dir, "f"), true), "a file is not a mount point")
	assert.Error(t, ValidateMountPoint(filepath.Join(dir, "missing"), true))
	assert.Error(t, ValidateMountPoint("", true))
}

func TestBuildFUSEOptions(t *testing.T) {
	fsys, _ := newTestFS(t)
	cfg := DefaultMountConfig("/mnt/bucket")
	cfg.AllowOther = true
	m := NewMountManager(fsys, cfg, nil)

	opts := m.buildFUSEOptions()
	assert.Contains(t, opts.MountOptions.Options, "ro")
	assert.True(t, opts.MountOptions.AllowOther)
	assert.Equal(t, "bucketfs", opts.MountOptions.FsName)
	assert.Equal(t, namespace.RootID, opts.RootStableAttr.Ino)
	assert.Equal(t, DefaultTimeout, *opts.EntryTimeout)
	assert.Equal(t, DefaultTimeout, *opts.AttrTimeout)

	assert.False(t, m.IsMounted())
	assert.Error(t, m.Unmount())
}
