package filesystem

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/bucketfs/internal/cache"
	"github.com/objectfs/bucketfs/internal/namespace"
	"github.com/objectfs/bucketfs/internal/storage/memory"
	fserrors "github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
)

var testMod = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	fs      *FileSystem
	store   *memory.Store
	meta    *cache.MetadataCache
	content *cache.ContentCache
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	store := memory.New()
	store.Put("data/file1.txt", []byte("0123456789"), testMod)
	store.Put("data/sub/file2.txt", make([]byte, 20), testMod)

	meta, err := cache.NewMetadataCache(100, nil)
	require.NoError(t, err)
	content, err := cache.NewContentCache(cache.ContentConfig{Directory: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = content.Close() })

	if cfg.Epoch.IsZero() {
		cfg.Epoch = testMod
	}
	return &fixture{
		fs:      New(store, meta, content, cfg, nil, nil),
		store:   store,
		meta:    meta,
		content: content,
	}
}

func (f *fixture) lookupPath(t *testing.T, names ...string) Attributes {
	t.Helper()
	id := namespace.RootID
	var attr Attributes
	for _, n := range names {
		var err error
		attr, err = f.fs.Lookup(context.Background(), id, n)
		require.NoError(t, err, "lookup %s", n)
		id = attr.ID
	}
	return attr
}

func entryNames(entries []types.DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestListDirectoryIncludesDotEntries(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	root, err := f.fs.ListDirectory(ctx, namespace.RootID)
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "data"}, entryNames(root))
	assert.Equal(t, namespace.RootID, root[0].ID)
	assert.Equal(t, namespace.RootID, root[1].ID, "root is its own parent")

	data := root[2]
	assert.Equal(t, types.KindDirectory, data.Kind)
	assert.GreaterOrEqual(t, data.ID, namespace.FirstDynamicID)

	entries, err := f.fs.ListDirectory(ctx, data.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "file1.txt", "sub"}, entryNames(entries))
	assert.Equal(t, data.ID, entries[0].ID)
	assert.Equal(t, namespace.RootID, entries[1].ID)
	assert.Equal(t, types.KindFile, entries[2].Kind)
	assert.Equal(t, types.KindDirectory, entries[3].Kind)
}

func TestListDirectoryOnFile(t *testing.T) {
	f := newFixture(t, Config{})
	file := f.lookupPath(t, "data", "file1.txt")

	_, err := f.fs.ListDirectory(context.Background(), file.ID)
	assert.True(t, errors.Is(err, fserrors.ErrNotADirectory))
}

func TestLookupAndAttributes(t *testing.T) {
	f := newFixture(t, Config{UID: 1000, GID: 100})
	ctx := context.Background()

	file := f.lookupPath(t, "data", "file1.txt")
	assert.Equal(t, types.KindFile, file.Kind)
	assert.Equal(t, uint64(10), file.Size)
	assert.Equal(t, uint64(1), file.Blocks)
	assert.Equal(t, uint32(ModeRegular|FilePerm), file.Mode)
	assert.Equal(t, uint32(1), file.Nlink)
	assert.Equal(t, uint32(1000), file.UID)
	assert.Equal(t, uint32(100), file.GID)
	assert.True(t, file.Mtime.Equal(testMod))

	dir := f.lookupPath(t, "data", "sub")
	assert.True(t, dir.IsDir())
	assert.Equal(t, uint32(ModeDir|DirPerm), dir.Mode)
	assert.Equal(t, uint32(2), dir.Nlink)

	again, err := f.fs.Lookup(ctx, namespace.RootID, "data")
	require.NoError(t, err)
	parent := f.lookupPath(t, "data")
	assert.Equal(t, parent.ID, again.ID, "lookup is stable")

	_, err = f.fs.Lookup(ctx, parent.ID, "missing")
	assert.True(t, errors.Is(err, fserrors.ErrNotFound))

	_, err = f.fs.Lookup(ctx, file.ID, "x")
	assert.True(t, errors.Is(err, fserrors.ErrNotADirectory))

	_, err = f.fs.Lookup(ctx, 424242, "x")
	assert.True(t, errors.Is(err, fserrors.ErrUnknownIdentity))

	dotdot, err := f.fs.Lookup(ctx, dir.ID, "..")
	require.NoError(t, err)
	assert.Equal(t, parent.ID, dotdot.ID)
}

func TestGetAttributesAfterMetadataEviction(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	file := f.lookupPath(t, "data", "file1.txt")
	f.meta.Clear()
	lists := f.store.ListCalls()

	attr, err := f.fs.GetAttributes(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), attr.Size)
	assert.Equal(t, lists+1, f.store.ListCalls(), "a metadata miss lists the parent")

	_, err = f.fs.GetAttributes(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, lists+1, f.store.ListCalls())

	root, err := f.fs.GetAttributes(ctx, namespace.RootID)
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.True(t, root.Mtime.Equal(testMod))
}

func TestGetAttributesVanishedObject(t *testing.T) {
	f := newFixture(t, Config{})
	file := f.lookupPath(t, "data", "file1.txt")

	f.store.Delete("data/file1.txt")
	f.meta.Clear()

	_, err := f.fs.GetAttributes(context.Background(), file.ID)
	assert.True(t, errors.Is(err, fserrors.ErrNotFound))

	// The identity survives the object.
	entry, err := f.fs.Table().Resolve(file.ID)
	require.NoError(t, err)
	assert.Equal(t, "/data/file1.txt", entry.Path)
}

func TestReadClipsToObjectSize(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	file := f.lookupPath(t, "data", "file1.txt")

	tests := []struct {
		name   string
		offset int64
		length int
		want   string
	}{
		{name: "whole object", offset: 0, length: 10, want: "0123456789"},
		{name: "tail past end", offset: 8, length: 100, want: "89"},
		{name: "middle", offset: 3, length: 4, want: "3456"},
		{name: "at end", offset: 10, length: 5, want: ""},
		{name: "beyond end", offset: 50, length: 5, want: ""},
		{name: "zero length", offset: 2, length: 0, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := f.fs.Read(ctx, file.ID, 0, tt.offset, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
	assert.Equal(t, int64(1), f.store.FetchCallsFor("data/file1.txt"))
}

func TestReadCachedContentMakesNoRemoteCalls(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	file := f.lookupPath(t, "data", "file1.txt")

	fh, err := f.fs.Open(ctx, file.ID, uint32(syscall.O_RDONLY))
	require.NoError(t, err)
	_, err = f.fs.Read(ctx, file.ID, fh, 0, 4)
	require.NoError(t, err)
	f.fs.Release(fh)

	lists, fetches := f.store.ListCalls(), f.store.FetchCalls()
	for i := 0; i < 5; i++ {
		data, err := f.fs.Read(ctx, file.ID, 0, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(data))
	}
	_, err = f.fs.GetAttributes(ctx, file.ID)
	require.NoError(t, err)

	assert.Equal(t, lists, f.store.ListCalls())
	assert.Equal(t, fetches, f.store.FetchCalls())
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	file := f.lookupPath(t, "data", "sub", "file2.txt")

	gate := make(chan struct{})
	f.store.BeforeFetch = func(string) { <-gate }

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := f.fs.Read(ctx, file.ID, 0, 0, 64)
			if assert.NoError(t, err) {
				assert.Len(t, data, 20)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int64(1), f.store.FetchCallsFor("data/sub/file2.txt"))
}

func TestOpenRules(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	file := f.lookupPath(t, "data", "file1.txt")
	dir := f.lookupPath(t, "data")

	_, err := f.fs.Open(ctx, dir.ID, uint32(syscall.O_RDONLY))
	assert.True(t, errors.Is(err, fserrors.ErrNotAFile))

	for _, flags := range []int{syscall.O_WRONLY, syscall.O_RDWR, syscall.O_RDONLY | syscall.O_TRUNC, syscall.O_RDONLY | syscall.O_APPEND} {
		_, err := f.fs.Open(ctx, file.ID, uint32(flags))
		assert.True(t, errors.Is(err, fserrors.ErrReadOnly), "flags %#x", flags)
	}

	fh1, err := f.fs.Open(ctx, file.ID, uint32(syscall.O_RDONLY))
	require.NoError(t, err)
	fh2, err := f.fs.Open(ctx, file.ID, uint32(syscall.O_RDONLY))
	require.NoError(t, err)
	assert.NotEqual(t, fh1, fh2)
	assert.Equal(t, int64(0), f.store.FetchCalls(), "open does not fetch")

	_, err = f.fs.Read(ctx, file.ID, fh1, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.content.Stats().Pinned, "an open handle pins its content")
	assert.Equal(t, 2, f.fs.Stats().OpenHandles)

	f.fs.Release(fh1)
	f.fs.Release(fh2)
	f.fs.Release(fh2)
	assert.Equal(t, 0, f.content.Stats().Pinned)
	assert.Equal(t, 0, f.fs.Stats().OpenHandles)

	_, err = f.fs.Read(ctx, dir.ID, 0, 0, 1)
	assert.True(t, errors.Is(err, fserrors.ErrNotAFile))
}

func TestMutationsAreRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	dir := f.lookupPath(t, "data")
	file := f.lookupPath(t, "data", "file1.txt")

	identities := f.fs.Table().Len()
	metaLen := f.meta.Len()
	contentEntries := f.content.Stats().Entries
	lists, fetches := f.store.ListCalls(), f.store.FetchCalls()

	_, writeErr := f.fs.Write(ctx, file.ID, 0, 0, []byte("x"))
	errs := []error{
		f.fs.Create(ctx, dir.ID, "new.txt", 0o644),
		f.fs.Mkdir(ctx, dir.ID, "newdir", 0o755),
		f.fs.Mknod(ctx, dir.ID, "fifo", 0o644),
		writeErr,
		f.fs.Unlink(ctx, dir.ID, "file1.txt"),
		f.fs.Rmdir(ctx, namespace.RootID, "data"),
		f.fs.Rename(ctx, dir.ID, "file1.txt", namespace.RootID, "moved.txt"),
		f.fs.Setattr(ctx, file.ID),
		f.fs.Symlink(ctx, dir.ID, "link", "file1.txt"),
		f.fs.Link(ctx, file.ID, dir.ID, "hard"),
		f.fs.Setxattr(ctx, file.ID, XattrKey, []byte("v")),
		f.fs.Removexattr(ctx, file.ID, XattrKey),
		f.fs.Access(ctx, file.ID, AccessWrite),
	}
	for i, err := range errs {
		assert.True(t, errors.Is(err, fserrors.ErrReadOnly), "mutation %d", i)
	}

	assert.Equal(t, identities, f.fs.Table().Len())
	assert.Equal(t, metaLen, f.meta.Len())
	assert.Equal(t, contentEntries, f.content.Stats().Entries)
	assert.Equal(t, lists, f.store.ListCalls())
	assert.Equal(t, fetches, f.store.FetchCalls())
	assert.Equal(t, int64(len(errs)), f.fs.Stats().Rejected)

	assert.NoError(t, f.fs.Access(ctx, file.ID, AccessRead|AccessExecute))
	assert.NoError(t, f.fs.Fsync(ctx, file.ID, 0))
}

func TestRemoteFailuresSurface(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	file := f.lookupPath(t, "data", "file1.txt")

	f.store.FailWith(fserrors.NewRemoteUnavailable("fetch", "data/file1.txt", errors.New("connection reset")))

	_, err := f.fs.Read(ctx, file.ID, 0, 0, 10)
	assert.True(t, fserrors.IsRemote(err))
	assert.True(t, errors.Is(err, fserrors.ErrRemoteUnavailable))

	_, err = f.fs.Lookup(ctx, namespace.RootID, "other")
	assert.True(t, errors.Is(err, fserrors.ErrRemoteUnavailable))
	assert.Equal(t, int64(2), f.fs.Stats().Errors)

	f.store.FailWith(nil)
	data, err := f.fs.Read(ctx, file.ID, 0, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestStaleCachedCopyIsRefetched(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	h, err := f.content.Put("/data/file1.txt", []byte("old"))
	require.NoError(t, err)
	require.NoError(t, h.Release())

	file := f.lookupPath(t, "data", "file1.txt")
	data, err := f.fs.Read(ctx, file.ID, 0, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, int64(1), f.store.FetchCallsFor("data/file1.txt"))
}

func TestStaleCachedCopyHeldOpenIsBypassed(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	held, err := f.content.Put("/data/file1.txt", []byte("old"))
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	file := f.lookupPath(t, "data", "file1.txt")
	data, err := f.fs.Read(ctx, file.ID, 0, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, int64(1), f.store.FetchCallsFor("data/file1.txt"))

	assert.Equal(t, int64(3), held.Size(), "the open copy is left alone")
	assert.Equal(t, 1, f.content.Stats().Pinned)
}

func TestPrefixMount(t *testing.T) {
	f := newFixture(t, Config{Prefix: "data"})
	ctx := context.Background()

	root, err := f.fs.ListDirectory(ctx, namespace.RootID)
	require.NoError(t, err)
	assert.Equal(t, []string{".", "..", "file1.txt", "sub"}, entryNames(root))

	file := f.lookupPath(t, "file1.txt")
	data, err := f.fs.Read(ctx, file.ID, 0, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "012", string(data))

	key, err := f.fs.Getxattr(ctx, file.ID, XattrKey)
	require.NoError(t, err)
	assert.Equal(t, "data/file1.txt", string(key))
}

func TestExtendedAttributes(t *testing.T) {
	f := newFixture(t, Config{SessionID: "session-1"})
	ctx := context.Background()
	file := f.lookupPath(t, "data", "file1.txt")
	dir := f.lookupPath(t, "data", "sub")

	key, err := f.fs.Getxattr(ctx, file.ID, XattrKey)
	require.NoError(t, err)
	assert.Equal(t, "data/file1.txt", string(key))

	key, err = f.fs.Getxattr(ctx, dir.ID, XattrKey)
	require.NoError(t, err)
	assert.Equal(t, "data/sub/", string(key))

	etag, err := f.fs.Getxattr(ctx, file.ID, XattrETag)
	require.NoError(t, err)
	assert.NotEmpty(t, etag)

	_, err = f.fs.Getxattr(ctx, dir.ID, XattrETag)
	assert.True(t, errors.Is(err, fserrors.ErrNoAttribute))
	_, err = f.fs.Getxattr(ctx, file.ID, "user.other")
	assert.True(t, errors.Is(err, fserrors.ErrNoAttribute))

	session, err := f.fs.Getxattr(ctx, file.ID, XattrSession)
	require.NoError(t, err)
	assert.Equal(t, "session-1", string(session))

	names, err := f.fs.Listxattr(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{XattrKey, XattrETag, XattrSession}, names)
	assert.Equal(t, []byte(XattrKey+"\x00"+XattrETag+"\x00"+XattrSession+"\x00"), PackXattrNames(names))

	names, err = f.fs.Listxattr(ctx, dir.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{XattrKey, XattrSession}, names)
}

func TestCopyXattr(t *testing.T) {
	value := []byte("abcdef")

	n, err := CopyXattr(value, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	_, err = CopyXattr(value, make([]byte, 3))
	assert.True(t, errors.Is(err, fserrors.ErrRangeTooSmall))

	dest := make([]byte, 10)
	n, err = CopyXattr(value, dest)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(dest[:n]))
}

func TestStatfsAndStats(t *testing.T) {
	f := newFixture(t, Config{SessionID: "s"})
	ctx := context.Background()
	file := f.lookupPath(t, "data", "file1.txt")
	_, err := f.fs.Read(ctx, file.ID, 0, 0, 10)
	require.NoError(t, err)

	st := f.fs.Statfs()
	assert.Equal(t, uint64(1), st.TotalBlocks)
	assert.Equal(t, uint64(0), st.FreeBlocks)
	assert.Equal(t, uint32(BlockSize), st.BlockSize)
	assert.Equal(t, uint64(f.fs.Table().Len()), st.TotalInodes)

	snap := f.fs.Stats()
	assert.Equal(t, "s", snap.SessionID)
	assert.Equal(t, int64(1), snap.Reads)
	assert.Equal(t, int64(10), snap.BytesRead)
	assert.Equal(t, 1, snap.Content.Entries)

	assert.Equal(t, 1, f.fs.ClearCaches())
	assert.Equal(t, 0, f.meta.Len())
	assert.Equal(t, 0, f.content.Stats().Entries)
}
