//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/objectfs/bucketfs/internal/filesystem"
	"github.com/objectfs/bucketfs/pkg/errors"
	"github.com/objectfs/bucketfs/pkg/types"
)

// CgoFuseFS adapts the filesystem to cgofuse's path-based callbacks. Every
// call resolves its path through the identity table, so known paths cost no
// remote calls.
type CgoFuseFS struct {
	fuse.FileSystemBase

	fsys *filesystem.FileSystem
}

// NewCgoFuseFS creates a new cgofuse-based filesystem
func NewCgoFuseFS(fsys *filesystem.FileSystem) *CgoFuseFS {
	return &CgoFuseFS{fsys: fsys}
}

func (c *CgoFuseFS) resolve(path string) (filesystem.Attributes, int) {
	attr, err := c.fsys.ResolvePath(context.Background(), path)
	if err != nil {
		return filesystem.Attributes{}, cgoErrno(err)
	}
	return attr, 0
}

// Getattr gets file attributes
func (c *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	attr, rc := c.resolve(path)
	if rc != 0 {
		return rc
	}
	fillStat(stat, attr)
	return 0
}

// Access checks an access mask.
func (c *CgoFuseFS) Access(path string, mask uint32) int {
	attr, rc := c.resolve(path)
	if rc != 0 {
		return rc
	}
	return cgoErrno(c.fsys.Access(context.Background(), attr.ID, mask))
}

// Opendir accepts directories only.
func (c *CgoFuseFS) Opendir(path string) (int, uint64) {
	attr, rc := c.resolve(path)
	if rc != 0 {
		return rc, ^uint64(0)
	}
	if !attr.IsDir() {
		return -fuse.ENOTDIR, ^uint64(0)
	}
	return 0, 0
}

// Releasedir has nothing to release.
func (c *CgoFuseFS) Releasedir(path string, fh uint64) int {
	return 0
}

// Readdir reads directory contents including "." and "..".
func (c *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	attr, rc := c.resolve(path)
	if rc != 0 {
		return rc
	}
	entries, err := c.fsys.ListDirectory(context.Background(), attr.ID)
	if err != nil {
		return cgoErrno(err)
	}
	for _, e := range entries {
		st := &fuse.Stat_t{Ino: e.ID, Mode: fuse.S_IFREG}
		if e.Kind == types.KindDirectory {
			st.Mode = fuse.S_IFDIR
		}
		if !fill(e.Name, st, 0) {
			break
		}
	}
	return 0
}

// Open opens a file
func (c *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	attr, rc := c.resolve(path)
	if rc != 0 {
		return rc, ^uint64(0)
	}
	fh, err := c.fsys.Open(context.Background(), attr.ID, uint32(flags))
	if err != nil {
		return cgoErrno(err), ^uint64(0)
	}
	return 0, fh
}

// Read reads data from the file
func (c *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	attr, rc := c.resolve(path)
	if rc != 0 {
		return rc
	}
	data, err := c.fsys.Read(context.Background(), attr.ID, fh, ofst, len(buff))
	if err != nil {
		return cgoErrno(err)
	}
	return copy(buff, data)
}

// Release releases the file handle
func (c *CgoFuseFS) Release(path string, fh uint64) int {
	c.fsys.Release(fh)
	return 0
}

// Statfs reports filesystem statistics.
func (c *CgoFuseFS) Statfs(path string, stat *fuse.Statfs_t) int {
	st := c.fsys.Statfs()
	stat.Bsize = uint64(st.BlockSize)
	stat.Frsize = uint64(st.BlockSize)
	stat.Blocks = st.TotalBlocks
	stat.Bfree = st.FreeBlocks
	stat.Bavail = st.AvailBlocks
	stat.Files = st.TotalInodes
	stat.Ffree = st.FreeInodes
	stat.Namemax = uint64(st.MaxNameLength)
	return 0
}

// Getxattr returns an extended attribute value.
func (c *CgoFuseFS) Getxattr(path string, name string) (int, []byte) {
	attr, rc := c.resolve(path)
	if rc != 0 {
		return rc, nil
	}
	value, err := c.fsys.Getxattr(context.Background(), attr.ID, name)
	if err != nil {
		return cgoErrno(err), nil
	}
	return 0, value
}

// Listxattr lists extended attribute names.
func (c *CgoFuseFS) Listxattr(path string, fill func(name string) bool) int {
	attr, rc := c.resolve(path)
	if rc != 0 {
		return rc
	}
	names, err := c.fsys.Listxattr(context.Background(), attr.ID)
	if err != nil {
		return cgoErrno(err)
	}
	for _, n := range names {
		if !fill(n) {
			return -fuse.ERANGE
		}
	}
	return 0
}

// Mutations all fail with EROFS.

func (c *CgoFuseFS) Mknod(path string, mode uint32, dev uint64) int {
	return cgoErrno(c.fsys.Mknod(context.Background(), 0, path, mode))
}

func (c *CgoFuseFS) Mkdir(path string, mode uint32) int {
	return cgoErrno(c.fsys.Mkdir(context.Background(), 0, path, mode))
}

func (c *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	return cgoErrno(c.fsys.Create(context.Background(), 0, path, mode)), ^uint64(0)
}

func (c *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	_, err := c.fsys.Write(context.Background(), 0, fh, ofst, buff)
	return cgoErrno(err)
}

func (c *CgoFuseFS) Unlink(path string) int {
	return cgoErrno(c.fsys.Unlink(context.Background(), 0, path))
}

func (c *CgoFuseFS) Rmdir(path string) int {
	return cgoErrno(c.fsys.Rmdir(context.Background(), 0, path))
}

func (c *CgoFuseFS) Rename(oldpath string, newpath string) int {
	return cgoErrno(c.fsys.Rename(context.Background(), 0, oldpath, 0, newpath))
}

func (c *CgoFuseFS) Symlink(target string, newpath string) int {
	return cgoErrno(c.fsys.Symlink(context.Background(), 0, newpath, target))
}

func (c *CgoFuseFS) Link(oldpath string, newpath string) int {
	return cgoErrno(c.fsys.Link(context.Background(), 0, 0, newpath))
}

func (c *CgoFuseFS) Chmod(path string, mode uint32) int {
	return cgoErrno(c.fsys.Setattr(context.Background(), 0))
}

func (c *CgoFuseFS) Chown(path string, uid uint32, gid uint32) int {
	return cgoErrno(c.fsys.Setattr(context.Background(), 0))
}

func (c *CgoFuseFS) Utimens(path string, tmsp []fuse.Timespec) int {
	return cgoErrno(c.fsys.Setattr(context.Background(), 0))
}

func (c *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	return cgoErrno(c.fsys.Setattr(context.Background(), 0))
}

func (c *CgoFuseFS) Setxattr(path string, name string, value []byte, flags int) int {
	return cgoErrno(c.fsys.Setxattr(context.Background(), 0, name, value))
}

func (c *CgoFuseFS) Removexattr(path string, name string) int {
	return cgoErrno(c.fsys.Removexattr(context.Background(), 0, name))
}

func fillStat(stat *fuse.Stat_t, attr filesystem.Attributes) {
	ts := fuse.NewTimespec(attr.Mtime)
	stat.Ino = attr.ID
	stat.Mode = attr.Mode
	stat.Nlink = attr.Nlink
	stat.Uid = attr.UID
	stat.Gid = attr.GID
	stat.Size = int64(attr.Size)
	stat.Blksize = int64(attr.Blksize)
	stat.Blocks = int64(attr.Blocks)
	stat.Atim = ts
	stat.Mtim = ts
	stat.Ctim = ts
	stat.Birthtim = fuse.NewTimespec(time.Unix(0, 0))
}

// cgoErrno is ToErrno expressed in cgofuse's negative errno convention.
func cgoErrno(err error) int {
	if err == nil {
		return 0
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeRemoteNotFound, errors.ErrCodeUnknownIdentity:
		return -fuse.ENOENT
	case errors.ErrCodeNotADirectory:
		return -fuse.ENOTDIR
	case errors.ErrCodeNotAFile, errors.ErrCodeIsDirectory:
		return -fuse.EISDIR
	case errors.ErrCodeReadOnly:
		return -fuse.EROFS
	case errors.ErrCodePermissionDenied:
		return -fuse.EACCES
	case errors.ErrCodeNoAttribute:
		return -fuse.ENOATTR
	case errors.ErrCodeRangeTooSmall:
		return -fuse.ERANGE
	default:
		return -fuse.EIO
	}
}
