package filesystem

import (
	"context"
	"time"

	"github.com/objectfs/bucketfs/pkg/errors"
)

// The mutating operations below exist so bridges have one place to send them.
// They fail with a read-only error and touch neither caches nor identities.

func (fs *FileSystem) reject(op string) error {
	err := errors.NewReadOnly(op)
	fs.observe(op, time.Now(), 0, err)
	return err
}

// Create rejects file creation.
func (fs *FileSystem) Create(ctx context.Context, parentID uint64, name string, mode uint32) error {
	return fs.reject("create")
}

// Mkdir rejects directory creation.
func (fs *FileSystem) Mkdir(ctx context.Context, parentID uint64, name string, mode uint32) error {
	return fs.reject("mkdir")
}

// Mknod rejects device and fifo creation.
func (fs *FileSystem) Mknod(ctx context.Context, parentID uint64, name string, mode uint32) error {
	return fs.reject("mknod")
}

// Write rejects writes, even on handles opened for reading.
func (fs *FileSystem) Write(ctx context.Context, id, fh uint64, offset int64, data []byte) (int, error) {
	return 0, fs.reject("write")
}

// Unlink rejects file removal.
func (fs *FileSystem) Unlink(ctx context.Context, parentID uint64, name string) error {
	return fs.reject("unlink")
}

// Rmdir rejects directory removal.
func (fs *FileSystem) Rmdir(ctx context.Context, parentID uint64, name string) error {
	return fs.reject("rmdir")
}

// Rename rejects renames.
func (fs *FileSystem) Rename(ctx context.Context, parentID uint64, name string, newParentID uint64, newName string) error {
	return fs.reject("rename")
}

// Setattr rejects chmod, chown, truncate and utimes.
func (fs *FileSystem) Setattr(ctx context.Context, id uint64) error {
	return fs.reject("setattr")
}

// Symlink rejects symlink creation.
func (fs *FileSystem) Symlink(ctx context.Context, parentID uint64, name, target string) error {
	return fs.reject("symlink")
}

// Link rejects hard links.
func (fs *FileSystem) Link(ctx context.Context, id, newParentID uint64, newName string) error {
	return fs.reject("link")
}

// Setxattr rejects attribute changes.
func (fs *FileSystem) Setxattr(ctx context.Context, id uint64, name string, value []byte) error {
	return fs.reject("setxattr")
}

// Removexattr rejects attribute removal.
func (fs *FileSystem) Removexattr(ctx context.Context, id uint64, name string) error {
	return fs.reject("removexattr")
}

// Fsync is a no-op; nothing is ever dirty.
func (fs *FileSystem) Fsync(ctx context.Context, id, fh uint64) error {
	return nil
}
