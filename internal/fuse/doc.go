/*
Package fuse exposes a bucketfs filesystem to the kernel.

Two bindings are provided and selected with build constraints:

	go-fuse (default)    inode based, Linux and macOS
	cgofuse (-tags cgofuse)  path based, for hosts with a libfuse or WinFsp

Both bindings are thin. Every callback is forwarded to
internal/filesystem, and errors come back through a single errno table:

	not found, unknown identity   ENOENT
	not a directory               ENOTDIR
	not a file                    EISDIR
	read-only                     EROFS
	missing attribute             ENODATA / ENOATTR
	short xattr buffer            ERANGE
	remote, cache, corruption     EIO

# Inode Numbers

The go-fuse binding passes identity table ids straight through as inode
numbers. The root is always inode 1 and every other entry gets a number
from 1000 upwards that is never reused while the mount lives.

# Mounting

	mgr := fuse.CreatePlatformMountManager(fsys, fuse.DefaultMountConfig("/mnt/bucket"), logger)
	if err := mgr.Mount(ctx); err != nil {
		return err
	}
	defer mgr.Unmount()
	mgr.Wait()

The mount point must be an existing directory, and an empty one unless
AllowNonEmpty is set. The mount is always read-only.
*/
package fuse
