package fuse

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/bucketfs/pkg/errors"
)

// ToErrno maps a filesystem error to the errno the kernel sees.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeRemoteNotFound, errors.ErrCodeUnknownIdentity:
		return syscall.ENOENT
	case errors.ErrCodeNotADirectory:
		return syscall.ENOTDIR
	case errors.ErrCodeNotAFile, errors.ErrCodeIsDirectory:
		return syscall.EISDIR
	case errors.ErrCodeReadOnly:
		return syscall.EROFS
	case errors.ErrCodePermissionDenied:
		return syscall.EACCES
	case errors.ErrCodeNoAttribute:
		return syscall.Errno(fuse.ENOATTR)
	case errors.ErrCodeRangeTooSmall:
		return syscall.ERANGE
	default:
		// Remote failures, cache i/o and corrupted namespaces all surface
		// as plain i/o errors.
		return syscall.EIO
	}
}
