package filesystem

import (
	"context"
	"time"

	"github.com/objectfs/bucketfs/pkg/errors"
)

// Getxattr returns the value of one of the bucketfs extended attributes.
func (fs *FileSystem) Getxattr(ctx context.Context, id uint64, name string) (value []byte, err error) {
	start := time.Now()
	defer func() { fs.observe("getxattr", start, int64(len(value)), err) }()

	entry, err := fs.table.Resolve(id)
	if err != nil {
		return nil, err
	}

	switch name {
	case XattrKey:
		return []byte(fs.objectKey(entry)), nil
	case XattrSession:
		if fs.config.SessionID != "" {
			return []byte(fs.config.SessionID), nil
		}
	case XattrETag:
		if entry.IsDir() {
			break
		}
		meta, err := fs.metadata(ctx, entry.Path)
		if err != nil {
			return nil, err
		}
		if meta.ETag != "" {
			return []byte(meta.ETag), nil
		}
	}
	return nil, errors.NewError(errors.ErrCodeNoAttribute, "no such attribute").
		WithContext("path", entry.Path).
		WithContext("name", name)
}

// Listxattr returns the names of the extended attributes id carries.
func (fs *FileSystem) Listxattr(ctx context.Context, id uint64) ([]string, error) {
	entry, err := fs.table.Resolve(id)
	if err != nil {
		return nil, err
	}

	names := []string{XattrKey}
	if !entry.IsDir() {
		if meta, err := fs.metadata(ctx, entry.Path); err == nil && meta.ETag != "" {
			names = append(names, XattrETag)
		}
	}
	if fs.config.SessionID != "" {
		names = append(names, XattrSession)
	}
	return names, nil
}

// CopyXattr follows the getxattr(2) buffer protocol: an empty dest asks for
// the size, a short one is an ERANGE.
func CopyXattr(value, dest []byte) (int, error) {
	if len(dest) == 0 {
		return len(value), nil
	}
	if len(dest) < len(value) {
		return 0, errors.NewError(errors.ErrCodeRangeTooSmall, "attribute buffer too small")
	}
	return copy(dest, value), nil
}

// PackXattrNames encodes names as listxattr(2) expects them, NUL terminated.
func PackXattrNames(names []string) []byte {
	var out []byte
	for _, n := range names {
		out = append(out, n...)
		out = append(out, 0)
	}
	return out
}
