// Package filesystem implements the read path of bucketfs independently of
// any particular FUSE binding. Bridges translate their callbacks into these
// operations and map the returned errors with their own errno table.
package filesystem

import (
	"time"

	"github.com/objectfs/bucketfs/pkg/types"
)

// POSIX file type bits, identical on every platform bucketfs mounts on.
const (
	ModeDir     uint32 = 0o040000
	ModeRegular uint32 = 0o100000

	DirPerm  uint32 = 0o755
	FilePerm uint32 = 0o644

	BlockSize   uint32 = 4096
	MaxNameLen  uint32 = 1024
	sectorBytes int64  = 512
)

// access(2) mask bits.
const (
	AccessExists  uint32 = 0
	AccessExecute uint32 = 1
	AccessWrite   uint32 = 2
	AccessRead    uint32 = 4
)

// Extended attribute names exposed on every entry.
const (
	XattrKey     = "user.bucketfs.key"
	XattrETag    = "user.bucketfs.etag"
	XattrSession = "user.bucketfs.session"
)

// Attributes is what getattr and lookup report for an entry.
type Attributes struct {
	ID      uint64
	Kind    types.Kind
	Size    uint64
	Blocks  uint64
	Blksize uint32
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Mtime   time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attributes) IsDir() bool {
	return a.Kind == types.KindDirectory
}

// StatfsInfo represents filesystem statistics
type StatfsInfo struct {
	TotalBlocks   uint64
	FreeBlocks    uint64
	AvailBlocks   uint64
	TotalInodes   uint64
	FreeInodes    uint64
	BlockSize     uint32
	MaxNameLength uint32
}
