package fuse

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/bucketfs/internal/filesystem"
	"github.com/objectfs/bucketfs/internal/namespace"
	"github.com/objectfs/bucketfs/pkg/types"
)

// DefaultTimeout is how long the kernel may cache entries and attributes.
const DefaultTimeout = time.Second

// bridge carries what every node needs. Nodes hold only their identity; all
// state lives in the filesystem.
type bridge struct {
	fsys    *filesystem.FileSystem
	timeout time.Duration
}

type node struct {
	fs.Inode
	b  *bridge
	id uint64
}

// DirectoryNode represents a directory in the filesystem
type DirectoryNode struct {
	node
}

// FileNode represents a file in the filesystem
type FileNode struct {
	node
}

// FileHandle represents an open file handle
type FileHandle struct {
	b  *bridge
	id uint64
	fh uint64
}

var (
	_ fs.NodeGetattrer     = (*node)(nil)
	_ fs.NodeAccesser      = (*node)(nil)
	_ fs.NodeGetxattrer    = (*node)(nil)
	_ fs.NodeListxattrer   = (*node)(nil)
	_ fs.NodeSetxattrer    = (*node)(nil)
	_ fs.NodeRemovexattrer = (*node)(nil)
	_ fs.NodeSetattrer     = (*node)(nil)
	_ fs.NodeStatfser      = (*node)(nil)

	_ fs.NodeLookuper  = (*DirectoryNode)(nil)
	_ fs.NodeReaddirer = (*DirectoryNode)(nil)
	_ fs.NodeMkdirer   = (*DirectoryNode)(nil)
	_ fs.NodeCreater   = (*DirectoryNode)(nil)
	_ fs.NodeMknoder   = (*DirectoryNode)(nil)
	_ fs.NodeUnlinker  = (*DirectoryNode)(nil)
	_ fs.NodeRmdirer   = (*DirectoryNode)(nil)
	_ fs.NodeRenamer   = (*DirectoryNode)(nil)
	_ fs.NodeSymlinker = (*DirectoryNode)(nil)
	_ fs.NodeLinker    = (*DirectoryNode)(nil)

	_ fs.NodeOpener = (*FileNode)(nil)

	_ fs.FileReader   = (*FileHandle)(nil)
	_ fs.FileWriter   = (*FileHandle)(nil)
	_ fs.FileReleaser = (*FileHandle)(nil)
	_ fs.FileFsyncer  = (*FileHandle)(nil)
)

// NewRoot returns the root directory node for fsys. A zero timeout means
// DefaultTimeout.
func NewRoot(fsys *filesystem.FileSystem, timeout time.Duration) *DirectoryNode {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DirectoryNode{node{b: &bridge{fsys: fsys, timeout: timeout}, id: namespace.RootID}}
}

// Lookup looks up a child node by name
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	attr, err := n.b.fsys.Lookup(ctx, n.id, name)
	if err != nil {
		return nil, ToErrno(err)
	}

	fillAttr(&out.Attr, attr)
	out.SetEntryTimeout(n.b.timeout)
	out.SetAttrTimeout(n.b.timeout)
	return n.newChild(ctx, attr.ID, attr.Kind), 0
}

// Readdir reads directory contents. The kernel bridge adds "." and "..".
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.b.fsys.ListDirectory(ctx, n.id)
	if err != nil {
		return nil, ToErrno(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Ino: e.ID, Mode: fileType(e.Kind)})
	}
	return fs.NewListDirStream(out), 0
}

// Mkdir is rejected.
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, ToErrno(n.b.fsys.Mkdir(ctx, n.id, name, mode))
}

// Create is rejected.
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, ToErrno(n.b.fsys.Create(ctx, n.id, name, mode))
}

// Mknod is rejected.
func (n *DirectoryNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, ToErrno(n.b.fsys.Mknod(ctx, n.id, name, mode))
}

// Unlink is rejected.
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return ToErrno(n.b.fsys.Unlink(ctx, n.id, name))
}

// Rmdir is rejected.
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return ToErrno(n.b.fsys.Rmdir(ctx, n.id, name))
}

// Rename is rejected.
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return ToErrno(n.b.fsys.Rename(ctx, n.id, name, inodeID(newParent), newName))
}

// Symlink is rejected.
func (n *DirectoryNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, ToErrno(n.b.fsys.Symlink(ctx, n.id, name, target))
}

// Link is rejected.
func (n *DirectoryNode) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, ToErrno(n.b.fsys.Link(ctx, inodeID(target), n.id, name))
}

// Open opens a file
func (f *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	fh, err := f.b.fsys.Open(ctx, f.id, flags)
	if err != nil {
		return nil, 0, ToErrno(err)
	}
	// Objects do not change under a mount, so page cache survives reopen.
	return &FileHandle{b: f.b, id: f.id, fh: fh}, fuse.FOPEN_KEEP_CACHE, 0
}

// Getattr gets file attributes
func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.b.fsys.GetAttributes(ctx, n.id)
	if err != nil {
		return ToErrno(err)
	}
	fillAttr(&out.Attr, attr)
	out.SetTimeout(n.b.timeout)
	return 0
}

// Setattr is rejected.
func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return ToErrno(n.b.fsys.Setattr(ctx, n.id))
}

func (n *node) Access(ctx context.Context, mask uint32) syscall.Errno {
	return ToErrno(n.b.fsys.Access(ctx, n.id, mask))
}

func (n *node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, err := n.b.fsys.Getxattr(ctx, n.id, attr)
	if err != nil {
		return 0, ToErrno(err)
	}
	sz, err := filesystem.CopyXattr(value, dest)
	if err != nil {
		return uint32(len(value)), ToErrno(err)
	}
	return uint32(sz), 0
}

func (n *node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	names, err := n.b.fsys.Listxattr(ctx, n.id)
	if err != nil {
		return 0, ToErrno(err)
	}
	packed := filesystem.PackXattrNames(names)
	sz, err := filesystem.CopyXattr(packed, dest)
	if err != nil {
		return uint32(len(packed)), ToErrno(err)
	}
	return uint32(sz), 0
}

func (n *node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return ToErrno(n.b.fsys.Setxattr(ctx, n.id, attr, data))
}

func (n *node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return ToErrno(n.b.fsys.Removexattr(ctx, n.id, attr))
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st := n.b.fsys.Statfs()
	out.Blocks = st.TotalBlocks
	out.Bfree = st.FreeBlocks
	out.Bavail = st.AvailBlocks
	out.Files = st.TotalInodes
	out.Ffree = st.FreeInodes
	out.Bsize = st.BlockSize
	out.Frsize = st.BlockSize
	out.NameLen = st.MaxNameLength
	return 0
}

// Read reads data from the file
func (h *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := h.b.fsys.Read(ctx, h.id, h.fh, off, len(dest))
	if err != nil {
		return nil, ToErrno(err)
	}
	return fuse.ReadResultData(data), 0
}

// Write is rejected.
func (h *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	_, err := h.b.fsys.Write(ctx, h.id, h.fh, off, data)
	return 0, ToErrno(err)
}

func (h *FileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return ToErrno(h.b.fsys.Fsync(ctx, h.id, h.fh))
}

// Release releases the file handle
func (h *FileHandle) Release(ctx context.Context) syscall.Errno {
	h.b.fsys.Release(h.fh)
	return 0
}

// newChild returns the inode for id, reusing the live one when the kernel
// still knows it.
func (n *DirectoryNode) newChild(ctx context.Context, id uint64, kind types.Kind) *fs.Inode {
	var child fs.InodeEmbedder
	if kind == types.KindDirectory {
		child = &DirectoryNode{node{b: n.b, id: id}}
	} else {
		child = &FileNode{node{b: n.b, id: id}}
	}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fileType(kind), Ino: id})
}

func fillAttr(out *fuse.Attr, attr filesystem.Attributes) {
	out.Ino = attr.ID
	out.Size = attr.Size
	out.Blocks = attr.Blocks
	out.Blksize = attr.Blksize
	out.Mode = attr.Mode
	out.Nlink = attr.Nlink
	out.Owner = fuse.Owner{Uid: attr.UID, Gid: attr.GID}
	mtime := attr.Mtime
	out.SetTimes(&mtime, &mtime, &mtime)
}

func fileType(kind types.Kind) uint32 {
	if kind == types.KindDirectory {
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

func inodeID(e fs.InodeEmbedder) uint64 {
	if e == nil {
		return 0
	}
	return e.EmbeddedInode().StableAttr().Ino
}
