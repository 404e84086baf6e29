// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fusefs

import (
	"context"
	"path"
	"syscall"

	"github.com/bureau-foundation/branchfs/lib/engine"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// branchNode represents one path in the merged tree. Every operation
// recomputes its relative path and delegates to the engine; the node
// itself holds no branch state, so branch reconfiguration never
// invalidates the inode tree.
type branchNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*branchNode)(nil)
var _ gofuse.NodeLookuper = (*branchNode)(nil)
var _ gofuse.NodeGetattrer = (*branchNode)(nil)
var _ gofuse.NodeSetattrer = (*branchNode)(nil)
var _ gofuse.NodeReaddirer = (*branchNode)(nil)
var _ gofuse.NodeOpener = (*branchNode)(nil)
var _ gofuse.NodeCreater = (*branchNode)(nil)
var _ gofuse.NodeMkdirer = (*branchNode)(nil)
var _ gofuse.NodeMknoder = (*branchNode)(nil)
var _ gofuse.NodeRmdirer = (*branchNode)(nil)
var _ gofuse.NodeUnlinker = (*branchNode)(nil)
var _ gofuse.NodeRenamer = (*branchNode)(nil)
var _ gofuse.NodeSymlinker = (*branchNode)(nil)
var _ gofuse.NodeLinker = (*branchNode)(nil)
var _ gofuse.NodeReadlinker = (*branchNode)(nil)
var _ gofuse.NodeAccesser = (*branchNode)(nil)
var _ gofuse.NodeStatfser = (*branchNode)(nil)
var _ gofuse.NodeGetxattrer = (*branchNode)(nil)
var _ gofuse.NodeSetxattrer = (*branchNode)(nil)
var _ gofuse.NodeListxattrer = (*branchNode)(nil)
var _ gofuse.NodeRemovexattrer = (*branchNode)(nil)

// relPath is this node's path relative to the merged root, always
// beginning with "/".
func (n *branchNode) relPath() string {
	return "/" + n.Path(nil)
}

func (n *branchNode) childPath(name string) string {
	return path.Join(n.relPath(), name)
}

// callerFrom extracts the requesting principal from the FUSE context.
func callerFrom(ctx context.Context) engine.Caller {
	if caller, ok := fuse.FromContext(ctx); ok {
		return engine.Caller{UID: caller.Uid, GID: caller.Gid}
	}
	return engine.Caller{}
}

// fillAttr copies a stat into the FUSE attribute reply.
func fillAttr(out *fuse.Attr, st *unix.Stat_t) {
	out.Ino = st.Ino
	out.Size = uint64(st.Size)
	out.Blocks = uint64(st.Blocks)
	out.Atime = uint64(st.Atim.Sec)
	out.Atimensec = uint32(st.Atim.Nsec)
	out.Mtime = uint64(st.Mtim.Sec)
	out.Mtimensec = uint32(st.Mtim.Nsec)
	out.Ctime = uint64(st.Ctim.Sec)
	out.Ctimensec = uint32(st.Ctim.Nsec)
	out.Mode = st.Mode
	out.Nlink = uint32(st.Nlink)
	out.Uid = st.Uid
	out.Gid = st.Gid
	out.Rdev = uint32(st.Rdev)
	out.Blksize = uint32(st.Blksize)
}

// newChild wraps a freshly resolved entry in an inode.
func (n *branchNode) newChild(ctx context.Context, st *unix.Stat_t, out *fuse.EntryOut) *gofuse.Inode {
	fillAttr(&out.Attr, st)
	return n.NewInode(ctx, &branchNode{options: n.options}, gofuse.StableAttr{
		Mode: st.Mode & unix.S_IFMT,
	})
}

func (n *branchNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	st, errno := n.options.Engine.Getattr(callerFrom(ctx), n.childPath(name))
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, &st, out), 0
}

func (n *branchNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if fh, ok := f.(*branchFile); ok {
		return fh.getattr(out)
	}
	st, errno := n.options.Engine.Getattr(callerFrom(ctx), n.relPath())
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, &st)
	return 0
}

func (n *branchNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	caller := callerFrom(ctx)
	rel := n.relPath()
	eng := n.options.Engine

	if mode, ok := in.GetMode(); ok {
		if errno := eng.Chmod(caller, rel, mode); errno != 0 {
			return errno
		}
	}

	uid, hasUID := in.GetUID()
	gid, hasGID := in.GetGID()
	if hasUID || hasGID {
		ownerUID, ownerGID := -1, -1
		if hasUID {
			ownerUID = int(uid)
		}
		if hasGID {
			ownerGID = int(gid)
		}
		if errno := eng.Chown(caller, rel, ownerUID, ownerGID); errno != 0 {
			return errno
		}
	}

	if size, ok := in.GetSize(); ok {
		if errno := eng.Truncate(caller, rel, int64(size)); errno != 0 {
			return errno
		}
	}

	atime, hasATime := in.GetATime()
	mtime, hasMTime := in.GetMTime()
	if hasATime || hasMTime {
		omit := unix.Timespec{Nsec: unix.UTIME_OMIT}
		aspec, mspec := omit, omit
		if hasATime {
			aspec = unix.NsecToTimespec(atime.UnixNano())
		}
		if hasMTime {
			mspec = unix.NsecToTimespec(mtime.UnixNano())
		}
		if errno := eng.Utimens(caller, rel, aspec, mspec); errno != 0 {
			return errno
		}
	}

	st, errno := eng.Getattr(caller, rel)
	if errno != 0 {
		return errno
	}
	fillAttr(&out.Attr, &st)
	return 0
}

func (n *branchNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	merged, errno := n.options.Engine.Readdir(callerFrom(ctx), n.relPath())
	if errno != 0 {
		return nil, errno
	}
	entries := make([]fuse.DirEntry, len(merged))
	for i, ent := range merged {
		entries[i] = fuse.DirEntry{Name: ent.Name, Mode: ent.Mode}
	}
	return &sliceDirStream{entries: entries}, 0
}

func (n *branchNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	caller := callerFrom(ctx)
	fd, full, errno := n.options.Engine.Open(caller, n.relPath(), int(flags))
	if errno != 0 {
		return nil, 0, errno
	}
	return newBranchFile(fd, full, n.relPath(), int(flags), caller, n.options), 0, 0
}

func (n *branchNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	caller := callerFrom(ctx)
	rel := n.childPath(name)
	fd, full, errno := n.options.Engine.Create(caller, rel, int(flags), mode)
	if errno != 0 {
		return nil, nil, 0, errno
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, nil, 0, gofuse.ToErrno(err)
	}
	child := n.newChild(ctx, &st, out)
	return child, newBranchFile(fd, full, rel, int(flags), caller, n.options), 0, 0
}

func (n *branchNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	caller := callerFrom(ctx)
	rel := n.childPath(name)
	if errno := n.options.Engine.Mkdir(caller, rel, mode); errno != 0 {
		return nil, errno
	}
	st, errno := n.options.Engine.Getattr(caller, rel)
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, &st, out), 0
}

func (n *branchNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	caller := callerFrom(ctx)
	rel := n.childPath(name)
	if errno := n.options.Engine.Mknod(caller, rel, mode, uint64(dev)); errno != 0 {
		return nil, errno
	}
	st, errno := n.options.Engine.Getattr(caller, rel)
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, &st, out), 0
}

func (n *branchNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	caller := callerFrom(ctx)
	rel := n.childPath(name)
	if errno := n.options.Engine.Symlink(caller, target, rel); errno != 0 {
		return nil, errno
	}
	st, errno := n.options.Engine.Getattr(caller, rel)
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, &st, out), 0
}

func (n *branchNode) Link(ctx context.Context, target gofuse.InodeEmbedder, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	caller := callerFrom(ctx)
	oldRel := "/" + target.EmbeddedInode().Path(nil)
	newRel := n.childPath(name)
	if errno := n.options.Engine.Link(caller, oldRel, newRel); errno != 0 {
		return nil, errno
	}
	st, errno := n.options.Engine.Getattr(caller, newRel)
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, &st, out), 0
}

func (n *branchNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.options.Engine.Rmdir(callerFrom(ctx), n.childPath(name))
}

func (n *branchNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.options.Engine.Unlink(callerFrom(ctx), n.childPath(name))
}

func (n *branchNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.EINVAL
	}
	oldRel := n.childPath(name)
	newRel := path.Join("/"+newParent.EmbeddedInode().Path(nil), newName)
	return n.options.Engine.Rename(callerFrom(ctx), oldRel, newRel)
}

func (n *branchNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, errno := n.options.Engine.Readlink(callerFrom(ctx), n.relPath())
	if errno != 0 {
		return nil, errno
	}
	return []byte(target), 0
}

func (n *branchNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	return n.options.Engine.Access(callerFrom(ctx), n.relPath(), mask)
}

func (n *branchNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	data, errno := n.options.Engine.Statfs()
	if errno != 0 {
		return errno
	}
	out.Blocks = data.Blocks
	out.Bfree = data.Bfree
	out.Bavail = data.Bavail
	out.Files = data.Files
	out.Ffree = data.Ffree
	out.Bsize = data.Bsize
	out.Frsize = data.Bsize
	out.NameLen = data.NameLen
	return 0
}

func (n *branchNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	size, errno := n.options.Engine.Getxattr(callerFrom(ctx), n.relPath(), attr, dest)
	return uint32(size), errno
}

func (n *branchNode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return n.options.Engine.Setxattr(callerFrom(ctx), n.relPath(), attr, data, flags)
}

func (n *branchNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	size, errno := n.options.Engine.Listxattr(callerFrom(ctx), n.relPath(), dest)
	return uint32(size), errno
}

func (n *branchNode) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return n.options.Engine.Removexattr(callerFrom(ctx), n.relPath(), attr)
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
