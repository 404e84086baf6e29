// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fusefs

import (
	"context"
	"errors"
	"sync"
	"syscall"

	"github.com/bureau-foundation/branchfs/lib/engine"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// branchFile is an open descriptor on one branch. It remembers the
// fully qualified path and open flags so the write path can relocate
// the file to another branch when a write hits ENOSPC and the
// move-on-out-of-space flag is set.
type branchFile struct {
	mu      sync.Mutex
	fd      int
	full    string
	rel     string
	flags   int
	caller  engine.Caller
	options *Options
}

var _ gofuse.FileReader = (*branchFile)(nil)
var _ gofuse.FileWriter = (*branchFile)(nil)
var _ gofuse.FileFlusher = (*branchFile)(nil)
var _ gofuse.FileReleaser = (*branchFile)(nil)
var _ gofuse.FileFsyncer = (*branchFile)(nil)

func newBranchFile(fd int, full, rel string, flags int, caller engine.Caller, options *Options) *branchFile {
	return &branchFile{
		fd:      fd,
		full:    full,
		rel:     rel,
		flags:   flags,
		caller:  caller,
		options: options,
	}
}

func (f *branchFile) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := unix.Pread(f.fd, dest, off)
	if err != nil {
		return nil, gofuse.ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *branchFile) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()

	config := f.options.Engine.Snapshot()
	if config.MaxSize > 0 && off+int64(len(data)) > int64(config.MaxSize) {
		return 0, syscall.EFBIG
	}

	n, err := unix.Pwrite(f.fd, data, off)
	if errors.Is(err, unix.ENOSPC) {
		if errno := f.relocate(); errno != 0 {
			return 0, errno
		}
		n, err = unix.Pwrite(f.fd, data, off)
	}
	if err != nil {
		return 0, gofuse.ToErrno(err)
	}
	return uint32(n), 0
}

// relocate moves the file to the branch with the most free space and
// swaps the handle's descriptor. Caller holds f.mu.
func (f *branchFile) relocate() syscall.Errno {
	newFd, newFull, errno := f.options.Engine.RelocateOnENOSPC(f.caller, f.rel, f.full, f.flags)
	if errno != 0 {
		return errno
	}
	unix.Close(f.fd)
	f.fd = newFd
	f.full = newFull
	return 0
}

func (f *branchFile) Flush(_ context.Context) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Flush is called on every descriptor close; closing a dup
	// releases POSIX locks and surfaces deferred write errors without
	// invalidating the handle for later calls.
	dupFd, err := unix.Dup(f.fd)
	if err != nil {
		return gofuse.ToErrno(err)
	}
	if err := unix.Close(dupFd); err != nil {
		return gofuse.ToErrno(err)
	}
	return 0
}

func (f *branchFile) Release(_ context.Context) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fd < 0 {
		return syscall.EBADF
	}
	if f.options.Engine.Snapshot().DropCacheOnClose {
		unix.Fadvise(f.fd, 0, 0, unix.FADV_DONTNEED)
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return gofuse.ToErrno(err)
}

func (f *branchFile) Fsync(_ context.Context, flags uint32) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Bit 0 of the fsync flags is FUSE_FSYNC_FDATASYNC.
	if flags&1 != 0 {
		return gofuse.ToErrno(unix.Fdatasync(f.fd))
	}
	return gofuse.ToErrno(unix.Fsync(f.fd))
}

// getattr serves fstat on the open descriptor, keeping attribute
// reads coherent with in-flight writes and relocations.
func (f *branchFile) getattr(out *fuse.AttrOut) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()

	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return gofuse.ToErrno(err)
	}
	fillAttr(&out.Attr, &st)
	return 0
}
