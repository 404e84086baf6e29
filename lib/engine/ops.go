// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"io"
	iofs "io/fs"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/bureau-foundation/branchfs/lib/branch"
	"github.com/bureau-foundation/branchfs/lib/policy"
	"github.com/bureau-foundation/branchfs/lib/ugid"
	"golang.org/x/sys/unix"
)

// Getattr stats the entry through the search policy. The control path
// answers with a synthetic empty regular file so attribute tools can
// address it without a backing store.
func (e *Engine) Getattr(c Caller, rel string) (unix.Stat_t, syscall.Errno) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config

	var st unix.Stat_t
	if rel == config.ControlFile {
		now := unix.NsecToTimespec(time.Now().UnixNano())
		st.Mode = unix.S_IFREG | 0o644
		st.Nlink = 1
		st.Atim, st.Mtim, st.Ctim = now, now, now
		return st, 0
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	best, errno := resolveSearch(config, OpGetattr, rel)
	if errno != 0 {
		return st, errno
	}
	if err := unix.Lstat(best.FullPath(rel), &st); err != nil {
		return st, errnoOf(err)
	}
	if symlinkifies(config, &st) {
		st.Mode = unix.S_IFLNK | 0o777
		st.Size = int64(len(best.FullPath(rel)))
	}
	return st, 0
}

// Access checks permissions as the caller on the search-selected
// branch. The control path is always accessible.
func (e *Engine) Access(c Caller, rel string, mask uint32) syscall.Errno {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config
	if rel == config.ControlFile {
		return 0
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	best, errno := resolveSearch(config, OpAccess, rel)
	if errno != 0 {
		return errno
	}
	if err := unix.Faccessat(unix.AT_FDCWD, best.FullPath(rel), mask, unix.AT_EACCESS); err != nil {
		return errnoOf(err)
	}
	return 0
}

// Readlink resolves the link target on the search-selected branch.
// Symlinkified regular files report their fully qualified branch path
// as the target.
func (e *Engine) Readlink(c Caller, rel string) (string, syscall.Errno) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	best, errno := resolveSearch(config, OpReadlink, rel)
	if errno != 0 {
		return "", errno
	}
	full := best.FullPath(rel)
	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err != nil {
		return "", errnoOf(err)
	}
	if symlinkifies(config, &st) {
		return full, 0
	}
	target, err := os.Readlink(full)
	if err != nil {
		return "", errnoOf(err)
	}
	return target, 0
}

// Open opens an existing entry on the search-selected branch and
// returns the descriptor plus the fully qualified path it refers to.
func (e *Engine) Open(c Caller, rel string, flags int) (int, string, syscall.Errno) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config
	if rel == config.ControlFile {
		return -1, "", syscall.EACCES
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	best, errno := resolveSearch(config, OpOpen, rel)
	if errno != 0 {
		return -1, "", errno
	}
	full := best.FullPath(rel)
	fd, err := unix.Open(full, flags, 0)
	if err != nil {
		return -1, "", errnoOf(err)
	}
	return fd, full, 0
}

// Create places a new file on the create-selected branch, cloning the
// parent directory chain onto that branch when absent.
func (e *Engine) Create(c Caller, rel string, flags int, mode uint32) (int, string, syscall.Errno) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config
	if rel == config.ControlFile {
		return -1, "", syscall.EEXIST
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	best, errno := resolveCreate(config, OpCreate, rel)
	if errno != 0 {
		return -1, "", errno
	}
	if err := cloneParent(config, best, rel); err != nil {
		return -1, "", errnoOf(err)
	}
	full := best.FullPath(rel)
	fd, err := unix.Open(full, flags|unix.O_CREAT, mode)
	if err != nil {
		return -1, "", errnoOf(err)
	}
	return fd, full, 0
}

// Mkdir creates a directory on the create-selected branch.
func (e *Engine) Mkdir(c Caller, rel string, mode uint32) syscall.Errno {
	return e.createEntry(c, OpMkdir, rel, func(full string) error {
		return unix.Mkdir(full, mode)
	})
}

// Mknod creates a device or special file on the create-selected
// branch.
func (e *Engine) Mknod(c Caller, rel string, mode uint32, dev uint64) syscall.Errno {
	return e.createEntry(c, OpMknod, rel, func(full string) error {
		return unix.Mknod(full, mode, int(dev))
	})
}

// Symlink creates a symlink on the create-selected branch.
func (e *Engine) Symlink(c Caller, target, rel string) syscall.Errno {
	return e.createEntry(c, OpSymlink, rel, func(full string) error {
		return unix.Symlink(target, full)
	})
}

func (e *Engine) createEntry(c Caller, op Op, rel string, fn func(full string) error) syscall.Errno {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config
	if rel == config.ControlFile {
		return syscall.EEXIST
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	best, errno := resolveCreate(config, op, rel)
	if errno != 0 {
		return errno
	}
	if err := cloneParent(config, best, rel); err != nil {
		return errnoOf(err)
	}
	if err := fn(best.FullPath(rel)); err != nil {
		return errnoOf(err)
	}
	return 0
}

// Unlink removes a file from every branch holding it.
func (e *Engine) Unlink(c Caller, rel string) syscall.Errno {
	return e.actionEntry(c, OpUnlink, rel, syscall.EPERM, unix.Unlink)
}

// Rmdir removes a directory from every branch holding it. Removing
// the control path is always rejected.
func (e *Engine) Rmdir(c Caller, rel string) syscall.Errno {
	return e.actionEntry(c, OpRmdir, rel, syscall.ENOTDIR, unix.Rmdir)
}

// Chmod applies a mode change to every branch holding the entry.
func (e *Engine) Chmod(c Caller, rel string, mode uint32) syscall.Errno {
	return e.actionEntry(c, OpChmod, rel, syscall.EPERM, func(full string) error {
		return unix.Fchmodat(unix.AT_FDCWD, full, mode, 0)
	})
}

// Chown applies an ownership change to every branch holding the
// entry.
func (e *Engine) Chown(c Caller, rel string, uid, gid int) syscall.Errno {
	return e.actionEntry(c, OpChown, rel, syscall.EPERM, func(full string) error {
		return unix.Lchown(full, uid, gid)
	})
}

// Truncate resizes the file on every branch holding it. Growth beyond
// the configured maximum size is rejected.
func (e *Engine) Truncate(c Caller, rel string, size int64) syscall.Errno {
	if max := e.Snapshot().MaxSize; max > 0 && size > int64(max) {
		return syscall.EFBIG
	}
	return e.actionEntry(c, OpTruncate, rel, syscall.EPERM, func(full string) error {
		return unix.Truncate(full, size)
	})
}

// Utimens sets timestamps on every branch holding the entry.
func (e *Engine) Utimens(c Caller, rel string, atime, mtime unix.Timespec) syscall.Errno {
	times := []unix.Timespec{atime, mtime}
	return e.actionEntry(c, OpUtimens, rel, syscall.EPERM, func(full string) error {
		return unix.UtimesNanoAt(unix.AT_FDCWD, full, times, unix.AT_SYMLINK_NOFOLLOW)
	})
}

func (e *Engine) actionEntry(c Caller, op Op, rel string, controlErrno syscall.Errno, fn func(full string) error) syscall.Errno {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config
	if rel == config.ControlFile {
		return controlErrno
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	return action(config, op, rel, fn)
}

// Link hard-links oldRel to newRel within every branch holding the
// source, cloning the destination parent as needed.
func (e *Engine) Link(c Caller, oldRel, newRel string) syscall.Errno {
	return e.pairedAction(c, OpLink, oldRel, newRel, unix.Link)
}

// Rename moves oldRel to newRel within every branch holding the
// source, cloning the destination parent as needed. The rename never
// crosses branches.
func (e *Engine) Rename(c Caller, oldRel, newRel string) syscall.Errno {
	return e.pairedAction(c, OpRename, oldRel, newRel, unix.Rename)
}

func (e *Engine) pairedAction(c Caller, op Op, oldRel, newRel string, fn func(oldFull, newFull string) error) syscall.Errno {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config
	if oldRel == config.ControlFile || newRel == config.ControlFile {
		return syscall.EPERM
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	p, ok := policy.Lookup(config.Policies[op])
	if !ok || p.Action == nil {
		return syscall.EINVAL
	}
	targets, err := p.Action(config.Branches, oldRel)
	if err != nil {
		return errnoOf(err)
	}
	succeeded := false
	var lastErr error
	for _, b := range targets {
		if err := cloneParent(config, b, newRel); err != nil {
			lastErr = err
			continue
		}
		if err := fn(b.FullPath(oldRel), b.FullPath(newRel)); err != nil {
			lastErr = err
		} else {
			succeeded = true
		}
	}
	if succeeded {
		return 0
	}
	return errnoOf(lastErr)
}

// DirEntry is one merged directory entry.
type DirEntry struct {
	Name string
	Mode uint32
}

// Readdir merges directory listings across every branch, first branch
// wins on duplicate names. The control file is never listed.
func (e *Engine) Readdir(c Caller, rel string) ([]DirEntry, syscall.Errno) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	controlDir, controlName := path.Split(config.ControlFile)
	hideControl := path.Clean(controlDir) == rel

	seen := make(map[string]bool)
	var entries []DirEntry
	found := false
	for _, b := range config.Branches {
		list, err := os.ReadDir(b.FullPath(rel))
		if err != nil {
			continue
		}
		found = true
		for _, ent := range list {
			name := ent.Name()
			if seen[name] || (hideControl && name == controlName) {
				continue
			}
			seen[name] = true
			entries = append(entries, DirEntry{Name: name, Mode: modeToUnix(ent.Type())})
		}
	}
	if !found {
		return nil, syscall.ENOENT
	}
	return entries, 0
}

// StatfsData is the merged filesystem statistics over all branches,
// normalized to a common block size.
type StatfsData struct {
	Bsize   uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	NameLen uint32
}

// Statfs aggregates capacity over every branch.
func (e *Engine) Statfs() (StatfsData, syscall.Errno) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config

	var out StatfsData
	var raw []unix.Statfs_t
	for _, b := range config.Branches {
		var st unix.Statfs_t
		if err := unix.Statfs(b.Path, &st); err != nil {
			continue
		}
		raw = append(raw, st)
		if uint32(st.Bsize) > out.Bsize {
			out.Bsize = uint32(st.Bsize)
		}
		if out.NameLen == 0 || uint32(st.Namelen) < out.NameLen {
			out.NameLen = uint32(st.Namelen)
		}
	}
	if len(raw) == 0 {
		return out, syscall.ENOENT
	}
	for _, st := range raw {
		scale := uint64(st.Bsize)
		out.Blocks += st.Blocks * scale / uint64(out.Bsize)
		out.Bfree += st.Bfree * scale / uint64(out.Bsize)
		out.Bavail += st.Bavail * scale / uint64(out.Bsize)
		out.Files += st.Files
		out.Ffree += st.Ffree
	}
	return out, 0
}

// RelocateOnENOSPC moves the file at rel from its current branch to
// the branch with the most free space, then reopens it with the given
// flags. Called by the write path when a write fails with ENOSPC and
// the move-on-out-of-space flag is set. Returns the replacement
// descriptor and fully qualified path.
func (e *Engine) RelocateOnENOSPC(c Caller, rel, currentFull string, flags int) (int, string, syscall.Errno) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config
	if !config.MoveOnENOSPC {
		return -1, "", syscall.ENOSPC
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	mfs, _ := policy.Lookup("mfs")
	candidates, err := mfs.Create(config.Branches, rel, config.MinFreeSpace)
	if err != nil {
		return -1, "", syscall.ENOSPC
	}
	var dst branch.Branch
	ok := false
	for _, cand := range candidates {
		if cand.FullPath(rel) != currentFull {
			dst = cand
			ok = true
			break
		}
	}
	if !ok {
		return -1, "", syscall.ENOSPC
	}
	if err := cloneParent(config, dst, rel); err != nil {
		return -1, "", errnoOf(err)
	}

	full := dst.FullPath(rel)
	if err := copyFile(currentFull, full); err != nil {
		e.logger.Warn("relocation failed", "from", currentFull, "to", full, "error", err)
		unix.Unlink(full)
		return -1, "", syscall.ENOSPC
	}
	unix.Unlink(currentFull)

	fd, err := unix.Open(full, flags&^(unix.O_CREAT|unix.O_EXCL|unix.O_TRUNC), 0)
	if err != nil {
		return -1, "", errnoOf(err)
	}
	e.logger.Info("relocated file on ENOSPC", "path", rel, "branch", dst.Path)
	return fd, full, 0
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	dst, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// symlinkifies reports whether the stat describes a regular file old
// enough to present as a symlink under the symlinkify flag.
func symlinkifies(config *Config, st *unix.Stat_t) bool {
	if !config.Symlinkify || config.SymlinkifyTimeout <= 0 {
		return false
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return false
	}
	cutoff := time.Now().Add(-config.SymlinkifyTimeout)
	mtime := time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
	ctime := time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	return mtime.Before(cutoff) && ctime.Before(cutoff)
}

func modeToUnix(m iofs.FileMode) uint32 {
	switch {
	case m.IsDir():
		return unix.S_IFDIR
	case m&iofs.ModeSymlink != 0:
		return unix.S_IFLNK
	case m&iofs.ModeNamedPipe != 0:
		return unix.S_IFIFO
	case m&iofs.ModeSocket != 0:
		return unix.S_IFSOCK
	case m&iofs.ModeCharDevice != 0:
		return unix.S_IFCHR
	case m&iofs.ModeDevice != 0:
		return unix.S_IFBLK
	}
	return unix.S_IFREG
}
