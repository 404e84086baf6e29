// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"strings"
	"syscall"

	"github.com/bureau-foundation/branchfs/lib/branch"
	"github.com/bureau-foundation/branchfs/lib/ugid"
	"golang.org/x/sys/unix"
)

// Getxattr serves an attribute read. Reads against the control path
// come entirely from the in-memory snapshot; reads of the reserved
// namespace on any other path answer the per-path diagnostics; all
// other attributes pass through to the search-selected branch.
//
// Buffer protocol (every attribute read in this driver): a
// zero-length dest is a size probe returning the value's byte length
// with no copy; a nonzero dest shorter than the value fails with
// ERANGE; otherwise the value is copied and its length returned.
func (e *Engine) Getxattr(c Caller, rel, attr string, dest []byte) (int, syscall.Errno) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config

	if rel == config.ControlFile {
		return controlGetxattr(config, attr, dest)
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	best, errno := resolveSearch(config, OpGetxattr, rel)
	if errno != 0 {
		return 0, errno
	}
	full := best.FullPath(rel)
	if strings.HasPrefix(attr, xattrPrefix) {
		return diagnosticGetxattr(config, best, rel, full, attr, dest)
	}
	n, err := unix.Lgetxattr(full, attr, dest)
	if err != nil {
		return 0, errnoOf(err)
	}
	return n, 0
}

// Listxattr lists attribute names. The control path enumerates every
// control key; other paths pass through to the search-selected
// branch.
func (e *Engine) Listxattr(c Caller, rel string, dest []byte) (int, syscall.Errno) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	config := e.config

	if rel == config.ControlFile {
		return copyValue(dest, controlKeyList())
	}

	scope := ugid.Set(c.UID, c.GID)
	defer scope.Restore()

	best, errno := resolveSearch(config, OpListxattr, rel)
	if errno != 0 {
		return 0, errno
	}
	n, err := unix.Llistxattr(best.FullPath(rel), dest)
	if err != nil {
		return 0, errnoOf(err)
	}
	return n, 0
}

// Setxattr writes an attribute. Writes against the control path drive
// runtime reconfiguration; writes elsewhere propagate to every branch
// holding the entry.
func (e *Engine) Setxattr(c Caller, rel, attr string, value []byte, flags uint32) syscall.Errno {
	if e.IsControl(rel) {
		return e.controlSetxattr(attr, string(value))
	}
	return e.actionEntry(c, OpSetxattr, rel, syscall.EPERM, func(full string) error {
		return unix.Lsetxattr(full, attr, value, int(flags))
	})
}

// Removexattr removes an attribute from every branch holding the
// entry. Control keys cannot be removed.
func (e *Engine) Removexattr(c Caller, rel, attr string) syscall.Errno {
	if e.IsControl(rel) {
		return syscall.ENODATA
	}
	return e.actionEntry(c, OpRemovexattr, rel, syscall.ENODATA, func(full string) error {
		return unix.Lremovexattr(full, attr)
	})
}

// diagnosticGetxattr answers the reserved per-path keys. basepath,
// relpath, and fullpath describe the search-selected branch; allpaths
// enumerates existence across all branches unconditionally.
func diagnosticGetxattr(config *Config, best branch.Branch, rel, full, attr string, dest []byte) (int, syscall.Errno) {
	switch strings.TrimPrefix(attr, xattrPrefix) {
	case "basepath":
		return copyValue(dest, []byte(best.Path))
	case "relpath":
		return copyValue(dest, []byte(rel))
	case "fullpath":
		return copyValue(dest, []byte(full))
	case "allpaths":
		var paths []string
		for _, b := range config.Branches {
			if b.Contains(rel) {
				paths = append(paths, b.FullPath(rel))
			}
		}
		return copyValue(dest, []byte(strings.Join(paths, "\x00")))
	}
	return 0, syscall.ENODATA
}

// copyValue implements the size-probe/ERANGE buffer protocol.
func copyValue(dest, value []byte) (int, syscall.Errno) {
	if len(dest) == 0 {
		return len(value), 0
	}
	if len(value) > len(dest) {
		return 0, syscall.ERANGE
	}
	copy(dest, value)
	return len(value), 0
}
