// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package branch defines the branch descriptor: one backing directory
// tree participating in the merged view. A branch carries its mount
// mode and an optional per-branch minimum-free-space override. Free
// space is always queried live from the backing store, never cached.
package branch

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Mode controls how a branch participates in writes.
type Mode uint8

const (
	// ReadWrite branches accept all operations.
	ReadWrite Mode = iota
	// ReadOnly branches are never selected for creates and are not
	// written through the merged view.
	ReadOnly
	// NoCreate branches accept writes to existing entries but are
	// never selected for new ones.
	NoCreate
)

// ParseMode parses the textual branch mode used in configuration
// files and branch flags ("rw", "ro", "nc", case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "rw":
		return ReadWrite, nil
	case "ro":
		return ReadOnly, nil
	case "nc":
		return NoCreate, nil
	}
	return ReadWrite, fmt.Errorf("unknown branch mode %q (want rw, ro, or nc)", s)
}

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "ro"
	case NoCreate:
		return "nc"
	}
	return "rw"
}

// Branch is one backing directory tree.
type Branch struct {
	// Path is the branch root on the host filesystem.
	Path string

	// Mode controls write eligibility.
	Mode Mode

	// MinFreeSpace, when nonzero, overrides the global
	// minimum-free-space threshold for this branch.
	MinFreeSpace uint64
}

// Parse parses the "path", "path=ro", "path=nc" branch syntax used on
// the command line.
func Parse(s string) (Branch, error) {
	path, modeStr, _ := strings.Cut(s, "=")
	if path == "" {
		return Branch{}, fmt.Errorf("empty branch path in %q", s)
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return Branch{}, err
	}
	return Branch{Path: filepath.Clean(path), Mode: mode}, nil
}

// FreeSpace returns the bytes available to unprivileged callers on the
// branch's backing filesystem.
func (b Branch) FreeSpace() (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(b.Path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", b.Path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// EffectiveMinFree returns the minimum-free-space threshold for this
// branch given the global default.
func (b Branch) EffectiveMinFree(global uint64) uint64 {
	if b.MinFreeSpace != 0 {
		return b.MinFreeSpace
	}
	return global
}

// FullPath joins the branch root with a path relative to the merged
// root. The relative path always begins with "/".
func (b Branch) FullPath(rel string) string {
	return filepath.Join(b.Path, rel)
}

// Contains reports whether the branch holds an entry at rel. Symlinks
// count as present without being followed.
func (b Branch) Contains(rel string) bool {
	var st unix.Stat_t
	return unix.Lstat(b.FullPath(rel), &st) == nil
}

// Stat lstats the entry at rel on this branch.
func (b Branch) Stat(rel string) (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Lstat(b.FullPath(rel), &st); err != nil {
		return st, err
	}
	return st, nil
}

// Existing filters branches down to those containing rel, preserving
// order.
func Existing(branches []Branch, rel string) []Branch {
	var out []Branch
	for _, b := range branches {
		if b.Contains(rel) {
			out = append(out, b)
		}
	}
	return out
}
