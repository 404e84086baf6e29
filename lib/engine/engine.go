// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/bureau-foundation/branchfs/lib/branch"
	"github.com/bureau-foundation/branchfs/lib/policy"
)

// Caller is the principal on whose behalf one operation executes.
// Supplied by the FUSE request context.
type Caller struct {
	UID uint32
	GID uint32
}

// Engine dispatches filesystem operations across the branch set. All
// methods are safe for concurrent use: readers share the snapshot
// under a read lock for the duration of one operation; configuration
// changes install a wholly new snapshot under the write lock.
type Engine struct {
	mu     sync.RWMutex
	config *Config
	logger *slog.Logger
}

// New validates the snapshot and returns an engine serving it.
func New(config *Config, logger *slog.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	return &Engine{config: config, logger: logger}, nil
}

// Reconfigure replaces the entire snapshot. Operations in flight keep
// the snapshot they started with; new operations see the replacement.
func (e *Engine) Reconfigure(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.config = config
	e.mu.Unlock()
	e.logger.Info("configuration replaced", "branches", len(config.Branches))
	return nil
}

// Snapshot returns the current configuration snapshot. The returned
// value is shared and must not be mutated.
func (e *Engine) Snapshot() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// IsControl reports whether rel is the reserved control path.
func (e *Engine) IsControl(rel string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return rel == e.config.ControlFile
}

// resolveSearch resolves the single best branch for a read of an
// existing entry.
func resolveSearch(config *Config, op Op, rel string) (branch.Branch, syscall.Errno) {
	p, ok := policy.Lookup(config.Policies[op])
	if !ok || p.Search == nil {
		return branch.Branch{}, syscall.EINVAL
	}
	candidates, err := p.Search(config.Branches, rel, config.MinFreeSpace)
	if err != nil {
		return branch.Branch{}, errnoOf(err)
	}
	return candidates[0], 0
}

// resolveCreate resolves the single branch to receive a new entry.
func resolveCreate(config *Config, op Op, rel string) (branch.Branch, syscall.Errno) {
	p, ok := policy.Lookup(config.Policies[op])
	if !ok || p.Create == nil {
		return branch.Branch{}, syscall.EINVAL
	}
	candidates, err := p.Create(config.Branches, rel, config.MinFreeSpace)
	if err != nil {
		return branch.Branch{}, errnoOf(err)
	}
	return candidates[0], 0
}

// action resolves every branch holding rel and applies fn to each in
// branch order. The aggregate succeeds if at least one call succeeded;
// otherwise it reports the error of the last attempted branch. An
// empty candidate set fails immediately with no calls issued.
func action(config *Config, op Op, rel string, fn func(full string) error) syscall.Errno {
	p, ok := policy.Lookup(config.Policies[op])
	if !ok || p.Action == nil {
		return syscall.EINVAL
	}
	targets, err := p.Action(config.Branches, rel)
	if err != nil {
		return errnoOf(err)
	}
	succeeded := false
	var lastErr error
	for _, b := range targets {
		if err := fn(b.FullPath(rel)); err != nil {
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

// errnoOf maps an error to the errno reported to the kernel.
// Underlying store errors pass through verbatim; resolution failures
// map to their semantic equivalent.
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	switch {
	case errors.Is(err, policy.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, policy.ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	}
	return syscall.EIO
}
