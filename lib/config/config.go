// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the branchfs startup configuration.
//
// Configuration is loaded from a single file specified by:
//   - BRANCHFS_CONFIG environment variable, or
//   - --config flag passed to the daemon
//
// The file may be YAML (.yaml/.yml) or JSON with comments
// (.json/.jsonc). There are no fallbacks or automatic discovery; the
// config file is the single source of truth. The only expansion
// performed is ${VAR} and ${VAR:-default} in branch paths for
// portability.
//
// Branches, tunables, and policy assignments become the engine's
// initial snapshot; later changes arrive through the control
// interface, not by re-reading the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bureau-foundation/branchfs/lib/branch"
	"github.com/bureau-foundation/branchfs/lib/engine"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// BranchConfig describes one branch entry in the config file.
type BranchConfig struct {
	// Path is the branch root directory.
	Path string `yaml:"path" json:"path"`

	// Mode is "rw" (default), "ro", or "nc".
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`

	// MinFreeSpace overrides the global threshold for this branch.
	MinFreeSpace uint64 `yaml:"min_free_space,omitempty" json:"min_free_space,omitempty"`
}

// File is the on-disk configuration.
type File struct {
	// Branches is the ordered branch list. Order is
	// policy-significant.
	Branches []BranchConfig `yaml:"branches" json:"branches"`

	// MinFreeSpace is the global create threshold in bytes.
	MinFreeSpace uint64 `yaml:"min_free_space" json:"min_free_space"`

	// MaxSize caps file growth through the mount; zero disables.
	MaxSize uint64 `yaml:"max_size" json:"max_size"`

	MoveOnENOSPC     bool `yaml:"move_on_enospc" json:"move_on_enospc"`
	DropCacheOnClose bool `yaml:"drop_cache_on_close" json:"drop_cache_on_close"`
	Symlinkify       bool `yaml:"symlinkify" json:"symlinkify"`

	// SymlinkifyTimeout is a Go duration string ("1h", "30m").
	SymlinkifyTimeout string `yaml:"symlinkify_timeout" json:"symlinkify_timeout"`

	// ControlFile is the reserved virtual path, absolute within the
	// merged namespace.
	ControlFile string `yaml:"control_file" json:"control_file"`

	// Policies overrides the default per-operation policy
	// assignment, keyed by operation name.
	Policies map[string]string `yaml:"policies" json:"policies"`
}

// Default returns the base configuration merged under the loaded
// file. The branch list has no default; the file must provide it.
func Default() *File {
	return &File{
		MinFreeSpace:      4 << 30, // 4 GiB
		SymlinkifyTimeout: "1h",
		ControlFile:       "/.branchfs",
	}
}

// Load loads configuration from the BRANCHFS_CONFIG environment
// variable. Fails when unset; there are no hidden fallbacks.
func Load() (*File, error) {
	path := os.Getenv("BRANCHFS_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("BRANCHFS_CONFIG environment variable not set; " +
			"set it to the path of your branchfs config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging
// over the defaults. The format is chosen by extension.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	file := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	for i := range file.Branches {
		file.Branches[i].Path = expandVars(file.Branches[i].Path)
	}
	return file, nil
}

// Validate checks the file for errors before it becomes a snapshot.
func (f *File) Validate() error {
	var errs []error

	if len(f.Branches) == 0 {
		errs = append(errs, fmt.Errorf("at least one branch is required"))
	}
	for _, b := range f.Branches {
		if b.Path == "" {
			errs = append(errs, fmt.Errorf("branch path is required"))
			continue
		}
		if _, err := branch.ParseMode(b.Mode); err != nil {
			errs = append(errs, fmt.Errorf("branch %s: %w", b.Path, err))
		}
	}
	if f.ControlFile == "" || !strings.HasPrefix(f.ControlFile, "/") {
		errs = append(errs, fmt.Errorf("control_file must be an absolute path, got %q", f.ControlFile))
	}
	if f.SymlinkifyTimeout != "" {
		if _, err := time.ParseDuration(f.SymlinkifyTimeout); err != nil {
			errs = append(errs, fmt.Errorf("symlinkify_timeout: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EngineConfig converts the validated file into the engine's initial
// snapshot. Policy overrides are validated by engine.New, not here.
func (f *File) EngineConfig() (*engine.Config, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	branches := make([]branch.Branch, len(f.Branches))
	for i, bc := range f.Branches {
		mode, err := branch.ParseMode(bc.Mode)
		if err != nil {
			return nil, err
		}
		branches[i] = branch.Branch{
			Path:         filepath.Clean(bc.Path),
			Mode:         mode,
			MinFreeSpace: bc.MinFreeSpace,
		}
	}

	timeout := time.Duration(0)
	if f.SymlinkifyTimeout != "" {
		timeout, _ = time.ParseDuration(f.SymlinkifyTimeout)
	}

	policies := engine.DefaultPolicies()
	for op, name := range f.Policies {
		if _, ok := policies[engine.Op(op)]; !ok {
			return nil, fmt.Errorf("policies: unknown operation %q", op)
		}
		policies[engine.Op(op)] = name
	}

	return &engine.Config{
		Branches:          branches,
		MinFreeSpace:      f.MinFreeSpace,
		MaxSize:           f.MaxSize,
		MoveOnENOSPC:      f.MoveOnENOSPC,
		DropCacheOnClose:  f.DropCacheOnClose,
		Symlinkify:        f.Symlinkify,
		SymlinkifyTimeout: timeout,
		ControlFile:       f.ControlFile,
		Policies:          policies,
	}, nil
}

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// environment.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
