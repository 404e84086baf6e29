// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bureau-foundation/branchfs/lib/branch"
	"github.com/bureau-foundation/branchfs/lib/policy"
)

// Category classifies an operation by how it resolves branches.
type Category uint8

const (
	// CategorySearch operations read an existing entry from a single
	// branch.
	CategorySearch Category = iota
	// CategoryAction operations mutate an existing entry on every
	// branch holding it.
	CategoryAction
	// CategoryCreate operations place a new entry on a single
	// write-eligible branch.
	CategoryCreate
)

func (c Category) String() string {
	switch c {
	case CategoryAction:
		return "action"
	case CategoryCreate:
		return "create"
	}
	return "search"
}

// ParseCategory parses a category name as used in control-attribute
// keys.
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "search":
		return CategorySearch, true
	case "action":
		return CategoryAction, true
	case "create":
		return CategoryCreate, true
	}
	return 0, false
}

// Op names one policy-dispatched filesystem operation. The name is
// the key used by the control interface ("func.<op>").
type Op string

const (
	OpAccess      Op = "access"
	OpChmod       Op = "chmod"
	OpChown       Op = "chown"
	OpCreate      Op = "create"
	OpGetattr     Op = "getattr"
	OpGetxattr    Op = "getxattr"
	OpLink        Op = "link"
	OpListxattr   Op = "listxattr"
	OpMkdir       Op = "mkdir"
	OpMknod       Op = "mknod"
	OpOpen        Op = "open"
	OpReadlink    Op = "readlink"
	OpRemovexattr Op = "removexattr"
	OpRename      Op = "rename"
	OpRmdir       Op = "rmdir"
	OpSetxattr    Op = "setxattr"
	OpSymlink     Op = "symlink"
	OpTruncate    Op = "truncate"
	OpUnlink      Op = "unlink"
	OpUtimens     Op = "utimens"
)

// opCategories is the fixed assignment of every operation to exactly
// one category.
var opCategories = map[Op]Category{
	OpAccess:      CategorySearch,
	OpGetattr:     CategorySearch,
	OpGetxattr:    CategorySearch,
	OpListxattr:   CategorySearch,
	OpOpen:        CategorySearch,
	OpReadlink:    CategorySearch,
	OpChmod:       CategoryAction,
	OpChown:       CategoryAction,
	OpLink:        CategoryAction,
	OpRemovexattr: CategoryAction,
	OpRename:      CategoryAction,
	OpRmdir:       CategoryAction,
	OpSetxattr:    CategoryAction,
	OpTruncate:    CategoryAction,
	OpUnlink:      CategoryAction,
	OpUtimens:     CategoryAction,
	OpCreate:      CategoryCreate,
	OpMkdir:       CategoryCreate,
	OpMknod:       CategoryCreate,
	OpSymlink:     CategoryCreate,
}

// Ops returns every operation name in sorted order.
func Ops() []Op {
	ops := make([]Op, 0, len(opCategories))
	for op := range opCategories {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// CategoryOps returns the operations belonging to a category, sorted.
func CategoryOps(c Category) []Op {
	var ops []Op
	for op, cat := range opCategories {
		if cat == c {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Config is one immutable snapshot of the driver configuration: the
// ordered branch set plus global tunables and the per-operation policy
// assignment. Snapshots are never mutated in place; runtime changes
// build a new snapshot and install it under the engine's exclusive
// lock, so no operation ever observes a partial update.
type Config struct {
	// Branches is the ordered branch list. Order is
	// policy-significant.
	Branches []branch.Branch

	// MinFreeSpace is the global minimum free space a branch must
	// retain to be eligible for creates. Branches may override it.
	MinFreeSpace uint64

	// MaxSize, when nonzero, caps the size any file may grow to
	// through the merged view.
	MaxSize uint64

	// MoveOnENOSPC relocates a file to the emptiest branch and
	// retries when a write hits ENOSPC.
	MoveOnENOSPC bool

	// DropCacheOnClose advises the kernel to drop page cache for a
	// file when its last handle closes.
	DropCacheOnClose bool

	// Symlinkify presents regular files older than
	// SymlinkifyTimeout as symlinks to their branch path.
	Symlinkify bool

	// SymlinkifyTimeout is the age beyond which Symlinkify applies.
	SymlinkifyTimeout time.Duration

	// ControlFile is the reserved virtual path served by the control
	// attribute interface. Absolute within the merged namespace.
	ControlFile string

	// Policies assigns a policy name to every operation.
	Policies map[Op]string
}

// DefaultPolicies returns the standard policy assignment: first-found
// for reads, all-branches for mutations, existing-path-most-free for
// creates.
func DefaultPolicies() map[Op]string {
	policies := make(map[Op]string, len(opCategories))
	for op, cat := range opCategories {
		switch cat {
		case CategoryAction:
			policies[op] = "all"
		case CategoryCreate:
			policies[op] = "epmfs"
		default:
			policies[op] = "ff"
		}
	}
	return policies
}

// Validate checks the snapshot for internal consistency.
func (c *Config) Validate() error {
	var errs []string
	if len(c.Branches) == 0 {
		errs = append(errs, "at least one branch is required")
	}
	if c.ControlFile == "" || !strings.HasPrefix(c.ControlFile, "/") {
		errs = append(errs, fmt.Sprintf("control file %q must be an absolute path", c.ControlFile))
	}
	for op, cat := range opCategories {
		name, ok := c.Policies[op]
		if !ok {
			errs = append(errs, fmt.Sprintf("no policy assigned to %s", op))
			continue
		}
		if err := checkAssignment(op, cat, name); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// checkAssignment verifies that the named policy exists and
// implements the operation's category.
func checkAssignment(op Op, cat Category, name string) error {
	p, ok := policy.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown policy %q for %s", name, op)
	}
	var implemented bool
	switch cat {
	case CategorySearch:
		implemented = p.Search != nil
	case CategoryAction:
		implemented = p.Action != nil
	case CategoryCreate:
		implemented = p.Create != nil
	}
	if !implemented {
		return fmt.Errorf("policy %q does not implement the %s category (operation %s)", name, cat, op)
	}
	return nil
}

// clone deep-copies the snapshot so a runtime change can build a new
// one without touching the installed copy.
func (c *Config) clone() *Config {
	next := *c
	next.Branches = append([]branch.Branch(nil), c.Branches...)
	next.Policies = make(map[Op]string, len(c.Policies))
	for op, name := range c.Policies {
		next.Policies[op] = name
	}
	return &next
}
