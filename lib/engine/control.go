// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bureau-foundation/branchfs/lib/policy"
	"github.com/bureau-foundation/branchfs/lib/version"
)

// xattrPrefix is the reserved two-level attribute namespace. Control
// keys live below it on the control path; diagnostic keys live below
// it on every path.
const xattrPrefix = "user.branchfs."

// controlReaders maps each 3-segment scalar key to its renderer.
// Booleans render as the literal strings "true"/"false"; lists are
// comma- or colon-joined per key.
var controlReaders = map[string]func(*Config) string{
	"srcmounts": func(c *Config) string {
		paths := make([]string, len(c.Branches))
		for i, b := range c.Branches {
			paths[i] = b.Path
		}
		return strings.Join(paths, ":")
	},
	"minfreespace": func(c *Config) string {
		return strconv.FormatUint(c.MinFreeSpace, 10)
	},
	"maxsize": func(c *Config) string {
		return strconv.FormatUint(c.MaxSize, 10)
	},
	"moveonenospc": func(c *Config) string {
		return boolValue(c.MoveOnENOSPC)
	},
	"dropcacheonclose": func(c *Config) string {
		return boolValue(c.DropCacheOnClose)
	},
	"symlinkify": func(c *Config) string {
		return boolValue(c.Symlinkify)
	},
	"symlinkify_timeout": func(c *Config) string {
		return c.SymlinkifyTimeout.String()
	},
	// activepolicies is the deduplicated, sorted set of policy names
	// currently assigned to any operation.
	"activepolicies": func(c *Config) string {
		return joinedPolicies(c, func(Op) bool { return true })
	},
	// policies is the registry's full known-policy list, in registry
	// order.
	"policies": func(c *Config) string {
		return strings.Join(policy.Names(), ",")
	},
	"version": func(c *Config) string {
		return version.Version
	},
	"pid": func(c *Config) string {
		return strconv.Itoa(os.Getpid())
	},
}

// controlScalarOrder fixes the enumeration order for listxattr on the
// control path.
var controlScalarOrder = []string{
	"srcmounts", "minfreespace", "maxsize", "moveonenospc",
	"dropcacheonclose", "symlinkify", "symlinkify_timeout",
	"activepolicies", "policies", "version", "pid",
}

// controlWriters maps each runtime-settable scalar key to its parser.
// Keys readable but absent here (srcmounts, policies, version, ...)
// are rejected with EINVAL on write.
var controlWriters = map[string]func(*Config, string) error{
	"minfreespace": func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		c.MinFreeSpace = n
		return err
	},
	"maxsize": func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		c.MaxSize = n
		return err
	},
	"moveonenospc": func(c *Config, v string) error {
		b, err := parseBoolValue(v)
		c.MoveOnENOSPC = b
		return err
	},
	"dropcacheonclose": func(c *Config, v string) error {
		b, err := parseBoolValue(v)
		c.DropCacheOnClose = b
		return err
	},
	"symlinkify": func(c *Config, v string) error {
		b, err := parseBoolValue(v)
		c.Symlinkify = b
		return err
	},
	"symlinkify_timeout": func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		c.SymlinkifyTimeout = d
		return err
	},
}

// controlGetxattr serves an attribute read on the control path from
// the in-memory snapshot. Unknown keys and empty values both report
// ENODATA.
func controlGetxattr(config *Config, attr string, dest []byte) (int, syscall.Errno) {
	segments := strings.Split(attr, ".")
	if len(segments) < 3 || segments[0]+"."+segments[1]+"." != xattrPrefix {
		return 0, syscall.ENODATA
	}

	var value string
	switch len(segments) {
	case 3:
		if read, ok := controlReaders[segments[2]]; ok {
			value = read(config)
		}
	case 4:
		switch segments[2] {
		case "category":
			if cat, ok := ParseCategory(segments[3]); ok {
				value = joinedPolicies(config, func(op Op) bool {
					return opCategories[op] == cat
				})
			}
		case "func":
			value = config.Policies[Op(segments[3])]
		}
	}
	if value == "" {
		return 0, syscall.ENODATA
	}
	return copyValue(dest, []byte(value))
}

// controlSetxattr applies a runtime configuration change. Every
// accepted write builds a new snapshot and installs it whole under
// the exclusive lock; operations in flight keep the snapshot they
// started with.
func (e *Engine) controlSetxattr(attr, value string) syscall.Errno {
	segments := strings.Split(attr, ".")
	if len(segments) < 3 || segments[0]+"."+segments[1]+"." != xattrPrefix {
		return syscall.ENODATA
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.config.clone()

	switch len(segments) {
	case 3:
		key := segments[2]
		write, ok := controlWriters[key]
		if !ok {
			if _, readable := controlReaders[key]; readable {
				return syscall.EINVAL
			}
			return syscall.ENODATA
		}
		if err := write(next, value); err != nil {
			return syscall.EINVAL
		}
	case 4:
		switch segments[2] {
		case "func":
			op := Op(segments[3])
			cat, ok := opCategories[op]
			if !ok {
				return syscall.ENODATA
			}
			if checkAssignment(op, cat, value) != nil {
				return syscall.EINVAL
			}
			next.Policies[op] = value
		case "category":
			cat, ok := ParseCategory(segments[3])
			if !ok {
				return syscall.ENODATA
			}
			for _, op := range CategoryOps(cat) {
				if checkAssignment(op, cat, value) != nil {
					return syscall.EINVAL
				}
				next.Policies[op] = value
			}
		default:
			return syscall.ENODATA
		}
	default:
		return syscall.ENODATA
	}

	e.config = next
	e.logger.Info("control write applied", "key", attr, "value", value)
	return 0
}

// controlKeyList renders every control key name, each NUL-terminated,
// for listxattr on the control path.
func controlKeyList() []byte {
	var sb strings.Builder
	for _, key := range controlScalarOrder {
		sb.WriteString(xattrPrefix + key)
		sb.WriteByte(0)
	}
	for _, cat := range []Category{CategorySearch, CategoryAction, CategoryCreate} {
		sb.WriteString(xattrPrefix + "category." + cat.String())
		sb.WriteByte(0)
	}
	for _, op := range Ops() {
		sb.WriteString(xattrPrefix + "func." + string(op))
		sb.WriteByte(0)
	}
	return []byte(sb.String())
}

// joinedPolicies returns the sorted, duplicate-free, comma-joined
// policy names assigned to operations matched by keep.
func joinedPolicies(config *Config, keep func(Op) bool) string {
	seen := make(map[string]bool)
	var names []string
	for op := range opCategories {
		if !keep(op) {
			continue
		}
		name := config.Policies[op]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func boolValue(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func parseBoolValue(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, syscall.EINVAL
}
