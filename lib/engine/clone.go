// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"strings"

	"github.com/bureau-foundation/branchfs/lib/branch"
	"golang.org/x/sys/unix"
)

// cloneParent ensures the parent directory chain of rel exists on
// dst, creating missing components with the modes found on the first
// branch that has them. A create policy may legitimately select a
// branch that has never seen the new entry's directory.
func cloneParent(config *Config, dst branch.Branch, rel string) error {
	components := strings.Split(strings.Trim(rel, "/"), "/")
	if len(components) < 2 {
		return nil
	}
	// Everything but the final component is the parent chain.
	prefix := ""
	for _, component := range components[:len(components)-1] {
		prefix = prefix + "/" + component
		if dst.Contains(prefix) {
			continue
		}
		mode := uint32(0o755)
		for _, src := range config.Branches {
			if st, err := src.Stat(prefix); err == nil {
				mode = st.Mode & 0o7777
				break
			}
		}
		if err := unix.Mkdir(dst.FullPath(prefix), mode); err != nil && !errors.Is(err, unix.EEXIST) {
			return err
		}
	}
	return nil
}
