// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the policy-driven dispatch core of the merged
// filesystem. It owns the configuration snapshot (branch set plus
// tunables and per-operation policy assignment), resolves each
// operation to candidate branches through the policy registry, and
// executes it with the category-appropriate rule: search and create
// operations run against the single best candidate; action operations
// run sequentially against every branch holding the entry and succeed
// if at least one branch call succeeded.
//
// The engine also serves the control interface: attribute reads and
// writes on the reserved control path address configuration and
// diagnostics through a fixed key schema under the "user.branchfs."
// namespace, and four reserved per-path keys (basepath, relpath,
// fullpath, allpaths) expose branch resolution for any entry.
//
// Every dispatched operation runs inside a ugid scope so that backing
// store permission checks see the FUSE caller's identity, not the
// driver's.
package engine
