// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the named branch-selection algorithms.
//
// Every filesystem operation belongs to one of three categories, and
// each category has its own resolution contract:
//
//   - Search: pick the branch to read an existing entry from.
//   - Create: pick the branch to place a new entry on. Only
//     read-write branches above their free-space threshold qualify.
//   - Action: enumerate every branch holding an existing entry, so a
//     mutation can be propagated to all copies.
//
// Policies are registered in a static table keyed by name ("ff",
// "mfs", "epmfs", ...). A policy implements only the categories that
// make sense for its criterion; assigning it elsewhere is a
// configuration error caught by the engine.
package policy
