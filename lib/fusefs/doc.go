// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fusefs is the kernel-facing layer of the merged filesystem.
//
// Every path in the merged tree is represented by a single stateless
// node type that recomputes its relative path per request and
// delegates to the engine, which resolves the operation to one or
// more branches by policy. File handles pin the branch chosen at open
// time; everything else re-resolves on each call, so policy changes
// and branch reconfiguration take effect immediately.
//
// The control path and the reserved attribute namespace are handled
// inside the engine; this package only translates between go-fuse
// types and engine types.
package fusefs
