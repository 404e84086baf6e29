// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ugid scopes the driver's filesystem identity to the FUSE
// caller for the duration of one dispatched operation, so that
// permission checks on the backing stores are evaluated against the
// true caller rather than the (typically privileged) driver process.
//
// The scope mutates the calling OS thread's fsuid/fsgid, which on
// Linux are thread-local. The goroutine is locked to its thread for
// the lifetime of the scope, so concurrent operations on other
// threads never observe each other's identity.
package ugid
