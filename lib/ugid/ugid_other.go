// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package ugid

// Scope is a no-op on platforms without per-thread filesystem
// credentials.
type Scope struct{}

// Set is a no-op off Linux; permission checks run as the driver's own
// user.
func Set(uid, gid uint32) *Scope { return &Scope{} }

// Restore is a no-op off Linux.
func (s *Scope) Restore() {}
