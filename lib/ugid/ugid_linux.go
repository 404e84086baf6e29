// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ugid

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Scope holds the filesystem identity to restore when the scope ends.
type Scope struct {
	prevUID int
	prevGID int
}

// Set applies uid/gid as the calling OS thread's filesystem identity
// and pins the goroutine to that thread. The returned Scope must be
// restored on every exit path:
//
//	scope := ugid.Set(caller.UID, caller.GID)
//	defer scope.Restore()
//
// setfsuid silently keeps the old identity when the process lacks
// CAP_SETUID; permission checks then run as the driver's own user,
// which is the best an unprivileged mount can do.
func Set(uid, gid uint32) *Scope {
	runtime.LockOSThread()
	// gid first: changing fsuid away from root first could drop the
	// privilege needed to change fsgid.
	prevGID, _ := unix.SetfsgidRetGid(int(gid))
	prevUID, _ := unix.SetfsuidRetUid(int(uid))
	return &Scope{prevUID: prevUID, prevGID: prevGID}
}

// Restore reinstates the previous filesystem identity and unpins the
// thread.
func (s *Scope) Restore() {
	unix.Setfsuid(s.prevUID)
	unix.Setfsgid(s.prevGID)
	runtime.UnlockOSThread()
}
