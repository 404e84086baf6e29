// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries the build version string reported by the
// --version flag and the control interface.
package version

import "fmt"

// Version is the branchfs release version. Overridden at build time:
//
//	go build -ldflags "-X github.com/bureau-foundation/branchfs/lib/version.Version=1.2.3"
var Version = "0.3.0-dev"

// Print writes the standard version line for a binary.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Version)
}
