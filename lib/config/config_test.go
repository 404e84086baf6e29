// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/branchfs/lib/branch"
	"github.com/bureau-foundation/branchfs/lib/engine"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "branchfs.yaml", `
branches:
  - path: /mnt/disk1
  - path: /mnt/disk2
    mode: ro
    min_free_space: 1024
min_free_space: 2048
max_size: 4096
symlinkify: true
symlinkify_timeout: 30m
policies:
  mkdir: mfs
`)
	file, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(file.Branches) != 2 {
		t.Fatalf("branches = %d", len(file.Branches))
	}
	if file.Branches[1].Mode != "ro" || file.Branches[1].MinFreeSpace != 1024 {
		t.Errorf("branch 2 = %+v", file.Branches[1])
	}
	if file.MinFreeSpace != 2048 || file.MaxSize != 4096 {
		t.Errorf("tunables = %d/%d", file.MinFreeSpace, file.MaxSize)
	}
	if !file.Symlinkify || file.SymlinkifyTimeout != "30m" {
		t.Errorf("symlinkify = %v/%q", file.Symlinkify, file.SymlinkifyTimeout)
	}
	// Defaults survive fields the file omits.
	if file.ControlFile != "/.branchfs" {
		t.Errorf("control file = %q", file.ControlFile)
	}
	if file.Policies["mkdir"] != "mfs" {
		t.Errorf("policies = %v", file.Policies)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := writeConfig(t, "branchfs.jsonc", `{
	// primary pool
	"branches": [
		{"path": "/mnt/disk1"},
		{"path": "/mnt/disk2", "mode": "nc"}, // archive disk
	],
	"control_file": "/.ctl",
}`)
	file, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(file.Branches) != 2 || file.Branches[1].Mode != "nc" {
		t.Errorf("branches = %+v", file.Branches)
	}
	if file.ControlFile != "/.ctl" {
		t.Errorf("control file = %q", file.ControlFile)
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "branchfs.yaml", "branches:\n  - path: /mnt/disk1\n")
	t.Setenv("BRANCHFS_CONFIG", path)
	file, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(file.Branches) != 1 {
		t.Errorf("branches = %+v", file.Branches)
	}

	t.Setenv("BRANCHFS_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Error("expected error with BRANCHFS_CONFIG unset")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("BRANCHFS_TEST_POOL", "/srv/pool")
	path := writeConfig(t, "branchfs.yaml", `
branches:
  - path: ${BRANCHFS_TEST_POOL}/disk1
  - path: ${BRANCHFS_TEST_UNSET:-/fallback}/disk2
`)
	file, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if file.Branches[0].Path != "/srv/pool/disk1" {
		t.Errorf("expanded path = %q", file.Branches[0].Path)
	}
	if file.Branches[1].Path != "/fallback/disk2" {
		t.Errorf("defaulted path = %q", file.Branches[1].Path)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*File)
		wantErr string
	}{
		{"no branches", func(f *File) { f.Branches = nil }, "at least one branch"},
		{"empty path", func(f *File) { f.Branches[0].Path = "" }, "path is required"},
		{"bad mode", func(f *File) { f.Branches[0].Mode = "bogus" }, "bogus"},
		{"relative control file", func(f *File) { f.ControlFile = "ctl" }, "absolute"},
		{"bad timeout", func(f *File) { f.SymlinkifyTimeout = "soon" }, "symlinkify_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			file := Default()
			file.Branches = []BranchConfig{{Path: "/mnt/disk1"}}
			tc.mutate(file)
			err := file.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	file := Default()
	file.Branches = []BranchConfig{
		{Path: "/mnt/disk1/"},
		{Path: "/mnt/disk2", Mode: "ro", MinFreeSpace: 512},
	}
	file.Policies = map[string]string{"mkdir": "mfs"}

	config, err := file.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if config.Branches[0].Path != "/mnt/disk1" {
		t.Errorf("path not cleaned: %q", config.Branches[0].Path)
	}
	if config.Branches[1].Mode != branch.ReadOnly || config.Branches[1].MinFreeSpace != 512 {
		t.Errorf("branch 2 = %+v", config.Branches[1])
	}
	if config.SymlinkifyTimeout != time.Hour {
		t.Errorf("timeout = %v", config.SymlinkifyTimeout)
	}
	// File overrides merge onto the full default assignment.
	if config.Policies[engine.OpMkdir] != "mfs" {
		t.Errorf("mkdir policy = %q", config.Policies[engine.OpMkdir])
	}
	if config.Policies[engine.OpGetattr] != "ff" {
		t.Errorf("getattr policy = %q", config.Policies[engine.OpGetattr])
	}
}

func TestEngineConfigUnknownOperation(t *testing.T) {
	file := Default()
	file.Branches = []BranchConfig{{Path: "/mnt/disk1"}}
	file.Policies = map[string]string{"frobnicate": "ff"}
	if _, err := file.EngineConfig(); err == nil {
		t.Error("expected error for unknown operation key")
	}
}
