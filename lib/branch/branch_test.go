// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package branch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ReadWrite, false},
		{"rw", ReadWrite, false},
		{"RO", ReadOnly, false},
		{"nc", NoCreate, false},
		{"bogus", ReadWrite, true},
	}
	for _, tc := range cases {
		got, err := ParseMode(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q): %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestParseBranchFlag(t *testing.T) {
	b, err := Parse("/mnt/disk1=ro")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b.Path != "/mnt/disk1" {
		t.Errorf("path = %q", b.Path)
	}
	if b.Mode != ReadOnly {
		t.Errorf("mode = %v, want ro", b.Mode)
	}

	if _, err := Parse("=ro"); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestFreeSpace(t *testing.T) {
	b := Branch{Path: t.TempDir()}
	free, err := b.FreeSpace()
	if err != nil {
		t.Fatalf("FreeSpace: %v", err)
	}
	if free == 0 {
		t.Error("expected nonzero free space on a temp dir")
	}
}

func TestEffectiveMinFree(t *testing.T) {
	b := Branch{Path: "/x"}
	if got := b.EffectiveMinFree(100); got != 100 {
		t.Errorf("global default not used: %d", got)
	}
	b.MinFreeSpace = 7
	if got := b.EffectiveMinFree(100); got != 7 {
		t.Errorf("override not used: %d", got)
	}
}

func TestContainsAndExisting(t *testing.T) {
	a := Branch{Path: t.TempDir()}
	b := Branch{Path: t.TempDir()}

	if err := os.WriteFile(filepath.Join(b.Path, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if a.Contains("/f") {
		t.Error("branch a should not contain /f")
	}
	if !b.Contains("/f") {
		t.Error("branch b should contain /f")
	}

	existing := Existing([]Branch{a, b}, "/f")
	if len(existing) != 1 || existing[0].Path != b.Path {
		t.Errorf("Existing = %v", existing)
	}
}

func TestContainsSymlink(t *testing.T) {
	b := Branch{Path: t.TempDir()}
	// Dangling symlink still counts as present.
	if err := os.Symlink("/nowhere", filepath.Join(b.Path, "link")); err != nil {
		t.Fatal(err)
	}
	if !b.Contains("/link") {
		t.Error("dangling symlink should count as present")
	}
}
