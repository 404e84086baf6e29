// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fusefs

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/bureau-foundation/branchfs/lib/branch"
	"github.com/bureau-foundation/branchfs/lib/engine"
	"golang.org/x/sys/unix"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// testMount builds two branch directories, mounts the merged view over
// them, and returns the mountpoint plus the branch roots. The mount is
// automatically unmounted when the test ends.
func testMount(t *testing.T) (mountpoint, branchA, branchB string) {
	t.Helper()
	fuseAvailable(t)

	root := t.TempDir()
	branchA = filepath.Join(root, "a")
	branchB = filepath.Join(root, "b")
	for _, dir := range []string{branchA, branchB} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	policies := engine.DefaultPolicies()
	for _, op := range engine.CategoryOps(engine.CategoryCreate) {
		policies[op] = "ff"
	}
	eng, err := engine.New(&engine.Config{
		Branches: []branch.Branch{
			{Path: branchA},
			{Path: branchB},
		},
		ControlFile: "/.branchfs",
		Policies:    policies,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	mountpoint = filepath.Join(root, "mount")
	server, err := Mount(Options{
		Mountpoint: mountpoint,
		Engine:     eng,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})

	return mountpoint, branchA, branchB
}

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ---- Read path tests ----

func TestMountMergesBranches(t *testing.T) {
	mountpoint, branchA, branchB := testMount(t)

	write(t, branchA, "only-a", "from a")
	write(t, branchB, "only-b", "from b")
	write(t, branchA, "both", "a version")
	write(t, branchB, "both", "b version")

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make(map[string]int)
	for _, entry := range entries {
		names[entry.Name()]++
	}
	for _, name := range []string{"only-a", "only-b", "both"} {
		if names[name] != 1 {
			t.Errorf("entry %q listed %d times", name, names[name])
		}
	}

	// First branch wins on duplicates.
	got, err := os.ReadFile(filepath.Join(mountpoint, "both"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "a version" {
		t.Errorf("read %q, want the first branch's copy", got)
	}
}

func TestMountReadThrough(t *testing.T) {
	mountpoint, _, branchB := testMount(t)
	write(t, branchB, "dir/f", "payload")

	got, err := os.ReadFile(filepath.Join(mountpoint, "dir", "f"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("read %q", got)
	}
}

func TestMountCreateLandsOnFirstBranch(t *testing.T) {
	mountpoint, branchA, branchB := testMount(t)

	if err := os.WriteFile(filepath.Join(mountpoint, "new"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(branchA, "new")); err != nil {
		t.Errorf("file missing from first branch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(branchB, "new")); !os.IsNotExist(err) {
		t.Errorf("create touched the second branch: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(mountpoint, "new"))
	if err != nil || string(got) != "x" {
		t.Errorf("readback = %q, %v", got, err)
	}
}

func TestMountRemovePartialSuccess(t *testing.T) {
	mountpoint, branchA, branchB := testMount(t)

	// Empty on a, non-empty on b: the merged remove succeeds and the
	// non-empty copy survives.
	if err := os.Mkdir(filepath.Join(branchA, "d"), 0o755); err != nil {
		t.Fatal(err)
	}
	write(t, branchB, "d/keep", "x")

	if err := os.Remove(filepath.Join(mountpoint, "d")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(branchA, "d")); !os.IsNotExist(err) {
		t.Errorf("empty copy not removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(branchB, "d", "keep")); err != nil {
		t.Errorf("non-empty copy lost: %v", err)
	}
}

func TestMountUnlinkEverywhere(t *testing.T) {
	mountpoint, branchA, branchB := testMount(t)
	write(t, branchA, "f", "x")
	write(t, branchB, "f", "x")

	if err := os.Remove(filepath.Join(mountpoint, "f")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, dir := range []string{branchA, branchB} {
		if _, err := os.Stat(filepath.Join(dir, "f")); !os.IsNotExist(err) {
			t.Errorf("copy in %s survived: %v", dir, err)
		}
	}
}

func TestMountRenameAcrossViews(t *testing.T) {
	mountpoint, branchA, _ := testMount(t)
	write(t, branchA, "old", "x")

	if err := os.Rename(filepath.Join(mountpoint, "old"), filepath.Join(mountpoint, "new")); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(branchA, "new")); err != nil {
		t.Errorf("renamed entry missing on branch: %v", err)
	}
}

// ---- Control path tests ----

func TestMountControlXattr(t *testing.T) {
	mountpoint, branchA, branchB := testMount(t)
	control := filepath.Join(mountpoint, ".branchfs")

	// The control path stats as an empty regular file without any
	// backing entry on a branch.
	info, err := os.Stat(control)
	if err != nil {
		t.Fatalf("Stat control: %v", err)
	}
	if !info.Mode().IsRegular() || info.Size() != 0 {
		t.Errorf("control stat = %v size %d", info.Mode(), info.Size())
	}

	buf := make([]byte, 4096)
	n, err := unix.Getxattr(control, "user.branchfs.srcmounts", buf)
	if err != nil {
		t.Fatalf("Getxattr: %v", err)
	}
	if got, want := string(buf[:n]), branchA+":"+branchB; got != want {
		t.Errorf("srcmounts = %q, want %q", got, want)
	}

	// Runtime policy change through the kernel interface.
	if err := unix.Setxattr(control, "user.branchfs.func.mkdir", []byte("mfs"), 0); err != nil {
		t.Fatalf("Setxattr: %v", err)
	}
	n, err = unix.Getxattr(control, "user.branchfs.func.mkdir", buf)
	if err != nil || string(buf[:n]) != "mfs" {
		t.Errorf("func.mkdir = %q, %v", buf[:n], err)
	}

	if err := unix.Setxattr(control, "user.branchfs.func.mkdir", []byte("bogus"), 0); err != syscall.EINVAL {
		t.Errorf("bad policy write = %v, want EINVAL", err)
	}
}

func TestMountControlFileHidden(t *testing.T) {
	mountpoint, _, _ := testMount(t)

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() == ".branchfs" {
			t.Error("control path appeared in the root listing")
		}
	}

	if err := os.Remove(filepath.Join(mountpoint, ".branchfs")); err == nil {
		t.Error("removing the control path should fail")
	}
}

func TestMountDiagnosticsXattr(t *testing.T) {
	mountpoint, branchA, _ := testMount(t)
	write(t, branchA, "f", "x")

	buf := make([]byte, 4096)
	n, err := unix.Getxattr(filepath.Join(mountpoint, "f"), "user.branchfs.fullpath", buf)
	if err != nil {
		t.Fatalf("Getxattr: %v", err)
	}
	if got, want := string(buf[:n]), filepath.Join(branchA, "f"); got != want {
		t.Errorf("fullpath = %q, want %q", got, want)
	}
}
