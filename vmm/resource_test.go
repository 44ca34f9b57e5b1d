package vmm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/buildkite/fcvmm/runtime"
)

func TestResourceMoveCopy(t *testing.T) {
	dir := t.TempDir()
	outer := filepath.Join(dir, "outer", "rootfs.ext4")
	inner := filepath.Join(dir, "inner", "root", "rootfs.ext4")
	if err := os.MkdirAll(filepath.Dir(outer), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(outer, []byte("disk-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rt := runtime.NewPreemptive()
	if err := MoveCopy.apply(context.Background(), rt, outer, inner); err != nil {
		t.Fatalf("apply(Copy): %v", err)
	}

	got, err := os.ReadFile(inner)
	if err != nil {
		t.Fatalf("ReadFile(inner): %v", err)
	}
	if string(got) != "disk-bytes" {
		t.Fatalf("got %q", got)
	}
	if _, err := os.Stat(outer); err != nil {
		t.Fatalf("outer path should still exist after Copy: %v", err)
	}
}

func TestResourceMoveHardLink(t *testing.T) {
	dir := t.TempDir()
	outer := filepath.Join(dir, "kernel.bin")
	inner := filepath.Join(dir, "jail", "kernel.bin")
	if err := os.WriteFile(outer, []byte("kernel-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rt := runtime.NewPreemptive()
	if err := MoveHardLink.apply(context.Background(), rt, outer, inner); err != nil {
		t.Fatalf("apply(HardLink): %v", err)
	}

	outerInfo, err := os.Stat(outer)
	if err != nil {
		t.Fatalf("Stat(outer): %v", err)
	}
	innerInfo, err := os.Stat(inner)
	if err != nil {
		t.Fatalf("Stat(inner): %v", err)
	}
	if !os.SameFile(outerInfo, innerInfo) {
		t.Fatalf("expected outer and inner to be the same hard-linked file")
	}
}

func TestResourceMoveRename(t *testing.T) {
	dir := t.TempDir()
	outer := filepath.Join(dir, "drive.img")
	inner := filepath.Join(dir, "jail", "drive.img")
	if err := os.WriteFile(outer, []byte("drive-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rt := runtime.NewPreemptive()
	if err := MoveRename.apply(context.Background(), rt, outer, inner); err != nil {
		t.Fatalf("apply(Rename): %v", err)
	}

	if _, err := os.Stat(outer); !os.IsNotExist(err) {
		t.Fatalf("outer path should be gone after Rename, stat err = %v", err)
	}
	if _, err := os.Stat(inner); err != nil {
		t.Fatalf("Stat(inner): %v", err)
	}
}

func TestResourceMoveSymlink(t *testing.T) {
	dir := t.TempDir()
	outer := filepath.Join(dir, "config.json")
	inner := filepath.Join(dir, "jail", "config.json")
	if err := os.WriteFile(outer, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rt := runtime.NewPreemptive()
	if err := MoveSymlink.apply(context.Background(), rt, outer, inner); err != nil {
		t.Fatalf("apply(Symlink): %v", err)
	}

	target, err := os.Readlink(inner)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != outer {
		t.Fatalf("got symlink target %q, want %q", target, outer)
	}
}

func TestPathMappingBijection(t *testing.T) {
	m := NewPathMapping()
	m.Set("/outer/a", "/inner/a")
	m.Set("/outer/b", "/inner/b")

	if inner, ok := m.Inner("/outer/a"); !ok || inner != "/inner/a" {
		t.Fatalf("Inner(/outer/a) = %q, %v", inner, ok)
	}
	if outer, ok := m.Outer("/inner/b"); !ok || outer != "/outer/b" {
		t.Fatalf("Outer(/inner/b) = %q, %v", outer, ok)
	}
	if _, ok := m.Inner("/outer/missing"); ok {
		t.Fatalf("expected no mapping for unknown outer path")
	}

	got := m.OuterPaths()
	want := []string{"/outer/a", "/outer/b"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("OuterPaths() = %v, want %v", got, want)
	}
}
