package vmm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/buildkite/fcvmm/runtime"
	"github.com/buildkite/fcvmm/spawner"
	"github.com/buildkite/fcvmm/sys"
)

func TestEitherExecutorDelegatesToUnrestricted(t *testing.T) {
	dir := t.TempDir()
	fc := filepath.Join(dir, "firecracker")
	if err := os.WriteFile(fc, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write fake firecracker: %v", err)
	}
	socketPath := filepath.Join(dir, "api.sock")

	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation(fc, fc, fc)

	e := NewEitherUnrestricted(NewUnrestrictedExecutor())
	if e.IsJailed() {
		t.Fatalf("expected IsJailed to be false for an unrestricted either")
	}
	if e.State() != ExecutorUnprepared {
		t.Fatalf("expected Unprepared, got %s", e.State())
	}

	ctx := context.Background()
	if err := e.Prepare(ctx, rt, sp, inst, Shared(0, 0), PrepareInputs{
		Arguments: FirecrackerArguments{APISocketPath: socketPath},
	}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	running, err := e.Invoke(ctx, rt, sp, inst, Shared(0, 0))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if _, err := running.ChildHandle.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if err := e.Cleanup(ctx, rt, sp, inst, Shared(0, 0)); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if e.State() != ExecutorCleanedUp {
		t.Fatalf("expected CleanedUp, got %s", e.State())
	}
}

func TestEitherExecutorDelegatesToJailed(t *testing.T) {
	dir := t.TempDir()
	chrootBase := filepath.Join(dir, "jailer")

	jailID, err := NewID("either-jail")
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	fake := sys.NewFake(0, 0)

	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation("/bin/true", "/bin/true", "/bin/true")

	e := NewEitherJailed(NewJailedExecutor(jailID, chrootBase, fake))
	if !e.IsJailed() {
		t.Fatalf("expected IsJailed to be true for a jailed either")
	}

	ctx := context.Background()
	if err := e.Prepare(ctx, rt, sp, inst, Shared(0, 0), PrepareInputs{}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if e.State() != ExecutorPrepared {
		t.Fatalf("expected Prepared, got %s", e.State())
	}

	jailDir := filepath.Join(chrootBase, "firecracker", "either-jail")
	if _, err := os.Stat(jailDir); err != nil {
		t.Fatalf("expected jail dir to exist: %v", err)
	}

	if err := e.Cleanup(ctx, rt, sp, inst, Shared(0, 0)); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(jailDir); !os.IsNotExist(err) {
		t.Fatalf("expected jail dir to be removed by cleanup")
	}
}

func TestEitherExecutorOuterPathsAndInnerToOuterDelegate(t *testing.T) {
	dir := t.TempDir()
	rootfs := filepath.Join(dir, "rootfs.ext4")
	if err := os.WriteFile(rootfs, []byte("disk"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation("/bin/true", "/bin/true", "/bin/true")

	e := NewEitherUnrestricted(NewUnrestrictedExecutor())
	ctx := context.Background()
	if err := e.Prepare(ctx, rt, sp, inst, Shared(0, 0), PrepareInputs{
		Inputs: []ResourceInput{{OuterPath: rootfs, Move: MoveCopy}},
	}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	paths := e.OuterPaths()
	if len(paths) != 1 || paths[0] != rootfs {
		t.Fatalf("OuterPaths = %v, want [%s]", paths, rootfs)
	}

	outer, ok := e.InnerToOuter(rootfs)
	if !ok || outer != rootfs {
		t.Fatalf("InnerToOuter(%s) = %q, %v", rootfs, outer, ok)
	}
}
