// Package snapshoteditor wraps invocations of the snapshot-editor binary
// named in a vmm.Installation, giving a caller the one concrete reason to
// populate Installation.SnapshotEditorPath. It consumes only the runtime
// shim's process-spawning capability, never executor or Process state, the
// same "external collaborator" shape as package metrics.
package snapshoteditor

import (
	"context"
	"fmt"
	"io"

	"github.com/buildkite/fcvmm/runtime"
)

// Error reports a failed snapshot-editor invocation. Grounded on
// original_source/src/ext/snapshot_editor.rs's SnapshotEditorError, minus
// the NonUTF8Path variant (Go paths are plain strings, not fallible
// UTF-8 conversions from OsStr).
type Error struct {
	Argv   []string
	Status runtime.ExitStatus
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshoteditor: exec %v: %v", e.Argv, e.Err)
	}
	return fmt.Sprintf("snapshoteditor: %v exited non-zero (code=%d signaled=%v): %s", e.Argv, e.Status.Code, e.Status.Signaled, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Err }

// Editor invokes one snapshot-editor binary. The zero value is not usable;
// construct with New.
type Editor struct {
	path string
	rt   runtime.Runtime
}

// New wraps the snapshot-editor binary at path, run via rt.
func New(path string, rt runtime.Runtime) *Editor {
	return &Editor{path: path, rt: rt}
}

// RebaseMemory applies diffMemoryPath onto baseMemoryPath in place, the
// "edit-memory rebase" subcommand.
func (e *Editor) RebaseMemory(ctx context.Context, baseMemoryPath, diffMemoryPath string) error {
	_, err := e.fork(ctx, "edit-memory", "rebase", "--memory-path", baseMemoryPath, "--diff-path", diffMemoryPath)
	return err
}

// SnapshotVersion returns the Firecracker version that produced the
// snapshot at snapshotPath, the "info-vmstate version" subcommand.
func (e *Editor) SnapshotVersion(ctx context.Context, snapshotPath string) (string, error) {
	return e.fork(ctx, "info-vmstate", "version", "--vmstate-path", snapshotPath)
}

// SnapshotVCPUStates returns the raw vCPU-state dump for the snapshot at
// snapshotPath, the "info-vmstate vcpu-states" subcommand.
func (e *Editor) SnapshotVCPUStates(ctx context.Context, snapshotPath string) (string, error) {
	return e.fork(ctx, "info-vmstate", "vcpu-states", "--vmstate-path", snapshotPath)
}

// SnapshotVMState returns the raw VM-state dump for the snapshot at
// snapshotPath, the "info-vmstate vm-state" subcommand.
func (e *Editor) SnapshotVMState(ctx context.Context, snapshotPath string) (string, error) {
	return e.fork(ctx, "info-vmstate", "vm-state", "--vmstate-path", snapshotPath)
}

func (e *Editor) fork(ctx context.Context, args ...string) (string, error) {
	handle, err := e.rt.Process().Spawn(ctx, runtime.SpawnOptions{
		Program: e.path,
		Argv:    args,
	})
	if err != nil {
		return "", &Error{Argv: args, Err: err}
	}

	stdout, readErr := io.ReadAll(handle.Stdout())
	stderr, _ := io.ReadAll(handle.Stderr())
	status, waitErr := handle.Wait(ctx)
	if waitErr != nil {
		return "", &Error{Argv: args, Err: waitErr}
	}
	if !status.Success() {
		return "", &Error{Argv: args, Status: status, Stderr: string(stderr)}
	}
	if readErr != nil {
		return "", &Error{Argv: args, Err: readErr}
	}
	return string(stdout), nil
}
