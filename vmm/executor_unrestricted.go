package vmm

import (
	"context"
	"sync"

	"github.com/buildkite/fcvmm/runtime"
	"github.com/buildkite/fcvmm/spawner"
)

// UnrestrictedExecutor launches Firecracker directly in the host
// filesystem: inner paths equal outer paths, no chroot is created.
// Grounded on §4.6.1 and on the teacher's own direct-exec Firecracker
// driver (internal/backend/firecracker/backend.go's
// exec.CommandContext(ctx, firecrackerPath, "--api-sock", ..., "--config-file", ...)
// invocation) for "build argv, spawn, capture stdio, manage the API
// socket file" in a flat, unjailed layout.
type UnrestrictedExecutor struct {
	mu sync.Mutex

	state ExecutorState
	args  FirecrackerArguments

	inputs []ResourceInput
	pty    bool

	// ownedOutputs are the output paths (API socket, log, metrics) whose
	// stale files Prepare removed and which Cleanup therefore removes, per
	// §4.6.1's "do not touch caller-owned inputs". Parent directories that
	// Prepare created are not recorded and are left in place.
	ownedOutputs []string

	handle runtime.ChildHandle
	pid    int
}

// NewUnrestrictedExecutor constructs an executor that has not yet been
// prepared.
func NewUnrestrictedExecutor() *UnrestrictedExecutor {
	return &UnrestrictedExecutor{state: ExecutorUnprepared}
}

func (e *UnrestrictedExecutor) State() ExecutorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *UnrestrictedExecutor) OuterPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := make([]string, 0, len(e.inputs)+3)
	for _, in := range e.inputs {
		paths = append(paths, in.OuterPath)
	}
	for _, p := range []string{e.args.APISocketPath, e.args.LogPath, e.args.MetricsPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// InnerToOuter is the identity mapping restricted to known outer paths:
// unrestricted execution never translates paths.
func (e *UnrestrictedExecutor) InnerToOuter(inner string) (string, bool) {
	for _, p := range e.OuterPaths() {
		if p == inner {
			return p, true
		}
	}
	return "", false
}

func (e *UnrestrictedExecutor) Prepare(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel, inputs PrepareInputs) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != ExecutorUnprepared {
		return incorrectStateErr(ExecutorUnprepared, e.state)
	}

	for _, in := range inputs.Inputs {
		meta, err := rt.FS().Metadata(ctx, in.OuterPath)
		if err != nil {
			return prepareErr(PrepareKindSourceMissing, err)
		}
		if meta.Mode().Perm()&0o444 == 0 {
			return prepareErr(PrepareKindFilesystem, &InstallError{Kind: InstallKindNotExecutable, Path: in.OuterPath})
		}
	}

	var ownedOutputs []string
	for _, p := range []string{inputs.Arguments.APISocketPath, inputs.Arguments.LogPath, inputs.Arguments.MetricsPath} {
		if p == "" {
			continue
		}
		if err := ensureFreshOutputPath(ctx, rt, p); err != nil {
			return prepareErr(PrepareKindFilesystem, err)
		}
		ownedOutputs = append(ownedOutputs, p)
	}

	e.args = inputs.Arguments
	e.inputs = inputs.Inputs
	e.pty = inputs.PTY
	e.ownedOutputs = ownedOutputs
	e.state = ExecutorPrepared
	return nil
}

func (e *UnrestrictedExecutor) Invoke(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) (RunningInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != ExecutorPrepared {
		return RunningInfo{}, incorrectStateErr(ExecutorPrepared, e.state)
	}

	argv := e.args.Build()
	handle, err := sp.Spawn(ctx, rt, spawner.Request{
		BinaryPath:  inst.FirecrackerPath,
		Argv:        argv,
		PipesNeeded: true,
		PTY:         e.pty,
	})
	if err != nil {
		return RunningInfo{}, invokeErr(err)
	}

	e.handle = handle
	e.pid = handle.PID()
	e.state = ExecutorRunning

	return RunningInfo{
		PID:           e.pid,
		APISocketPath: e.args.APISocketPath,
		ChildHandle:   handle,
	}, nil
}

func (e *UnrestrictedExecutor) Cleanup(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == ExecutorCleanedUp {
		return nil
	}
	if e.state != ExecutorRunning && e.state != ExecutorPrepared {
		return incorrectStateErr(ExecutorRunning, e.state)
	}

	// Removals are independent of each other, so run them concurrently
	// through a JoinSet rather than one at a time.
	removals := runtime.NewJoinSet(ctx)
	for _, p := range e.ownedOutputs {
		p := p
		removals.Spawn(func(jobCtx context.Context) error {
			return rt.FS().RemoveFile(jobCtx, p)
		})
	}
	err := removals.Wait()

	e.state = ExecutorCleanedUp
	if err != nil {
		return cleanupErr(CleanupKindFilesystem, err)
	}
	return nil
}

// ensureFreshOutputPath ensures path's parent directory exists and removes
// any stale file already at path, per §4.6.1's "created output" handling.
func ensureFreshOutputPath(ctx context.Context, rt runtime.Runtime, path string) error {
	if err := rt.FS().CreateDirAll(ctx, parentDir(path), 0o755); err != nil {
		return err
	}
	return rt.FS().RemoveFile(ctx, path)
}
