package vmm

import (
	"context"
	"fmt"

	"github.com/buildkite/fcvmm/runtime"
	"github.com/buildkite/fcvmm/spawner"
)

// ExecutorState is the observable phase of an Executor.
type ExecutorState int

const (
	// ExecutorUnprepared is the implicit state of a freshly constructed
	// executor before Prepare has run. The specification's three named
	// states (Prepared/Running/CleanedUp) begin at Prepared, so this value
	// exists purely to let implementations guard Prepare-before-anything
	// and double-Prepare the same way every other transition is guarded.
	ExecutorUnprepared ExecutorState = iota
	ExecutorPrepared
	ExecutorRunning
	ExecutorCleanedUp
)

func (s ExecutorState) String() string {
	switch s {
	case ExecutorUnprepared:
		return "unprepared"
	case ExecutorPrepared:
		return "prepared"
	case ExecutorRunning:
		return "running"
	case ExecutorCleanedUp:
		return "cleaned_up"
	default:
		return "unknown"
	}
}

// PrepareKind, CleanupKind classify failures within their respective
// executor phases, per §4.6.4's ExecutorError taxonomy.
type PrepareKind int

const (
	PrepareKindUnknown PrepareKind = iota
	PrepareKindSourceMissing
	PrepareKindFilesystem
	PrepareKindChangeOwner
	PrepareKindSyscall
)

type CleanupKind int

const (
	CleanupKindUnknown CleanupKind = iota
	CleanupKindFilesystem
)

// ExecutorError is the single error type returned by every Executor
// operation, mirroring ExecutorError{Prepare|Invoke|Cleanup|IncorrectState}.
type ExecutorError struct {
	// Phase names which of prepare/invoke/cleanup/state-check failed.
	Phase string

	PrepareKind PrepareKind
	CleanupKind CleanupKind
	SpawnErr    error
	Expected    ExecutorState
	Actual      ExecutorState

	Err error
}

func (e *ExecutorError) Error() string {
	switch e.Phase {
	case "prepare":
		return fmt.Sprintf("vmm: executor prepare failed: %v", e.Err)
	case "invoke":
		return fmt.Sprintf("vmm: executor invoke failed: %v", e.Err)
	case "cleanup":
		return fmt.Sprintf("vmm: executor cleanup failed: %v", e.Err)
	case "incorrect_state":
		return fmt.Sprintf("vmm: executor in state %s, expected %s", e.Actual, e.Expected)
	default:
		return fmt.Sprintf("vmm: executor error: %v", e.Err)
	}
}

func (e *ExecutorError) Unwrap() error { return e.Err }

func prepareErr(kind PrepareKind, err error) error {
	return &ExecutorError{Phase: "prepare", PrepareKind: kind, Err: err}
}

func invokeErr(err error) error {
	return &ExecutorError{Phase: "invoke", Err: err}
}

func cleanupErr(kind CleanupKind, err error) error {
	return &ExecutorError{Phase: "cleanup", CleanupKind: kind, Err: err}
}

func incorrectStateErr(expected, actual ExecutorState) error {
	return &ExecutorError{Phase: "incorrect_state", Expected: expected, Actual: actual}
}

// ResourceInput describes one caller-provided file an executor must make
// visible to Firecracker, either by translating its path (unrestricted) or
// materializing it inside a jail (jailed) according to Move.
type ResourceInput struct {
	OuterPath string
	Move      ResourceMove
}

// PrepareInputs bundles everything Executor.Prepare needs beyond the
// installation, spawner and ownership model already known to the executor.
type PrepareInputs struct {
	Arguments       FirecrackerArguments
	JailerArguments JailerArguments
	Inputs          []ResourceInput
	// PTY requests that Invoke attach the child's stdio to a pseudo-terminal
	// instead of plain pipes.
	PTY bool
}

// RunningInfo is what an executor reports once Invoke has spawned the
// child: its PID, the API socket path the host dials, and the ChildHandle
// through which stdout/stderr (or the PTY) are reached. Outer and inner
// paths are not carried here; they come from OuterPaths and InnerToOuter.
type RunningInfo struct {
	PID           int
	APISocketPath string
	ChildHandle   runtime.ChildHandle
}

// Executor is the shared contract (OuterPaths, InnerToOuter, Prepare,
// Invoke, Cleanup, plus State) both concrete flavors (Unrestricted, Jailed)
// and the Either dispatcher implement, per §4.6.
type Executor interface {
	// OuterPaths returns outer paths this executor was prepared with, in
	// caller order. JailedExecutor reports the resource inputs only;
	// UnrestrictedExecutor also appends the non-empty API socket, log and
	// metrics paths.
	OuterPaths() []string

	// InnerToOuter reverses the path map: given an inner path, returns the
	// outer path it was materialized from, if any.
	InnerToOuter(inner string) (string, bool)

	Prepare(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel, inputs PrepareInputs) error

	Invoke(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) (RunningInfo, error)

	Cleanup(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) error

	State() ExecutorState
}
