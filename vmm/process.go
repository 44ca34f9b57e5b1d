package vmm

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/buildkite/fcvmm/runtime"
	"github.com/buildkite/fcvmm/spawner"
	"github.com/charmbracelet/log"
)

// ProcessState is the observable phase of a VmmProcess.
type ProcessState int

const (
	// ProcessAwaiting is the state from construction through a successful
	// Prepare, before Invoke has spawned the child.
	ProcessAwaiting ProcessState = iota
	ProcessStarted
	ProcessExited
	ProcessCrashed
	ProcessCleanedUp
)

func (s ProcessState) String() string {
	switch s {
	case ProcessAwaiting:
		return "awaiting"
	case ProcessStarted:
		return "started"
	case ProcessExited:
		return "exited"
	case ProcessCrashed:
		return "crashed"
	case ProcessCleanedUp:
		return "cleaned_up"
	default:
		return "unknown"
	}
}

// ProcessErrorKind classifies a ProcessError, per §4.7's ProcessError
// taxonomy.
type ProcessErrorKind int

const (
	ProcessErrorUnknown ProcessErrorKind = iota
	ProcessErrorWrongState
	ProcessErrorAPISocketTimeout
	ProcessErrorShutdownTimeout
)

type ProcessError struct {
	Kind     ProcessErrorKind
	Expected ProcessState
	Actual   ProcessState
	Err      error
}

func (e *ProcessError) Error() string {
	switch e.Kind {
	case ProcessErrorWrongState:
		return fmt.Sprintf("vmm: process in state %s, expected %s", e.Actual, e.Expected)
	case ProcessErrorAPISocketTimeout:
		return "vmm: timed out waiting for the api socket to accept connections"
	case ProcessErrorShutdownTimeout:
		return fmt.Sprintf("vmm: shutdown timed out: %v", e.Err)
	default:
		return fmt.Sprintf("vmm: process error: %v", e.Err)
	}
}

func (e *ProcessError) Unwrap() error { return e.Err }

func wrongStateErr(expected, actual ProcessState) error {
	return &ProcessError{Kind: ProcessErrorWrongState, Expected: expected, Actual: actual}
}

// VmmProcess wraps an Executor across its full lifecycle — preparation,
// invocation, API interaction, shutdown and cleanup — exposing the single
// guarded state machine described in §4.7. Grounded on
// original_source/src/vmm_process/mod.rs's VmmProcess and on the teacher's
// Service type (internal/controlservice/service.go) for the nil-checked
// *log.Logger field convention.
type VmmProcess struct {
	mu sync.Mutex

	executor  Executor
	rt        runtime.Runtime
	sp        spawner.Spawner
	inst      *Installation
	ownership OwnershipModel

	Logger *log.Logger

	state ProcessState

	running   RunningInfo
	apiClient *http.Client

	exitStatus  runtime.ExitStatus
	crashReason string

	pipesTaken bool
}

// NewVmmProcess constructs a process around an unprepared executor.
func NewVmmProcess(executor Executor, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) *VmmProcess {
	return &VmmProcess{
		executor:  executor,
		rt:        rt,
		sp:        sp,
		inst:      inst,
		ownership: ownership,
		state:     ProcessAwaiting,
	}
}

func (p *VmmProcess) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Prepare delegates to the wrapped executor. It may be called only once,
// and only before Invoke; the executor itself enforces the single
// Unprepared→Prepared transition, so VmmProcess adds no extra state of its
// own here beyond remaining Awaiting.
func (p *VmmProcess) Prepare(ctx context.Context, inputs PrepareInputs) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != ProcessAwaiting {
		return wrongStateErr(ProcessAwaiting, p.state)
	}
	if err := p.executor.Prepare(ctx, p.rt, p.sp, p.inst, p.ownership, inputs); err != nil {
		return err
	}
	if p.Logger != nil {
		p.Logger.Debug("vmm process prepared", "outer_paths", len(p.executor.OuterPaths()))
	}
	return nil
}

// Invoke spawns the child via the executor, builds an API client bound to
// the socket path without issuing any requests yet (Firecracker may still
// be starting), and enters Started.
func (p *VmmProcess) Invoke(ctx context.Context) (RunningInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != ProcessAwaiting {
		return RunningInfo{}, wrongStateErr(ProcessAwaiting, p.state)
	}

	running, err := p.executor.Invoke(ctx, p.rt, p.sp, p.inst, p.ownership)
	if err != nil {
		return RunningInfo{}, err
	}

	p.running = running
	p.apiClient = p.rt.NewUnixHTTPClient(running.APISocketPath, 0)
	p.state = ProcessStarted

	if p.Logger != nil {
		p.Logger.Info("vmm process started", "pid", running.PID, "api_socket", running.APISocketPath)
	}
	return running, nil
}

// markExited and markCrashed are called by the shutdown/wait machinery
// once the child has actually terminated.
func (p *VmmProcess) markExited(status runtime.ExitStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitStatus = status
	p.state = ProcessExited
	if p.Logger != nil {
		p.Logger.Info("vmm process exited", "success", status.Success())
	}
}

func (p *VmmProcess) markCrashed(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.crashReason = reason
	p.state = ProcessCrashed
	if p.Logger != nil {
		p.Logger.Warn("vmm process crashed", "reason", reason)
	}
}

// Cleanup may only be called from Exited or Crashed; it delegates to the
// executor and transitions to CleanedUp.
func (p *VmmProcess) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == ProcessCleanedUp {
		return nil
	}
	if p.state != ProcessExited && p.state != ProcessCrashed {
		return wrongStateErr(ProcessExited, p.state)
	}

	if err := p.executor.Cleanup(ctx, p.rt, p.sp, p.inst, p.ownership); err != nil {
		return err
	}
	p.state = ProcessCleanedUp
	if p.Logger != nil {
		p.Logger.Debug("vmm process cleaned up")
	}
	return nil
}
