// Package spawner abstracts how a child process acquires the privileges it
// needs to launch Firecracker or the jailer: none, a setuid-style elevator
// binary (sudo, doas), or an elevator driven by a password written to its
// stdin. Package vmm never execs a binary directly; it always goes through
// a Spawner so the elevation mechanism stays swappable per call site.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/buildkite/fcvmm/runtime"
)

// Kind classifies a spawn failure, mirroring SpawnError(kind) from the
// specification.
type Kind int

const (
	KindUnknown Kind = iota
	// KindElevatorMissing means the configured elevator binary (sudo, doas,
	// su) could not be found on PATH or at its configured path.
	KindElevatorMissing
	// KindPasswordPromptTimeout is reported when writing the password line
	// to the elevator's stdin fails. Spawn puts no deadline on that write.
	KindPasswordPromptTimeout
	// KindBinaryMissing means the target binary to spawn does not exist.
	KindBinaryMissing
	// KindRuntimeError wraps any other failure surfaced by the runtime
	// while spawning or writing to the child.
	KindRuntimeError
)

func (k Kind) String() string {
	switch k {
	case KindElevatorMissing:
		return "elevator_missing"
	case KindPasswordPromptTimeout:
		return "password_prompt_timeout"
	case KindBinaryMissing:
		return "binary_missing"
	case KindRuntimeError:
		return "runtime_error"
	default:
		return "unknown"
	}
}

// Error is returned by Spawn when a child could not be launched.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("spawner: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("spawner: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) error { return &Error{Kind: kind, Err: err} }

// Request describes a process to be launched through a Spawner.
type Request struct {
	// BinaryPath is the absolute path to the target binary (firecracker,
	// jailer, or a short-lived helper invocation like chown/mkdir).
	BinaryPath string
	Argv       []string
	Env        []string
	Dir        string
	// PipesNeeded requests that stdout/stderr be captured via pipes rather
	// than discarded; when false, the child's stdio is connected to
	// /dev/null instead.
	PipesNeeded bool
	// PTY requests that the child's stdio be attached to a pseudo-terminal
	// instead of plain pipes, per §4.7's PTY attach option. Takes priority
	// over PipesNeeded/DiscardOutput when set.
	PTY bool
}

// Spawner decides how a child process acquires the privileges it runs
// with, then launches it through the given runtime.
type Spawner interface {
	// UpgradesOwnership reports whether processes launched by this Spawner
	// run with elevated privileges. Package vmm does not consult it; the
	// ownership model for jail-materialized resources is passed to vmm by
	// the caller.
	UpgradesOwnership() bool

	Spawn(ctx context.Context, rt runtime.Runtime, req Request) (runtime.ChildHandle, error)
}

// classifySpawnFailure maps a raw runtime error into a spawner Kind,
// treating a missing binary distinctly from any other runtime failure.
func classifySpawnFailure(binaryPath string, err error) Kind {
	if errors.Is(err, os.ErrNotExist) {
		return KindBinaryMissing
	}
	var rtErr *runtime.Error
	if errors.As(err, &rtErr) && rtErr.Kind == runtime.ErrorKindNotExist {
		return KindBinaryMissing
	}
	return KindRuntimeError
}
