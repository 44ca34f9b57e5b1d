package spawner

import (
	"context"

	"github.com/buildkite/fcvmm/runtime"
)

// Sudo execs a caller-chosen elevator binary (typically sudo or doas) with
// the target binary path prepended to argv, forwarding the rest unchanged.
// It assumes the elevator needs no password on its stdin (e.g. passwordless
// sudo via NOPASSWD, or doas configured with nopass); use Password instead
// when the elevator prompts. Grounded on SudoProcessSpawner in the original
// implementation's password == None branch.
type Sudo struct {
	// ElevatorPath is the elevator binary to exec, e.g. "/usr/bin/sudo" or
	// "/usr/bin/doas". Required.
	ElevatorPath string
	// ElevatorArgs are inserted between the elevator binary and the target
	// binary path, e.g. []string{"-n"} for non-interactive sudo.
	ElevatorArgs []string
}

// NewSudo constructs a Spawner that elevates via elevatorPath with no
// password prompt.
func NewSudo(elevatorPath string, elevatorArgs ...string) *Sudo {
	return &Sudo{ElevatorPath: elevatorPath, ElevatorArgs: elevatorArgs}
}

func (*Sudo) UpgradesOwnership() bool { return true }

func (s *Sudo) Spawn(ctx context.Context, rt runtime.Runtime, req Request) (runtime.ChildHandle, error) {
	handle, err := rt.Process().Spawn(ctx, runtime.SpawnOptions{
		Program:       s.ElevatorPath,
		Argv:          elevatedArgv(s.ElevatorArgs, req.BinaryPath, req.Argv),
		Env:           req.Env,
		Dir:           req.Dir,
		PTY:           req.PTY,
		DiscardOutput: !req.PipesNeeded && !req.PTY,
	})
	if err != nil {
		return nil, newElevatorSpawnError(s.ElevatorPath, err)
	}
	return handle, nil
}

// elevatedArgv builds argv for an elevator invocation: elevatorArgs, then
// the target binary, then the target's own arguments.
func elevatedArgv(elevatorArgs []string, binaryPath string, argv []string) []string {
	out := make([]string, 0, len(elevatorArgs)+1+len(argv))
	out = append(out, elevatorArgs...)
	out = append(out, binaryPath)
	out = append(out, argv...)
	return out
}

func newElevatorSpawnError(elevatorPath string, err error) error {
	kind := classifySpawnFailure(elevatorPath, err)
	if kind == KindBinaryMissing {
		return newError(KindElevatorMissing, err)
	}
	return newError(kind, err)
}
