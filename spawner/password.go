package spawner

import (
	"context"

	"github.com/buildkite/fcvmm/runtime"
)

// Password execs a caller-chosen elevator binary, then writes the
// configured password followed by a newline to the elevator's stdin before
// any other I/O touches it, matching §4.3's password-over-stdin elevation
// and grounded on SuProcessSpawner/SudoProcessSpawner's password branch in
// the original implementation. Once the password line has been written,
// the pipe is left alone; the caller may still use it for whatever the
// elevated command itself expects on stdin.
type Password struct {
	ElevatorPath  string
	ElevatorArgs  []string
	PasswordValue string
}

// NewPassword constructs a Spawner that elevates via elevatorPath, writing
// password to its stdin before anything else.
func NewPassword(elevatorPath, password string, elevatorArgs ...string) *Password {
	return &Password{ElevatorPath: elevatorPath, PasswordValue: password, ElevatorArgs: elevatorArgs}
}

func (*Password) UpgradesOwnership() bool { return true }

func (p *Password) Spawn(ctx context.Context, rt runtime.Runtime, req Request) (runtime.ChildHandle, error) {
	handle, err := rt.Process().Spawn(ctx, runtime.SpawnOptions{
		Program:       p.ElevatorPath,
		Argv:          elevatedArgv(p.ElevatorArgs, req.BinaryPath, req.Argv),
		Env:           req.Env,
		Dir:           req.Dir,
		PTY:           req.PTY,
		DiscardOutput: !req.PipesNeeded && !req.PTY,
	})
	if err != nil {
		return nil, newElevatorSpawnError(p.ElevatorPath, err)
	}

	if _, err := handle.Stdin().Write([]byte(p.PasswordValue + "\n")); err != nil {
		handle.Kill(9)
		return nil, newError(KindPasswordPromptTimeout, err)
	}

	return handle, nil
}
