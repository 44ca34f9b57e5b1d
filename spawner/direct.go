package spawner

import (
	"context"

	"github.com/buildkite/fcvmm/runtime"
)

// Direct execs the target binary with no elevation at all, matching
// DirectProcessSpawner in the original implementation.
type Direct struct{}

// NewDirect constructs a Spawner that launches children with no privilege
// elevation.
func NewDirect() *Direct { return &Direct{} }

func (*Direct) UpgradesOwnership() bool { return false }

func (*Direct) Spawn(ctx context.Context, rt runtime.Runtime, req Request) (runtime.ChildHandle, error) {
	handle, err := rt.Process().Spawn(ctx, runtime.SpawnOptions{
		Program:       req.BinaryPath,
		Argv:          req.Argv,
		Env:           req.Env,
		Dir:           req.Dir,
		PTY:           req.PTY,
		DiscardOutput: !req.PipesNeeded && !req.PTY,
	})
	if err != nil {
		return nil, newError(classifySpawnFailure(req.BinaryPath, err), err)
	}
	return handle, nil
}
