package vmm

import (
	"context"

	"github.com/buildkite/fcvmm/runtime"
	"github.com/buildkite/fcvmm/spawner"
)

// EitherExecutor is a tagged sum over the two concrete executor flavors,
// letting a caller choose Unrestricted or Jailed at runtime while keeping
// a single Executor-typed value, per §4.6.3.
type EitherExecutor struct {
	unrestricted *UnrestrictedExecutor
	jailed       *JailedExecutor
}

// NewEitherUnrestricted wraps an UnrestrictedExecutor.
func NewEitherUnrestricted(e *UnrestrictedExecutor) *EitherExecutor {
	return &EitherExecutor{unrestricted: e}
}

// NewEitherJailed wraps a JailedExecutor.
func NewEitherJailed(e *JailedExecutor) *EitherExecutor {
	return &EitherExecutor{jailed: e}
}

// active returns whichever concrete executor this value was constructed
// with. Exactly one of the two fields is ever set.
func (e *EitherExecutor) active() Executor {
	if e.unrestricted != nil {
		return e.unrestricted
	}
	return e.jailed
}

func (e *EitherExecutor) IsJailed() bool { return e.jailed != nil }

func (e *EitherExecutor) OuterPaths() []string { return e.active().OuterPaths() }

func (e *EitherExecutor) InnerToOuter(inner string) (string, bool) {
	return e.active().InnerToOuter(inner)
}

func (e *EitherExecutor) State() ExecutorState { return e.active().State() }

func (e *EitherExecutor) Prepare(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel, inputs PrepareInputs) error {
	return e.active().Prepare(ctx, rt, sp, inst, ownership, inputs)
}

func (e *EitherExecutor) Invoke(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) (RunningInfo, error) {
	return e.active().Invoke(ctx, rt, sp, inst, ownership)
}

func (e *EitherExecutor) Cleanup(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) error {
	return e.active().Cleanup(ctx, rt, sp, inst, ownership)
}

var _ Executor = (*EitherExecutor)(nil)
