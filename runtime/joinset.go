package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// JoinSet runs a batch of fallible jobs concurrently and reports the first
// error any of them returns, cancelling the rest. Package vmm uses this to
// move or clean up several resources in parallel without letting one
// straggler block the others from being cancelled, mirroring join_on_set in
// the original executor.
type JoinSet struct {
	group *errgroup.Group
	ctx   context.Context
}

// NewJoinSet derives a cancellable context from ctx; cancelling it (directly,
// or by any spawned job returning an error) stops every other job in the set
// from doing further cancellable work.
func NewJoinSet(ctx context.Context) *JoinSet {
	group, groupCtx := errgroup.WithContext(ctx)
	return &JoinSet{group: group, ctx: groupCtx}
}

// Context returns the context jobs should use for their own cancellable
// work; it is cancelled as soon as any job in the set fails.
func (s *JoinSet) Context() context.Context { return s.ctx }

// Spawn adds a job to the set. fn receives the set's shared cancellable
// context.
func (s *JoinSet) Spawn(fn func(ctx context.Context) error) {
	s.group.Go(func() error { return fn(s.ctx) })
}

// Wait blocks until every spawned job has returned, and reports the first
// non-nil error encountered, if any.
func (s *JoinSet) Wait() error { return s.group.Wait() }
