package runtime

import (
	"context"
	"net/http"
	"os"
	"time"
)

// Cooperative is the single-threaded Runtime backend: a single dedicated
// goroutine drains a serial queue of closures, so no two operations
// submitted through it ever run concurrently with each other. This is the
// Go analogue of the smol/async-executor single-threaded runtime in
// original_source/src/runtime/smol.rs — genuinely cooperative rather than
// merely GOMAXPROCS=1, because every operation, including ones spawned by
// SpawnTask, is an explicit item on the same queue.
type Cooperative struct {
	jobs chan func()
	done chan struct{}
}

// NewCooperative starts the worker goroutine and returns the single-
// threaded cooperative Runtime backend. Call Close to stop the worker.
func NewCooperative() *Cooperative {
	c := &Cooperative{
		jobs: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Cooperative) run() {
	for {
		select {
		case job := <-c.jobs:
			job()
		case <-c.done:
			return
		}
	}
}

// Close stops the worker goroutine. Pending jobs are dropped.
func (c *Cooperative) Close() { close(c.done) }

func (c *Cooperative) submit(fn func()) {
	select {
	case c.jobs <- fn:
	case <-c.done:
	}
}

func (c *Cooperative) SpawnTask(fn func(context.Context)) Task {
	ctx, cancel := context.WithCancel(context.Background())
	c.submit(func() { fn(ctx) })
	return &preemptiveTask{cancel: cancel}
}

func (c *Cooperative) SpawnJoinable(fn func(context.Context) (any, error)) JoinableTask {
	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan joinResult, 1)
	c.submit(func() {
		v, err := fn(ctx)
		resultCh <- joinResult{v: v, err: err}
	})
	return &preemptiveJoinableTask{cancel: cancel, resultCh: resultCh}
}

func (c *Cooperative) FS() Filesystem          { return cooperativeFS{c: c} }
func (c *Cooperative) Process() ProcessRuntime { return cooperativeProcess{c: c} }

func (c *Cooperative) Sleep(ctx context.Context, d time.Duration) error {
	_, err := run1(c, ctx, func() (struct{}, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		<-t.C
		return struct{}{}, nil
	})
	return err
}

func (c *Cooperative) Timeout(ctx context.Context, d time.Duration, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return c.run1(ctx, func() (any, error) { return fn(ctx) })
}

func (c *Cooperative) NewUnixHTTPClient(socketPath string, timeout time.Duration) *http.Client {
	return newUnixHTTPClient(socketPath, timeout)
}

// run1 submits fn to the serial worker and waits for either its result or
// ctx cancellation. fn itself always runs to completion on the worker even
// if the caller stops waiting, preserving single-threaded serialization.
func run1[T any](c *Cooperative, ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	c.submit(func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	})

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, wrapErr("cancelled", "", ctx.Err())
	}
}

func (c *Cooperative) run1(ctx context.Context, fn func() (any, error)) (any, error) {
	return run1(c, ctx, fn)
}

type cooperativeFS struct{ c *Cooperative }

func (f cooperativeFS) ReadToBytes(ctx context.Context, path string) ([]byte, error) {
	return run1(f.c, ctx, func() ([]byte, error) { return fsOpReadToBytes(path) })
}

func (f cooperativeFS) WriteAll(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpWriteAll(path, data, perm) })
	return err
}

func (f cooperativeFS) CreateDirAll(ctx context.Context, path string, perm os.FileMode) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpCreateDirAll(path, perm) })
	return err
}

func (f cooperativeFS) RemoveFile(ctx context.Context, path string) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpRemoveFile(path) })
	return err
}

func (f cooperativeFS) RemoveDirAll(ctx context.Context, path string) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpRemoveDirAll(path) })
	return err
}

func (f cooperativeFS) Rename(ctx context.Context, oldPath, newPath string) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpRename(oldPath, newPath) })
	return err
}

func (f cooperativeFS) Copy(ctx context.Context, srcPath, dstPath string) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpCopy(srcPath, dstPath) })
	return err
}

func (f cooperativeFS) Symlink(ctx context.Context, target, linkPath string) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpSymlink(target, linkPath) })
	return err
}

func (f cooperativeFS) HardLink(ctx context.Context, srcPath, dstPath string) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpHardLink(srcPath, dstPath) })
	return err
}

func (f cooperativeFS) Metadata(ctx context.Context, path string) (os.FileInfo, error) {
	return run1(f.c, ctx, func() (os.FileInfo, error) { return fsOpMetadata(path) })
}

func (f cooperativeFS) SetPermissions(ctx context.Context, path string, perm os.FileMode) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpSetPermissions(path, perm) })
	return err
}

func (f cooperativeFS) ChownAll(ctx context.Context, path string, uid, gid int) error {
	_, err := run1(f.c, ctx, func() (struct{}, error) { return struct{}{}, fsOpChownAll(path, uid, gid) })
	return err
}

func (f cooperativeFS) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	return run1(f.c, ctx, func() ([]os.DirEntry, error) { return fsOpReadDir(path) })
}

type cooperativeProcess struct{ c *Cooperative }

func (p cooperativeProcess) Spawn(ctx context.Context, opts SpawnOptions) (ChildHandle, error) {
	return run1(p.c, ctx, func() (ChildHandle, error) { return spawnChild(opts) })
}

var _ Runtime = (*Cooperative)(nil)
