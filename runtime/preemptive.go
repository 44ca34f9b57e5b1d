package runtime

import (
	"context"
	"net/http"
	"os"
	"time"
)

// Preemptive is the multi-threaded Runtime backend: every operation runs on
// a fresh goroutine, scheduled by Go's own M:N preemptive scheduler across
// GOMAXPROCS OS threads. This is the natural Go analogue of the Tokio
// multi-threaded runtime in original_source/src/runtime/tokio.rs.
type Preemptive struct{}

// NewPreemptive constructs the multi-threaded preemptive Runtime backend.
func NewPreemptive() *Preemptive { return &Preemptive{} }

func (p *Preemptive) SpawnTask(fn func(context.Context)) Task {
	ctx, cancel := context.WithCancel(context.Background())
	go fn(ctx)
	return &preemptiveTask{cancel: cancel}
}

func (p *Preemptive) SpawnJoinable(fn func(context.Context) (any, error)) JoinableTask {
	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan joinResult, 1)
	go func() {
		v, err := fn(ctx)
		resultCh <- joinResult{v: v, err: err}
	}()
	return &preemptiveJoinableTask{cancel: cancel, resultCh: resultCh}
}

func (p *Preemptive) FS() Filesystem           { return preemptiveFS{} }
func (p *Preemptive) Process() ProcessRuntime  { return preemptiveProcess{} }

func (p *Preemptive) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return wrapErr("sleep", "", ctx.Err())
	}
}

func (p *Preemptive) Timeout(ctx context.Context, d time.Duration, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	resultCh := make(chan joinResult, 1)
	go func() {
		v, err := fn(ctx)
		resultCh <- joinResult{v: v, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.v, r.err
	case <-ctx.Done():
		return nil, wrapErr("timeout", "", ctx.Err())
	}
}

func (p *Preemptive) NewUnixHTTPClient(socketPath string, timeout time.Duration) *http.Client {
	return newUnixHTTPClient(socketPath, timeout)
}

type joinResult struct {
	v   any
	err error
}

type preemptiveTask struct{ cancel context.CancelFunc }

func (t *preemptiveTask) Cancel() { t.cancel() }

type preemptiveJoinableTask struct {
	cancel   context.CancelFunc
	resultCh chan joinResult
}

func (t *preemptiveJoinableTask) Join(ctx context.Context) (any, error) {
	select {
	case r := <-t.resultCh:
		return r.v, r.err
	case <-ctx.Done():
		return nil, wrapErr("join", "", ctx.Err())
	}
}

func (t *preemptiveJoinableTask) Cancel() { t.cancel() }

type preemptiveFS struct{}

func (preemptiveFS) ReadToBytes(ctx context.Context, path string) ([]byte, error) {
	return runFSAsync(ctx, func() ([]byte, error) { return fsOpReadToBytes(path) })
}

func (preemptiveFS) WriteAll(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpWriteAll(path, data, perm) })
	return err
}

func (preemptiveFS) CreateDirAll(ctx context.Context, path string, perm os.FileMode) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpCreateDirAll(path, perm) })
	return err
}

func (preemptiveFS) RemoveFile(ctx context.Context, path string) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpRemoveFile(path) })
	return err
}

func (preemptiveFS) RemoveDirAll(ctx context.Context, path string) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpRemoveDirAll(path) })
	return err
}

func (preemptiveFS) Rename(ctx context.Context, oldPath, newPath string) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpRename(oldPath, newPath) })
	return err
}

func (preemptiveFS) Copy(ctx context.Context, srcPath, dstPath string) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpCopy(srcPath, dstPath) })
	return err
}

func (preemptiveFS) Symlink(ctx context.Context, target, linkPath string) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpSymlink(target, linkPath) })
	return err
}

func (preemptiveFS) HardLink(ctx context.Context, srcPath, dstPath string) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpHardLink(srcPath, dstPath) })
	return err
}

func (preemptiveFS) Metadata(ctx context.Context, path string) (os.FileInfo, error) {
	return runFSAsync(ctx, func() (os.FileInfo, error) { return fsOpMetadata(path) })
}

func (preemptiveFS) SetPermissions(ctx context.Context, path string, perm os.FileMode) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpSetPermissions(path, perm) })
	return err
}

func (preemptiveFS) ChownAll(ctx context.Context, path string, uid, gid int) error {
	_, err := runFSAsync(ctx, func() (struct{}, error) { return struct{}{}, fsOpChownAll(path, uid, gid) })
	return err
}

func (preemptiveFS) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	return runFSAsync(ctx, func() ([]os.DirEntry, error) { return fsOpReadDir(path) })
}

// runFSAsync runs fn on a fresh goroutine and races it against ctx
// cancellation, so every Filesystem call is a genuine suspension point per
// §5 even though the underlying os call is synchronous.
func runFSAsync[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, wrapErr("cancelled", "", ctx.Err())
	}
}

type preemptiveProcess struct{}

func (preemptiveProcess) Spawn(ctx context.Context, opts SpawnOptions) (ChildHandle, error) {
	return runFSAsync(ctx, func() (ChildHandle, error) { return spawnChild(opts) })
}

var _ Runtime = (*Preemptive)(nil)
