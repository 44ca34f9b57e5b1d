package vmm

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/buildkite/fcvmm/runtime"
	"github.com/buildkite/fcvmm/spawner"
)

// fakeExecutor is a minimal Executor test double letting process_test.go
// exercise VmmProcess's own state machine and API plumbing independently
// of a real Firecracker/jailer binary — the executors' own materialization
// logic is covered by executor_unrestricted_test.go and
// executor_jailed_test.go.
type fakeExecutor struct {
	state   ExecutorState
	running RunningInfo

	cleanupCalls int
}

func (f *fakeExecutor) OuterPaths() []string               { return nil }
func (f *fakeExecutor) InnerToOuter(string) (string, bool) { return "", false }

func (f *fakeExecutor) Prepare(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel, inputs PrepareInputs) error {
	f.state = ExecutorPrepared
	return nil
}

func (f *fakeExecutor) Invoke(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) (RunningInfo, error) {
	f.state = ExecutorRunning
	return f.running, nil
}

func (f *fakeExecutor) Cleanup(ctx context.Context, rt runtime.Runtime, sp spawner.Spawner, inst *Installation, ownership OwnershipModel) error {
	f.cleanupCalls++
	f.state = ExecutorCleanedUp
	return nil
}

func (f *fakeExecutor) State() ExecutorState { return f.state }

var _ Executor = (*fakeExecutor)(nil)

// startFakeAPIServer serves a minimal Firecracker-like API over a Unix
// socket: PUT /actions and PATCH /vm both succeed with 204.
func startFakeAPIServer(t *testing.T, socketPath string) {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/actions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/vm", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	server := &http.Server{Handler: mux}
	go server.Serve(ln)
	t.Cleanup(func() {
		server.Close()
	})
}

func spawnSleepChild(t *testing.T, rt runtime.Runtime) runtime.ChildHandle {
	t.Helper()
	handle, err := rt.Process().Spawn(context.Background(), runtime.SpawnOptions{
		Program: "/bin/sh",
		Argv:    []string{"-c", "sleep 30"},
	})
	if err != nil {
		t.Fatalf("spawn sleep child: %v", err)
	}
	t.Cleanup(func() {
		_ = handle.Kill(9)
	})
	return handle
}

func TestVmmProcessLifecycleHappyPath(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "api.sock")
	startFakeAPIServer(t, socketPath)

	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation("/bin/true", "/bin/true", "/bin/true")

	child := spawnSleepChild(t, rt)
	exec := &fakeExecutor{running: RunningInfo{PID: child.PID(), APISocketPath: socketPath, ChildHandle: child}}

	proc := NewVmmProcess(exec, rt, sp, inst, Shared(0, 0))
	if proc.State() != ProcessAwaiting {
		t.Fatalf("expected Awaiting, got %s", proc.State())
	}

	ctx := context.Background()
	if err := proc.Prepare(ctx, PrepareInputs{}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if _, err := proc.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if proc.State() != ProcessStarted {
		t.Fatalf("expected Started, got %s", proc.State())
	}

	status, body, err := proc.SendAPIRequest(ctx, http.MethodPut, "/actions", []byte(ctrlAltDelBody))
	if err != nil {
		t.Fatalf("SendAPIRequest: %v", err)
	}
	if status != http.StatusNoContent {
		t.Fatalf("got status %d", status)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty body, got %q", body)
	}

	if err := child.Kill(9); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if _, err := child.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	proc.markExited(runtime.ExitStatus{})

	if err := proc.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if proc.State() != ProcessCleanedUp {
		t.Fatalf("expected CleanedUp, got %s", proc.State())
	}
	if exec.cleanupCalls != 1 {
		t.Fatalf("expected executor Cleanup called once, got %d", exec.cleanupCalls)
	}
}

func TestVmmProcessInvokeBeforePrepareAllowed(t *testing.T) {
	// Invoke is guarded on ProcessState, not on whether Prepare ran first —
	// the executor itself enforces Unprepared-before-Prepared.
	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation("/bin/true", "/bin/true", "/bin/true")
	child := spawnSleepChild(t, rt)
	exec := &fakeExecutor{running: RunningInfo{ChildHandle: child}}

	proc := NewVmmProcess(exec, rt, sp, inst, Shared(0, 0))
	if _, err := proc.Invoke(context.Background()); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func TestVmmProcessSendAPIRequestWrongStateFails(t *testing.T) {
	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation("/bin/true", "/bin/true", "/bin/true")
	exec := &fakeExecutor{}

	proc := NewVmmProcess(exec, rt, sp, inst, Shared(0, 0))
	_, _, err := proc.SendAPIRequest(context.Background(), http.MethodGet, "/", nil)
	perr, ok := err.(*ProcessError)
	if !ok || perr.Kind != ProcessErrorWrongState {
		t.Fatalf("got %v, want ProcessErrorWrongState", err)
	}
}

func TestVmmProcessCleanupBeforeExitFails(t *testing.T) {
	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation("/bin/true", "/bin/true", "/bin/true")
	exec := &fakeExecutor{}

	proc := NewVmmProcess(exec, rt, sp, inst, Shared(0, 0))
	if err := proc.Cleanup(context.Background()); err == nil {
		t.Fatalf("expected Cleanup to fail before the process has exited")
	}
}

func TestVmmProcessShutdownCtrlAltDel(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "api.sock")
	startFakeAPIServer(t, socketPath)

	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation("/bin/true", "/bin/true", "/bin/true")

	child := spawnSleepChild(t, rt)
	exec := &fakeExecutor{running: RunningInfo{APISocketPath: socketPath, ChildHandle: child}}
	proc := NewVmmProcess(exec, rt, sp, inst, Shared(0, 0))

	ctx := context.Background()
	if _, err := proc.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	// The fake API server's /actions handler doesn't actually terminate the
	// child, so after CtrlAltDel is sent the real process is killed
	// directly to simulate the guest shutting itself down, and Shutdown's
	// own wait observes the exit.
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = child.Kill(9)
	}()

	if err := proc.Shutdown(ctx, []ShutdownMethod{ShutdownCtrlAltDel()}, 2*time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if proc.State() != ProcessExited {
		t.Fatalf("expected Exited, got %s", proc.State())
	}
}

func TestVmmProcessShutdownEscalatesOnFinalTimeout(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "api.sock")
	startFakeAPIServer(t, socketPath)

	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation("/bin/true", "/bin/true", "/bin/true")

	child := spawnSleepChild(t, rt)
	exec := &fakeExecutor{running: RunningInfo{APISocketPath: socketPath, ChildHandle: child}}
	proc := NewVmmProcess(exec, rt, sp, inst, Shared(0, 0))

	ctx := context.Background()
	if _, err := proc.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	// CtrlAltDel never actually kills the fake child, so the only method
	// offered times out, forcing escalation to SIGKILL and Crashed.
	err := proc.Shutdown(ctx, []ShutdownMethod{ShutdownCtrlAltDel()}, 50*time.Millisecond)
	if err == nil {
		t.Fatalf("expected Shutdown to report a timeout")
	}
	perr, ok := err.(*ProcessError)
	if !ok || perr.Kind != ProcessErrorShutdownTimeout {
		t.Fatalf("got %v, want ProcessErrorShutdownTimeout", err)
	}
	if proc.State() != ProcessCrashed {
		t.Fatalf("expected Crashed, got %s", proc.State())
	}

	if _, err := child.Wait(ctx); err != nil {
		t.Fatalf("expected the escalated SIGKILL to have terminated the child: %v", err)
	}
}

func TestVmmProcessTakePipesOnlyOnce(t *testing.T) {
	rt := runtime.NewPreemptive()
	sp := spawner.NewDirect()
	inst := NewInstallation("/bin/true", "/bin/true", "/bin/true")
	child := spawnSleepChild(t, rt)
	exec := &fakeExecutor{running: RunningInfo{ChildHandle: child}}
	proc := NewVmmProcess(exec, rt, sp, inst, Shared(0, 0))

	ctx := context.Background()
	if _, err := proc.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if _, _, _, err := proc.TakePipes(); err != nil {
		t.Fatalf("TakePipes: %v", err)
	}
	if _, _, _, err := proc.TakePipes(); err != ErrPipesAlreadyTaken {
		t.Fatalf("got %v, want ErrPipesAlreadyTaken", err)
	}
}
