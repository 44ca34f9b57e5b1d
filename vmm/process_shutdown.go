package vmm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/buildkite/fcvmm/runtime"
)

// ShutdownMethod is one strategy shutdown tries, in the order supplied, per
// §4.7.
type ShutdownMethod struct {
	kind   shutdownKind
	signal int
}

type shutdownKind int

const (
	shutdownKindCtrlAltDel shutdownKind = iota
	shutdownKindPauseThenKill
	shutdownKindKill
)

// ShutdownCtrlAltDel injects a guest-visible Ctrl-Alt-Del and waits for the
// guest's own shutdown path to exit the VM.
func ShutdownCtrlAltDel() ShutdownMethod { return ShutdownMethod{kind: shutdownKindCtrlAltDel} }

// ShutdownPauseThenKill pauses the VM via the API, then sends SIGKILL —
// pausing first avoids the guest continuing to run (and dirty memory pages
// accumulating) while the kill is in flight.
func ShutdownPauseThenKill() ShutdownMethod { return ShutdownMethod{kind: shutdownKindPauseThenKill} }

// ShutdownKill sends the given signal directly to the Firecracker process.
func ShutdownKill(signal int) ShutdownMethod { return ShutdownMethod{kind: shutdownKindKill, signal: signal} }

const pauseVMBody = `{"state": "Paused"}`

// Shutdown tries methods in order, giving each up to timeout to result in
// process exit, until one succeeds. If the final method also times out,
// Shutdown escalates to SIGKILL and transitions to Crashed with reason
// "shutdown_timeout".
func (p *VmmProcess) Shutdown(ctx context.Context, methods []ShutdownMethod, timeout time.Duration) error {
	p.mu.Lock()
	if p.state != ProcessStarted {
		state := p.state
		p.mu.Unlock()
		return wrongStateErr(ProcessStarted, state)
	}
	handle := p.running.ChildHandle
	p.mu.Unlock()

	for i, method := range methods {
		if err := p.applyShutdownMethod(ctx, method); err != nil {
			if p.Logger != nil {
				p.Logger.Warn("shutdown method failed to apply", "method", method.kind, "error", err)
			}
			continue
		}

		result, waitErr := p.rt.Timeout(ctx, timeout, func(ctx context.Context) (any, error) {
			status, err := handle.Wait(ctx)
			return status, err
		})
		if waitErr == nil {
			status := result.(runtime.ExitStatus)
			if method.kind == shutdownKindKill || method.kind == shutdownKindPauseThenKill {
				// The child died from a signal we sent, not a guest-driven
				// shutdown; treat it as a crash rather than a clean exit.
				p.markCrashed(fmt.Sprintf("killed_by_shutdown_method_%d", method.kind))
				return nil
			}
			p.markExited(status)
			return nil
		}

		if i == len(methods)-1 {
			_ = handle.Kill(9)
			p.markCrashed("shutdown_timeout")
			return &ProcessError{Kind: ProcessErrorShutdownTimeout, Err: waitErr}
		}
	}

	p.markCrashed("shutdown_exhausted")
	return &ProcessError{Kind: ProcessErrorShutdownTimeout, Err: fmt.Errorf("no shutdown method produced exit")}
}

func (p *VmmProcess) applyShutdownMethod(ctx context.Context, method ShutdownMethod) error {
	switch method.kind {
	case shutdownKindCtrlAltDel:
		return p.SendCtrlAltDel(ctx)
	case shutdownKindPauseThenKill:
		if _, _, err := p.SendAPIRequest(ctx, http.MethodPatch, "/vm", []byte(pauseVMBody)); err != nil {
			return err
		}
		p.mu.Lock()
		handle := p.running.ChildHandle
		p.mu.Unlock()
		return handle.Kill(9)
	case shutdownKindKill:
		p.mu.Lock()
		handle := p.running.ChildHandle
		p.mu.Unlock()
		return handle.Kill(method.signal)
	default:
		return fmt.Errorf("vmm: unknown shutdown method")
	}
}
