package runtime

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// childHandle is the shared ChildHandle implementation behind both Runtime
// backends. PTY allocation is grounded on the teacher corpus's use of
// github.com/creack/pty (buildbuddy-io-buildbuddy/cli/plugin/plugin.go
// opens a pty so a child thinks it is talking to a terminal); here it backs
// §4.7's PTY attach option instead.
type childHandle struct {
	cmd *exec.Cmd

	stdinW  io.WriteCloser
	stdoutR io.ReadCloser
	stderrR io.ReadCloser

	ptmx *os.File
	isPTY bool

	waitOnce sync.Once
	waitDone chan struct{}
	waitErr  error
	status   ExitStatus
}

func spawnChild(opts SpawnOptions) (*childHandle, error) {
	cmd := exec.Command(opts.Program, opts.Argv...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir

	h := &childHandle{cmd: cmd, waitDone: make(chan struct{})}

	if opts.PTY {
		ptmx, tty, err := pty.Open()
		if err != nil {
			return nil, wrapErr("spawn", opts.Program, err)
		}
		cmd.Stdin = tty
		cmd.Stdout = tty
		cmd.Stderr = tty
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

		if err := cmd.Start(); err != nil {
			tty.Close()
			ptmx.Close()
			return nil, wrapErr("spawn", opts.Program, err)
		}
		tty.Close()

		h.ptmx = ptmx
		h.isPTY = true
		h.stdinW = ptmx
		h.stdoutR = ptmx
		h.stderrR = ptmx
		return h, nil
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, wrapErr("spawn", opts.Program, err)
	}

	if opts.DiscardOutput {
		devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, wrapErr("spawn", opts.Program, err)
		}
		cmd.Stdout = devNull
		cmd.Stderr = devNull

		if err := cmd.Start(); err != nil {
			devNull.Close()
			return nil, wrapErr("spawn", opts.Program, err)
		}
		devNull.Close()

		h.stdinW = stdin
		h.stdoutR = nil
		h.stderrR = nil
		return h, nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, wrapErr("spawn", opts.Program, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, wrapErr("spawn", opts.Program, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, wrapErr("spawn", opts.Program, err)
	}

	h.stdinW = stdin
	h.stdoutR = stdout
	h.stderrR = stderr
	return h, nil
}

func (h *childHandle) PID() int { return h.cmd.Process.Pid }

func (h *childHandle) Wait(ctx context.Context) (ExitStatus, error) {
	h.waitOnce.Do(func() {
		go func() {
			err := h.cmd.Wait()
			if h.ptmx != nil {
				h.ptmx.Close()
			}
			switch {
			case err == nil:
				h.status = ExitStatus{Code: 0}
			default:
				var exitErr *exec.ExitError
				if asExitError(err, &exitErr) {
					if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
						h.status = ExitStatus{Signaled: true, Signal: int(ws.Signal())}
					} else {
						h.status = ExitStatus{Code: exitErr.ExitCode()}
					}
				} else {
					h.waitErr = err
				}
			}
			close(h.waitDone)
		}()
	})

	select {
	case <-h.waitDone:
		return h.status, h.waitErr
	case <-ctx.Done():
		return ExitStatus{}, wrapErr("wait", h.cmd.Path, ctx.Err())
	}
}

func (h *childHandle) Kill(signal int) error {
	if h.cmd.Process == nil {
		return nil
	}
	return wrapErr("kill", h.cmd.Path, h.cmd.Process.Signal(syscall.Signal(signal)))
}

func (h *childHandle) Stdin() io.WriteCloser  { return h.stdinW }
func (h *childHandle) Stdout() io.ReadCloser  { return h.stdoutR }
func (h *childHandle) Stderr() io.ReadCloser  { return h.stderrR }
func (h *childHandle) PTY() (*os.File, bool)  { return h.ptmx, h.isPTY }

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
