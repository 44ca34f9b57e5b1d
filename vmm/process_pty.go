package vmm

import (
	"errors"
	"io"
	"os"
)

// ErrPipesAlreadyTaken is returned by TakePipes on every call after the
// first, enforcing single-consumer extraction.
var ErrPipesAlreadyTaken = errors.New("vmm: stdout/stderr/pty already taken")

// TakePipes hands the caller the child's stdout and stderr readers, plus
// its PTY file if Invoke's spawn requested one, per §4.7's single-consumer
// extraction. It may be called at most once for the lifetime of a Process.
func (p *VmmProcess) TakePipes() (stdout, stderr io.ReadCloser, pty *os.File, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != ProcessStarted {
		return nil, nil, nil, wrongStateErr(ProcessStarted, p.state)
	}
	if p.pipesTaken {
		return nil, nil, nil, ErrPipesAlreadyTaken
	}

	handle := p.running.ChildHandle
	p.pipesTaken = true

	ptyFile, _ := handle.PTY()
	return handle.Stdout(), handle.Stderr(), ptyFile, nil
}
