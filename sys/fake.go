package sys

import "sync"

// FakeCall records one invocation made against a Fake backend.
type FakeCall struct {
	Name string
	Args []any
}

// Fake is an in-memory Syscalls backend for tests: it records every call it
// receives and never touches the kernel. Errors field lets a test make any
// named call fail: while Errors[name] is set, every invocation of that call
// returns it.
type Fake struct {
	mu sync.Mutex

	Calls  []FakeCall
	Errors map[string]error

	euid int
	egid int
}

// NewFake constructs a Fake backend reporting the given effective uid/gid
// from Geteuid/Getegid.
func NewFake(euid, egid int) *Fake {
	return &Fake{Errors: make(map[string]error), euid: euid, egid: egid}
}

func (f *Fake) record(name string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, FakeCall{Name: name, Args: args})
	return f.Errors[name]
}

func (f *Fake) Chown(path string, uid, gid int) error {
	return f.record("chown", path, uid, gid)
}

func (f *Fake) Chmod(path string, mode uint32) error {
	return f.record("chmod", path, mode)
}

func (f *Fake) MknodChar(path string, mode uint32, major, minor uint32) error {
	return f.record("mknod", path, mode, major, minor)
}

func (f *Fake) Kill(pid int, signal int) error {
	return f.record("kill", pid, signal)
}

func (f *Fake) Mkfifo(path string, mode uint32) error {
	return f.record("mkfifo", path, mode)
}

func (f *Fake) Geteuid() int { return f.euid }

func (f *Fake) Getegid() int { return f.egid }

var _ Syscalls = (*Fake)(nil)
