// Package sys provides the narrow syscall surface that package vmm needs to
// materialize jails and signal Firecracker processes: chown, chmod, mknod
// (character devices), kill, mkfifo, geteuid, getegid. Nothing else is
// permitted through this package; a new need means widening the Syscalls
// interface deliberately, not reaching around it.
//
// Two backends exist: Unix (golang.org/x/sys/unix, linux-only) for
// production, and Fake for tests that want to assert on exactly which calls
// a component made without touching the real kernel. Both implement the
// Syscalls interface and callers receive one as an interface value at
// construction, so every call goes through that interface; the backend is
// not fixed at build time.
package sys

import "fmt"

// Error wraps a failed syscall with the errno that caused it, mirroring the
// SyscallError(errno) taxonomy from the specification.
type Error struct {
	Call string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("sys: %s: %v", e.Call, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(call string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Call: call, Err: err}
}

// Syscalls is the capability surface backing package vmm's ownership model
// and process signalling. Implementations must not perform any syscall
// outside this list.
type Syscalls interface {
	// Chown changes the owner and group of path. Implementations use
	// chown(2), not lchown(2), so a symlink at the final component is
	// followed, matching the original ownership model's use of
	// std::os::unix::fs::chown.
	Chown(path string, uid, gid int) error

	// Chmod changes the permission bits of path.
	Chmod(path string, mode uint32) error

	// MknodChar creates a character-device special file at path with the
	// given major/minor device numbers, used to pass host character devices
	// (e.g. /dev/kvm, /dev/net/tun) through into a jail chroot.
	MknodChar(path string, mode uint32, major, minor uint32) error

	// Kill sends signal to the process identified by pid.
	Kill(pid int, signal int) error

	// Mkfifo creates a named pipe at path with the given permission bits.
	Mkfifo(path string, mode uint32) error

	// Geteuid returns the effective user ID of the calling process.
	Geteuid() int

	// Getegid returns the effective group ID of the calling process.
	Getegid() int
}
