//go:build linux

package sys

import "golang.org/x/sys/unix"

// Unix is the production Syscalls backend, a thin wrapper over
// golang.org/x/sys/unix. It is the Go analogue of the rustix/nix backends in
// original_source/src/syscall.rs: a direct, inlinable pass-through with no
// buffering or retry logic of its own.
type Unix struct{}

// NewUnix constructs the production, kernel-backed Syscalls implementation.
// Only available on linux, matching the jailer's own platform requirement.
func NewUnix() *Unix { return &Unix{} }

func (Unix) Chown(path string, uid, gid int) error {
	return wrapErr("chown", unix.Chown(path, uid, gid))
}

func (Unix) Chmod(path string, mode uint32) error {
	return wrapErr("chmod", unix.Chmod(path, mode))
}

func (Unix) MknodChar(path string, mode uint32, major, minor uint32) error {
	dev := unix.Mkdev(major, minor)
	return wrapErr("mknod", unix.Mknod(path, mode|unix.S_IFCHR, int(dev)))
}

func (Unix) Kill(pid int, signal int) error {
	return wrapErr("kill", unix.Kill(pid, unix.Signal(signal)))
}

func (Unix) Mkfifo(path string, mode uint32) error {
	return wrapErr("mkfifo", unix.Mkfifo(path, mode))
}

func (Unix) Geteuid() int { return unix.Geteuid() }

func (Unix) Getegid() int { return unix.Getegid() }

var _ Syscalls = Unix{}
