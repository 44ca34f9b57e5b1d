package runtime

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// The fsOp* functions are the synchronous implementations shared by both
// Runtime backends. Preemptive runs them directly on a fresh goroutine;
// Cooperative runs them on its single serial worker goroutine. Splitting
// the syscalls out this way keeps the "what" (os/io calls) independent of
// the "how" (concurrency model), matching the executor/filesystem trait
// split in original_source/src/runtime/mod.rs.

func fsOpReadToBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	return data, wrapErr("read_to_bytes", path, err)
}

func fsOpWriteAll(path string, data []byte, perm fs.FileMode) error {
	return wrapErr("write_all", path, os.WriteFile(path, data, perm))
}

func fsOpCreateDirAll(path string, perm fs.FileMode) error {
	return wrapErr("create_dir_all", path, os.MkdirAll(path, perm))
}

func fsOpRemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return wrapErr("remove_file", path, err)
}

func fsOpRemoveDirAll(path string) error {
	return wrapErr("remove_dir_all", path, os.RemoveAll(path))
}

func fsOpRename(oldPath, newPath string) error {
	return wrapErr("rename", oldPath, os.Rename(oldPath, newPath))
}

func fsOpCopy(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return wrapErr("copy", srcPath, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return wrapErr("copy", srcPath, err)
	}

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return wrapErr("copy", dstPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return wrapErr("copy", dstPath, err)
	}
	return wrapErr("copy", dstPath, out.Sync())
}

func fsOpSymlink(target, linkPath string) error {
	return wrapErr("symlink", linkPath, os.Symlink(target, linkPath))
}

func fsOpHardLink(srcPath, dstPath string) error {
	return wrapErr("hard_link", dstPath, os.Link(srcPath, dstPath))
}

func fsOpMetadata(path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	return info, wrapErr("metadata", path, err)
}

func fsOpSetPermissions(path string, perm fs.FileMode) error {
	return wrapErr("set_permissions", path, os.Chmod(path, perm))
}

func fsOpChownAll(path string, uid, gid int) error {
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(p, uid, gid)
	})
	return wrapErr("chown_all", path, err)
}

func fsOpReadDir(path string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(path)
	return entries, wrapErr("read_dir", path, err)
}
