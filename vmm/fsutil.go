package vmm

import (
	"os"
	"path/filepath"
	"sort"
)

// parentDir returns the directory a path's parent-creation step should
// ensure exists before the path itself is created or overwritten.
func parentDir(path string) string {
	return filepath.Dir(path)
}

// fileModeFromUnix converts a raw Unix permission bit pattern (as used in
// argument structs and the specification's octal literals) into an
// os.FileMode suitable for runtime.Filesystem.SetPermissions.
func fileModeFromUnix(mode uint32) os.FileMode {
	return os.FileMode(mode & 0o7777)
}

// sortedKeys returns m's keys in sorted order, so argv-building code never
// depends on Go's randomized map iteration order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
