package vmm

import (
	"sort"
	"strconv"
)

// JailerArguments is the structured representation of the jailer's CLI,
// produced per §4.4/§3. ExecFile is always the Firecracker binary path and
// is filled in by the executor rather than the caller.
type JailerArguments struct {
	JailID         ID
	UID            int
	GID            int
	NetnsPath      string
	CgroupsV1      map[string]string
	CgroupsV2      bool
	ResourceLimits map[string]uint64
	ChrootBaseDir  string
	ExecFile       string
	Daemonize      bool
	PIDFileName    string
}

// Build produces a deterministic, order-stable argv for the jailer.
func (a JailerArguments) Build() []string {
	argv := []string{
		"--exec-file", a.ExecFile,
		"--uid", strconv.Itoa(a.UID),
		"--gid", strconv.Itoa(a.GID),
		"--id", a.JailID.String(),
	}

	for _, key := range sortedKeys(a.CgroupsV1) {
		argv = append(argv, "--cgroup", key+"="+a.CgroupsV1[key])
	}

	if a.CgroupsV2 {
		argv = append(argv, "--cgroup-version", "2")
	}

	if a.ChrootBaseDir != "" {
		argv = append(argv, "--chroot-base-dir", a.ChrootBaseDir)
	}

	if a.Daemonize {
		argv = append(argv, "--daemonize")
	}

	if a.NetnsPath != "" {
		argv = append(argv, "--netns", a.NetnsPath)
	}

	for _, name := range sortedLimitKeys(a.ResourceLimits) {
		argv = append(argv, "--resource-limit", name+"="+strconv.FormatUint(a.ResourceLimits[name], 10))
	}

	if a.PIDFileName != "" {
		argv = append(argv, "--pid-file", a.PIDFileName)
	}

	return argv
}

func sortedLimitKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
