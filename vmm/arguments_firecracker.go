package vmm

// SeccompFilter selects Firecracker's seccomp filtering mode.
type SeccompFilter struct {
	kind       seccompKind
	customPath string
}

type seccompKind int

const (
	seccompBasic seccompKind = iota
	seccompNone
	seccompAdvanced
	seccompCustom
)

// SeccompBasic is Firecracker's default filter.
func SeccompBasic() SeccompFilter { return SeccompFilter{kind: seccompBasic} }

// SeccompDisabled turns seccomp filtering off entirely (--no-seccomp).
func SeccompDisabled() SeccompFilter { return SeccompFilter{kind: seccompNone} }

// SeccompAdvanced selects Firecracker's advanced built-in filter.
func SeccompAdvanced() SeccompFilter { return SeccompFilter{kind: seccompAdvanced} }

// SeccompCustomFilter selects a caller-supplied compiled BPF filter file.
func SeccompCustomFilter(path string) SeccompFilter {
	return SeccompFilter{kind: seccompCustom, customPath: path}
}

// FirecrackerArguments is the structured representation of Firecracker's
// CLI, produced per §4.4/§3 from a caller's configuration surface. Path
// fields reach Firecracker as given; neither executor rewrites them.
// UnrestrictedExecutor passes host paths, and JailedExecutor passes the
// caller's paths unchanged as the paths Firecracker resolves inside its
// chroot.
type FirecrackerArguments struct {
	APISocketPath string
	LogPath       string
	MetricsPath   string
	ConfigPath    string
	BootTimer     bool
	Seccomp       SeccompFilter
	LogLevel      string
	// ModulePathRewrites lets the caller relocate specific named log
	// modules' output, mirroring the original's --module override surface
	// generalized to a map rather than a single module name.
	ModulePathRewrites map[string]string
}

// Build produces a deterministic, order-stable argv for Firecracker. Path
// fields are taken as given; no executor substitutes them before calling
// Build.
func (a FirecrackerArguments) Build() []string {
	var argv []string

	if a.APISocketPath == "" {
		argv = append(argv, "--no-api")
	} else {
		argv = append(argv, "--api-sock", a.APISocketPath)
	}

	if a.ConfigPath != "" {
		argv = append(argv, "--config-file", a.ConfigPath)
	}

	if a.LogLevel != "" {
		argv = append(argv, "--level", a.LogLevel)
	}

	if a.LogPath != "" {
		argv = append(argv, "--log-path", a.LogPath)
	}

	if a.BootTimer {
		argv = append(argv, "--boot-timer")
	}

	if a.MetricsPath != "" {
		argv = append(argv, "--metrics-path", a.MetricsPath)
	}

	switch a.Seccomp.kind {
	case seccompNone:
		argv = append(argv, "--no-seccomp")
	case seccompAdvanced:
		// "advanced" is not a real Firecracker --seccomp-filter value (it
		// takes a compiled BPF path); this mode has no defined serialization
		// upstream of this package and a real binary would reject it.
		argv = append(argv, "--seccomp-filter", "advanced")
	case seccompCustom:
		argv = append(argv, "--seccomp-filter", a.Seccomp.customPath)
	case seccompBasic:
		// Firecracker's default; nothing to pass.
	}

	for _, module := range sortedKeys(a.ModulePathRewrites) {
		argv = append(argv, "--module", module+"="+a.ModulePathRewrites[module])
	}

	return argv
}
