package vmm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/buildkite/fcvmm/runtime"
	"golang.org/x/sync/singleflight"
)

// InstallKind classifies why Installation.Verify failed, mirroring
// InstallError{kind} from the specification.
type InstallKind int

const (
	InstallKindUnknown InstallKind = iota
	InstallKindMissing
	InstallKindNotExecutable
	InstallKindVersionMismatch
	InstallKindIO
)

func (k InstallKind) String() string {
	switch k {
	case InstallKindMissing:
		return "missing"
	case InstallKindNotExecutable:
		return "not_executable"
	case InstallKindVersionMismatch:
		return "version_mismatch"
	case InstallKindIO:
		return "io"
	default:
		return "unknown"
	}
}

// InstallError is returned by Installation.Verify.
type InstallError struct {
	Kind     InstallKind
	Path     string
	Expected string
	Actual   string
	Err      error
}

func (e *InstallError) Error() string {
	switch e.Kind {
	case InstallKindVersionMismatch:
		return fmt.Sprintf("vmm: %s: version mismatch: expected %q, got %q", e.Path, e.Expected, e.Actual)
	default:
		if e.Err != nil {
			return fmt.Sprintf("vmm: %s: %s: %v", e.Path, e.Kind, e.Err)
		}
		return fmt.Sprintf("vmm: %s: %s", e.Path, e.Kind)
	}
}

func (e *InstallError) Unwrap() error { return e.Err }

// Installation is a value object pointing at three binaries the caller has
// obtained: the Firecracker binary, the jailer binary, and the
// snapshot-editor binary. It is immutable and read-shared: many executors
// may reference one Installation.
type Installation struct {
	FirecrackerPath    string
	JailerPath         string
	SnapshotEditorPath string

	group singleflight.Group
}

// NewInstallation constructs an Installation from three absolute paths.
func NewInstallation(firecrackerPath, jailerPath, snapshotEditorPath string) *Installation {
	return &Installation{
		FirecrackerPath:    firecrackerPath,
		JailerPath:         jailerPath,
		SnapshotEditorPath: snapshotEditorPath,
	}
}

// Verify checks that all three paths exist, are not directories and have at
// least one execute permission bit set. It reads each path's own metadata
// without following a symlink, and it does not test execute permission for
// the effective user specifically. If expectedVersion is non-empty, it
// additionally launches `firecracker --version` via rt, parses the first
// whitespace-separated token of the first line, and compares it literally
// against expectedVersion.
//
// Concurrent Verify calls for the same expectedVersion are deduplicated via
// singleflight, so launching many executors against one shared Installation
// does not spawn a redundant --version probe per executor.
func (inst *Installation) Verify(ctx context.Context, rt runtime.Runtime, expectedVersion string) error {
	for _, path := range []string{inst.FirecrackerPath, inst.JailerPath, inst.SnapshotEditorPath} {
		if err := verifyExecutable(ctx, rt, path); err != nil {
			return err
		}
	}

	if expectedVersion == "" {
		return nil
	}

	_, err, _ := inst.group.Do(expectedVersion, func() (any, error) {
		return nil, inst.verifyVersion(ctx, rt, expectedVersion)
	})
	return err
}

func verifyExecutable(ctx context.Context, rt runtime.Runtime, path string) error {
	info, err := rt.FS().Metadata(ctx, path)
	if err != nil {
		var rtErr *runtime.Error
		if errors.As(err, &rtErr) && rtErr.Kind == runtime.ErrorKindNotExist {
			return &InstallError{Kind: InstallKindMissing, Path: path}
		}
		return &InstallError{Kind: InstallKindIO, Path: path, Err: err}
	}
	if info.IsDir() {
		return &InstallError{Kind: InstallKindNotExecutable, Path: path}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return &InstallError{Kind: InstallKindNotExecutable, Path: path}
	}
	return nil
}

func (inst *Installation) verifyVersion(ctx context.Context, rt runtime.Runtime, expectedVersion string) error {
	handle, err := rt.Process().Spawn(ctx, runtime.SpawnOptions{
		Program: inst.FirecrackerPath,
		Argv:    []string{"--version"},
	})
	if err != nil {
		return &InstallError{Kind: InstallKindIO, Path: inst.FirecrackerPath, Err: err}
	}

	output, readErr := io.ReadAll(handle.Stdout())
	status, waitErr := handle.Wait(ctx)
	if waitErr != nil {
		return &InstallError{Kind: InstallKindIO, Path: inst.FirecrackerPath, Err: waitErr}
	}
	if readErr != nil {
		return &InstallError{Kind: InstallKindIO, Path: inst.FirecrackerPath, Err: readErr}
	}
	if !status.Success() {
		return &InstallError{Kind: InstallKindNotExecutable, Path: inst.FirecrackerPath}
	}

	actual := firstVersionToken(string(output))
	if actual != expectedVersion {
		return &InstallError{
			Kind:     InstallKindVersionMismatch,
			Path:     inst.FirecrackerPath,
			Expected: expectedVersion,
			Actual:   actual,
		}
	}
	return nil
}

// firstVersionToken returns the first whitespace-separated token of the
// first line of s, per §4.5's comparison rule.
func firstVersionToken(s string) string {
	firstLine := s
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine = s[:idx]
	}
	fields := strings.Fields(firstLine)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
