package vmm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/buildkite/fcvmm/runtime"
)

func writeFakeBinary(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestInstallationVerifyMissingBinary(t *testing.T) {
	dir := t.TempDir()
	inst := NewInstallation(filepath.Join(dir, "nope"), filepath.Join(dir, "nope2"), filepath.Join(dir, "nope3"))
	rt := runtime.NewPreemptive()

	err := inst.Verify(context.Background(), rt, "")
	if err == nil {
		t.Fatalf("expected error")
	}
	ierr, ok := err.(*InstallError)
	if !ok || ierr.Kind != InstallKindMissing {
		t.Fatalf("got %v, want InstallKindMissing", err)
	}
}

func TestInstallationVerifyNotExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firecracker")
	if err := os.WriteFile(path, []byte("not a binary"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	inst := NewInstallation(path, path, path)
	rt := runtime.NewPreemptive()

	err := inst.Verify(context.Background(), rt, "")
	ierr, ok := err.(*InstallError)
	if !ok || ierr.Kind != InstallKindNotExecutable {
		t.Fatalf("got %v, want InstallKindNotExecutable", err)
	}
}

func TestInstallationVerifyVersionMatch(t *testing.T) {
	dir := t.TempDir()
	fc := filepath.Join(dir, "firecracker")
	writeFakeBinary(t, fc, "#!/bin/sh\necho 'Firecracker v1.7.0'\n")
	inst := NewInstallation(fc, fc, fc)
	rt := runtime.NewPreemptive()

	if err := inst.Verify(context.Background(), rt, "Firecracker"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestInstallationVerifyVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	fc := filepath.Join(dir, "firecracker")
	writeFakeBinary(t, fc, "#!/bin/sh\necho 'Firecracker v1.7.0'\n")
	inst := NewInstallation(fc, fc, fc)
	rt := runtime.NewPreemptive()

	err := inst.Verify(context.Background(), rt, "v1.8.0")
	ierr, ok := err.(*InstallError)
	if !ok || ierr.Kind != InstallKindVersionMismatch {
		t.Fatalf("got %v, want InstallKindVersionMismatch", err)
	}
	if ierr.Expected != "v1.8.0" || ierr.Actual != "Firecracker" {
		t.Fatalf("got expected=%q actual=%q", ierr.Expected, ierr.Actual)
	}
}

func TestFirstVersionToken(t *testing.T) {
	cases := map[string]string{
		"Firecracker v1.7.0\nmore text\n": "Firecracker",
		"v1.7.0":                          "v1.7.0",
		"":                                "",
		"   \nfoo":                        "",
	}
	for in, want := range cases {
		if got := firstVersionToken(in); got != want {
			t.Fatalf("firstVersionToken(%q) = %q, want %q", in, got, want)
		}
	}
}
