package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/buildkite/fcvmm/runtime"
	"github.com/buildkite/fcvmm/sys"
)

func TestCreatePipeInvokesMkfifo(t *testing.T) {
	fake := sys.NewFake(0, 0)
	if err := CreatePipe(fake, "/tmp/metrics.fifo"); err != nil {
		t.Fatalf("CreatePipe: %v", err)
	}

	found := false
	for _, call := range fake.Calls {
		if call.Name == "mkfifo" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a Mkfifo call")
	}
}

func TestTailDecodesNewlineDelimitedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.jsonl")
	line := `{"utc_timestamp_ms":1000,"api_server":{"process_startup_time_us":1,"process_startup_time_cpu_us":2,"sync_response_fails":0,"sync_vmm_send_timeout_count":0},"balloon":{"activate_fails":0,"inflate_count":0,"stats_updates_count":0,"stats_update_fails":0,"deflate_count":0,"event_fails":0}}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rt := runtime.NewPreemptive()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, errs := Tail(ctx, rt, path)

	select {
	case entry, ok := <-entries:
		if !ok {
			t.Fatalf("entries channel closed before yielding an entry")
		}
		if entry.UTCTimestampMS != 1000 {
			t.Fatalf("UTCTimestampMS = %d, want 1000", entry.UTCTimestampMS)
		}
		if entry.APIServer.ProcessStartupTimeUs != 1 {
			t.Fatalf("ProcessStartupTimeUs = %d, want 1", entry.APIServer.ProcessStartupTimeUs)
		}
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for an entry")
	}
}

func TestTailReportsDecodeErrorOnMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.jsonl")
	if err := os.WriteFile(path, []byte("not json\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rt := runtime.NewPreemptive()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, errs := Tail(ctx, rt, path)

	select {
	case err := <-errs:
		if err == nil {
			t.Fatalf("expected a decode error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for the decode error")
	}
}

func TestTailReportsOpenErrorForMissingPath(t *testing.T) {
	rt := runtime.NewPreemptive()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, errs := Tail(ctx, rt, "/nonexistent/metrics.jsonl")

	select {
	case err := <-errs:
		if err == nil {
			t.Fatalf("expected an open error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for the open error")
	}
}
