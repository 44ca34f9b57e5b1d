// Package metrics tails a Firecracker metrics pipe: a named FIFO that the
// VMM opens for writing and appends one newline-delimited JSON object to
// per flush interval. It consumes only the syscall shim (to create the
// FIFO before Invoke, matching spec.md's mkfifo requirement for "log/metrics
// pipes") and a Started vmm.Process's metrics path, never executor state.
package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/buildkite/fcvmm/runtime"
	"github.com/buildkite/fcvmm/sys"
)

// Entry is one decoded line of the metrics pipe. Field selection mirrors
// original_source/src/ext/metrics.rs's MetricsEntry/ApiServerMetrics/
// BalloonMetrics, trimmed to the counters an operator actually watches
// (activation failures and queue backpressure) rather than every field
// Firecracker happens to emit; unknown fields are ignored by
// encoding/json, not rejected.
type Entry struct {
	UTCTimestampMS uint64    `json:"utc_timestamp_ms"`
	APIServer      APIServer `json:"api_server"`
	Balloon        Balloon   `json:"balloon"`
}

type APIServer struct {
	ProcessStartupTimeUs    uint64 `json:"process_startup_time_us"`
	ProcessStartupTimeCPUUs uint64 `json:"process_startup_time_cpu_us"`
	SyncResponseFails       uint64 `json:"sync_response_fails"`
	SyncVMMSendTimeoutCount uint64 `json:"sync_vmm_send_timeout_count"`
}

type Balloon struct {
	ActivateFails     uint64 `json:"activate_fails"`
	InflateCount      uint64 `json:"inflate_count"`
	StatsUpdatesCount uint64 `json:"stats_updates_count"`
	StatsUpdateFails  uint64 `json:"stats_update_fails"`
	DeflateCount      uint64 `json:"deflate_count"`
	EventFails        uint64 `json:"event_fails"`
}

// CreatePipe creates the named FIFO at path that Firecracker's
// --metrics-path will write into, via the syscall shim's Mkfifo.
// Must be called before Invoke; Firecracker opens the path for writing and
// blocks until a reader is attached, so Tail should be started concurrently
// with or before the VMM process starts.
func CreatePipe(syscalls sys.Syscalls, path string) error {
	return syscalls.Mkfifo(path, 0o600)
}

// Error reports a failure tailing or decoding the metrics pipe.
type Error struct {
	Op   string
	Line string
	Err  error
}

func (e *Error) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("metrics: %s: %q: %v", e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("metrics: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Tail opens the metrics pipe at path and spawns a task via rt that decodes
// one Entry per line and sends it on the returned channel, until ctx is
// cancelled or a read/decode error occurs (reported on the error channel,
// which then closes along with the entry channel). Grounded on
// original_source/src/ext/metrics.rs's spawn_metrics_task: an unbounded
// channel fed by a dedicated task reading line-by-line, translated from
// tokio's BufReader/lines()/mpsc to a runtime.Runtime task plus an
// unbuffered entry channel and a one-slot error channel.
//
// Tail performs its own blocking file open/read directly rather than
// through runtime.Filesystem, because Filesystem's surface is whole-file
// (ReadToBytes) with no streaming-read primitive for a pipe that is still
// being written to; the task itself, however, is spawned through rt so its
// lifetime is still runtime-managed like everything else in this module.
func Tail(ctx context.Context, rt runtime.Runtime, path string) (<-chan Entry, <-chan error) {
	entries := make(chan Entry)
	errs := make(chan error, 1)

	rt.SpawnTask(func(taskCtx context.Context) {
		defer close(entries)
		defer close(errs)

		f, err := os.Open(path)
		if err != nil {
			errs <- &Error{Op: "open", Err: err}
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case <-taskCtx.Done():
				return
			default:
			}

			line := scanner.Text()
			if line == "" {
				continue
			}

			var entry Entry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				errs <- &Error{Op: "decode", Line: line, Err: err}
				return
			}

			select {
			case entries <- entry:
			case <-ctx.Done():
				return
			case <-taskCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- &Error{Op: "read", Err: err}
		}
	})

	return entries, errs
}
