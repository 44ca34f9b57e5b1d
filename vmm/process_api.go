package vmm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	apiSocketInitialBackoff = 5 * time.Millisecond
	apiSocketBackoffFactor  = 2
	apiSocketMaxBackoff     = 200 * time.Millisecond
	apiSocketWaitBudget     = 10 * time.Second
)

// ctrlAltDelBody is the fixed, Firecracker-defined request body for
// injecting a Ctrl-Alt-Del keyboard event.
const ctrlAltDelBody = `{"action_type": "SendCtrlAltDel"}`

// isSocketNotReady reports whether err looks like "nothing is listening on
// the socket yet" rather than a genuine request failure, so the
// wait-for-socket loop knows when to keep retrying versus give up.
func isSocketNotReady(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

// SendAPIRequest performs method against uriPath on the Firecracker API
// socket, forwarding body verbatim and returning the raw status code and
// response body. Every call retries through the wait-for-socket backoff
// (initial 5ms, factor 2, capped at 200ms, 10s total budget) while the
// socket is not yet accepting connections, since Firecracker may still be
// starting; all calls share the same *http.Client's connection pool.
func (p *VmmProcess) SendAPIRequest(ctx context.Context, method, uriPath string, body []byte) (int, []byte, error) {
	p.mu.Lock()
	if p.state != ProcessStarted {
		state := p.state
		p.mu.Unlock()
		return 0, nil, wrongStateErr(ProcessStarted, state)
	}
	client := p.apiClient
	p.mu.Unlock()

	deadline := apiSocketWaitBudget
	backoff := apiSocketInitialBackoff

	for {
		req, err := http.NewRequestWithContext(ctx, method, "http://unix"+uriPath, bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err == nil {
			defer resp.Body.Close()
			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return 0, nil, err
			}
			return resp.StatusCode, respBody, nil
		}

		if !isSocketNotReady(err) {
			return 0, nil, err
		}
		if deadline <= 0 {
			return 0, nil, &ProcessError{Kind: ProcessErrorAPISocketTimeout, Err: err}
		}

		sleepFor := backoff
		if sleepFor > deadline {
			sleepFor = deadline
		}
		if sleepErr := p.rt.Sleep(ctx, sleepFor); sleepErr != nil {
			return 0, nil, sleepErr
		}
		deadline -= sleepFor

		backoff *= apiSocketBackoffFactor
		if backoff > apiSocketMaxBackoff {
			backoff = apiSocketMaxBackoff
		}
	}
}

// SendCtrlAltDel posts a Ctrl-Alt-Del keyboard event to /actions, the
// conventional soft-shutdown trigger guests are expected to handle via
// ACPI or an equivalent init hook.
func (p *VmmProcess) SendCtrlAltDel(ctx context.Context) error {
	status, _, err := p.SendAPIRequest(ctx, http.MethodPut, "/actions", []byte(ctrlAltDelBody))
	if err != nil {
		return err
	}
	if status >= 300 {
		return &ProcessError{Kind: ProcessErrorUnknown, Err: errStatus(status)}
	}
	return nil
}

type httpStatusError int

func (e httpStatusError) Error() string {
	return "vmm: api request failed with unexpected status " + http.StatusText(int(e))
}

func errStatus(status int) error { return httpStatusError(status) }
