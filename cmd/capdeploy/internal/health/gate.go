// Package health implements the gate that withholds "deployment
// succeeded" until the launched server proves it can answer requests.
//
// The gate polls a liveness URL at a fixed interval until it answers
// with a success status or a deadline expires. A transition to healthy
// is terminal: the gate never re-polls after success. Liveness
// monitoring beyond the deploy run is somebody else's job.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vi3318/cap-backend/pkg/logging"
)

// ErrExhausted is returned when the deadline passes without a single
// successful poll. The launched process is left running for operator
// inspection; tearing it down is the caller's decision.
var ErrExhausted = errors.New("health check deadline exhausted")

// State is the gate's view of the service.
type State string

const (
	// StateUnknown means no poll has succeeded yet and the deadline
	// has not expired.
	StateUnknown State = "unknown"

	// StateHealthy means a poll succeeded. Terminal.
	StateHealthy State = "healthy"

	// StateUnhealthy means the deadline expired without success.
	// Terminal.
	StateUnhealthy State = "unhealthy"
)

// HTTPClient abstracts the single HTTP operation a poll needs, so tests
// can script responses without a listener.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configure the poll loop.
type Options struct {
	// Interval between polls. Fixed, no backoff.
	Interval time.Duration

	// Deadline is the total ceiling measured from the first poll.
	Deadline time.Duration
}

// DefaultOptions returns the tuned defaults: a poll every 3 seconds
// for up to 2 minutes.
func DefaultOptions() Options {
	return Options{
		Interval: 3 * time.Second,
		Deadline: 2 * time.Minute,
	}
}

// Validated returns a copy with guard-rail minimums applied so a zero
// value cannot spin or hang.
func (o Options) Validated() Options {
	out := o
	if out.Interval < 100*time.Millisecond {
		out.Interval = 100 * time.Millisecond
	}
	if out.Deadline < out.Interval {
		out.Deadline = out.Interval
	}
	return out
}

// Status is the gate's mutable view, owned by the poll loop and
// read-only everywhere else.
type Status struct {
	LastChecked      time.Time `json:"last_checked"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	State            State     `json:"state"`
}

// Result is the terminal outcome of one gating run.
type Result struct {
	State   State         `json:"state"`
	Polls   int           `json:"polls"`
	Elapsed time.Duration `json:"elapsed"`

	// Failures holds one reason per failed poll, the diagnostic trail
	// operators read when healthy was never reached.
	Failures []string `json:"failures,omitempty"`
}

// Gate polls a liveness endpoint until healthy or exhausted.
type Gate struct {
	client HTTPClient
	log    *logging.Logger
}

// NewGate creates a gate. A nil client gets a short-timeout http.Client
// with keep-alives disabled; a nil logger gets the package default.
func NewGate(client HTTPClient, log *logging.Logger) *Gate {
	if client == nil {
		client = &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		}
	}
	if log == nil {
		log = logging.Default()
	}
	return &Gate{client: client, log: log}
}

// Wait polls url until it answers 2xx or the deadline expires.
//
// On success the Result's State is StateHealthy and the error is nil.
// On deadline expiry the State is StateUnhealthy and the error wraps
// ErrExhausted. Context cancellation stops the loop immediately and is
// reported as the context's error.
func (g *Gate) Wait(ctx context.Context, url string, opts Options) (*Result, error) {
	opts = opts.Validated()
	start := time.Now()

	status := Status{State: StateUnknown}
	result := &Result{State: StateUnknown}

	deadline := time.NewTimer(opts.Deadline)
	defer deadline.Stop()

	for {
		ok, reason := g.poll(ctx, url)
		result.Polls++
		status.LastChecked = time.Now()

		if ok {
			status.State = StateHealthy
			status.ConsecutiveFails = 0
			result.State = StateHealthy
			result.Elapsed = time.Since(start)
			g.log.Info("health gate passed", "url", url, "polls", result.Polls, "elapsed", result.Elapsed)
			return result, nil
		}

		status.ConsecutiveFails++
		result.Failures = append(result.Failures, reason)
		g.log.Warn("health poll failed", "url", url, "poll", result.Polls, "consecutive_fails", status.ConsecutiveFails, "reason", reason)

		select {
		case <-ctx.Done():
			result.Elapsed = time.Since(start)
			return result, fmt.Errorf("health gate cancelled: %w", ctx.Err())
		case <-deadline.C:
			status.State = StateUnhealthy
			result.State = StateUnhealthy
			result.Elapsed = time.Since(start)
			g.log.Error("health gate exhausted", "url", url, "polls", result.Polls, "elapsed", result.Elapsed)
			return result, fmt.Errorf("%w: %s after %d polls", ErrExhausted, url, result.Polls)
		case <-time.After(opts.Interval):
		}
	}
}

// Check performs a single poll without retries.
func (g *Gate) Check(ctx context.Context, url string) (bool, string) {
	return g.poll(ctx, url)
}

func (g *Gate) poll(ctx context.Context, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Sprintf("build request: %v", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, fmt.Sprintf("unexpected status %d", resp.StatusCode)
}
