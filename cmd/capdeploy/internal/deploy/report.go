package deploy

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/health"
)

// RunOutcome classifies the whole deployment run for the operator
// report and the process exit status.
type RunOutcome string

const (
	// RunSucceeded means installation completed and the health gate
	// reported healthy.
	RunSucceeded RunOutcome = "succeeded"

	// RunInstallFailed means installation failed even after the
	// fallback retry; the server was never launched.
	RunInstallFailed RunOutcome = "install_failed"

	// RunLaunchFailed means installation succeeded but the server
	// command could not start.
	RunLaunchFailed RunOutcome = "launch_failed"

	// RunNeverHealthy means the server launched but the health gate
	// was exhausted before a successful poll.
	RunNeverHealthy RunOutcome = "never_healthy"
)

// Report is the structured end-of-run summary handed to the operator.
// Nothing is discarded: every tier's captured install log and every
// poll failure reason rides along regardless of outcome.
type Report struct {
	APIVersion string     `json:"api_version"`
	Outcome    RunOutcome `json:"outcome"`

	// Profile is the profile of the final attempt.
	Profile           BuildProfile         `json:"profile"`
	FallbackTriggered bool                 `json:"fallback_triggered"`
	Attempts          []*DeploymentAttempt `json:"attempts"`

	HealthState health.State  `json:"health_state"`
	Elapsed     time.Duration `json:"elapsed"`
	Error       string        `json:"error,omitempty"`
}

// BuildReport assembles the report from a finished run.
//
// healthResult and runErr may be nil: a run that never launched has no
// health result, and a successful run has no error.
func BuildReport(dep *Deployment, healthResult *health.Result, runErr error, elapsed time.Duration) *Report {
	r := &Report{
		APIVersion:  "1.0",
		HealthState: health.StateUnknown,
		Elapsed:     elapsed,
	}
	if dep != nil {
		r.FallbackTriggered = dep.FallbackTriggered
		r.Attempts = dep.Attempts
		if final := dep.Final(); final != nil {
			r.Profile = final.Profile
		}
	}
	if healthResult != nil {
		r.HealthState = healthResult.State
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	r.Outcome = classify(dep, healthResult, runErr)
	return r
}

func classify(dep *Deployment, healthResult *health.Result, runErr error) RunOutcome {
	switch {
	case dep == nil || !dep.Installed():
		return RunInstallFailed
	case dep.Final().Process == nil:
		return RunLaunchFailed
	case healthResult == nil || healthResult.State != health.StateHealthy:
		return RunNeverHealthy
	}
	return RunSucceeded
}

// Render writes the human-readable summary.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintln(w, "--- Deployment Summary ---")
	fmt.Fprintf(w, "   Outcome:   %s\n", r.Outcome)
	fmt.Fprintf(w, "   Profile:   %s\n", r.Profile)
	fmt.Fprintf(w, "   Fallback:  %v\n", r.FallbackTriggered)
	fmt.Fprintf(w, "   Health:    %s\n", r.HealthState)
	fmt.Fprintf(w, "   Elapsed:   %s\n", r.Elapsed.Round(time.Millisecond))

	for i, attempt := range r.Attempts {
		fmt.Fprintf(w, "   Attempt %d (%s)", i+1, attempt.Profile)
		if attempt.DemotedFrom != "" {
			fmt.Fprintf(w, " [demoted]")
		}
		fmt.Fprintf(w, ": %s\n", attempt.Outcome)
		for _, tr := range attempt.TierResults {
			marker := ""
			if tr.Background {
				marker = " (background)"
			}
			fmt.Fprintf(w, "      %-15s %-9s %s%s\n", tr.Tier, tr.Outcome, tr.Elapsed.Round(time.Millisecond), marker)
			if tr.Detail != "" {
				fmt.Fprintf(w, "         %s\n", tr.Detail)
			}
		}
		if attempt.Process != nil {
			fmt.Fprintf(w, "      launched pid %d on %s\n", attempt.Process.PID, attempt.Process.Endpoint.Addr())
		}
		if attempt.Health != nil && len(attempt.Health.Failures) > 0 {
			fmt.Fprintf(w, "      health polls failed %d time(s); last: %s\n",
				len(attempt.Health.Failures), attempt.Health.Failures[len(attempt.Health.Failures)-1])
		}
	}
	if r.Error != "" {
		fmt.Fprintf(w, "   Error:     %s\n", r.Error)
	}
	fmt.Fprintln(w, strings.Repeat("-", 26))
}
