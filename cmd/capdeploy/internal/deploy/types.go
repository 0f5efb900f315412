// Package deploy implements the tiered build-and-deploy pipeline for
// cap-backend: plan which dependency tiers to install, install them
// under per-tier time budgets, demote to a minimal profile after a
// mandatory-tier failure, and launch the server process.
//
// Health gating lives in the sibling health package; this package only
// records its result on the attempt.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/health"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/manifest"
)

// Sentinel errors for the deployment pipeline. Tier-level errors are
// absorbed by the fallback controller; launch errors are fatal for the
// attempt.
var (
	// ErrTierInstall indicates the installer reported failure for a tier.
	ErrTierInstall = errors.New("tier install failed")

	// ErrTierTimeout indicates a tier exceeded its wall-clock budget.
	ErrTierTimeout = errors.New("tier install timed out")

	// ErrLaunch indicates the server command could not start.
	ErrLaunch = errors.New("launch failed")

	// ErrInstallExhausted indicates installation failed under the
	// minimal profile too; there is no further automatic retry.
	ErrInstallExhausted = errors.New("installation failed after fallback")
)

// BuildProfile selects which tiers a plan attempts.
type BuildProfile string

const (
	// ProfileFull installs every tier declared in the manifest.
	ProfileFull BuildProfile = "full"

	// ProfileMinimal installs only the core tier.
	ProfileMinimal BuildProfile = "minimal"
)

// ParseProfile converts a user-supplied string to a BuildProfile.
func ParseProfile(s string) (BuildProfile, error) {
	switch BuildProfile(s) {
	case ProfileFull:
		return ProfileFull, nil
	case ProfileMinimal:
		return ProfileMinimal, nil
	}
	return "", fmt.Errorf("unknown build profile %q (want %q or %q)", s, ProfileFull, ProfileMinimal)
}

// InstallPlan is the ordered sequence of tiers one attempt installs.
// Derived per attempt and discarded with it.
type InstallPlan struct {
	Profile BuildProfile  `json:"profile"`
	Tiers   []manifest.Tier `json:"tiers"`
}

// Contains reports whether the plan includes the given tier.
func (p InstallPlan) Contains(tier manifest.Tier) bool {
	for _, t := range p.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// TierOutcome is the terminal result of installing one tier.
type TierOutcome string

const (
	// TierSuccess means every spec in the tier installed.
	TierSuccess TierOutcome = "success"

	// TierFailed means the installer reported failure.
	TierFailed TierOutcome = "failed"

	// TierTimedOut means the tier exceeded its wall-clock budget and
	// the in-flight command was cancelled.
	TierTimedOut TierOutcome = "timed_out"
)

// TierResult records one tier installation. Appended to the owning
// attempt exactly once.
type TierResult struct {
	Tier    manifest.Tier `json:"tier"`
	Outcome TierOutcome   `json:"outcome"`
	Elapsed time.Duration `json:"elapsed"`

	// Log is the captured stdout and stderr of the install command.
	// Always populated, never discarded, regardless of outcome.
	Log string `json:"log,omitempty"`

	// Detail carries the error text for failed or timed-out tiers.
	Detail string `json:"detail,omitempty"`

	// Background marks a result produced by the concurrent
	// optional-heavy install, which may land out of tier order.
	Background bool `json:"background,omitempty"`
}

// Err converts a non-success result into its sentinel error.
func (r TierResult) Err() error {
	switch r.Outcome {
	case TierFailed:
		return fmt.Errorf("%w: tier %s: %s", ErrTierInstall, r.Tier, r.Detail)
	case TierTimedOut:
		return fmt.Errorf("%w: tier %s after %s", ErrTierTimeout, r.Tier, r.Elapsed.Round(time.Millisecond))
	}
	return nil
}

// AttemptOutcome is the overall state of one deployment attempt.
type AttemptOutcome string

const (
	// AttemptPending means the attempt is still executing.
	AttemptPending AttemptOutcome = "pending"

	// AttemptInstalled means every mandatory tier in the plan
	// succeeded; launch and health gating have not completed yet.
	AttemptInstalled AttemptOutcome = "installed"

	// AttemptSucceeded means installation completed and the health
	// gate reported healthy. This is the only success state.
	AttemptSucceeded AttemptOutcome = "succeeded"

	// AttemptFailed means a mandatory tier failed, the launch failed,
	// or the health gate was exhausted.
	AttemptFailed AttemptOutcome = "failed"
)

// DeploymentAttempt is one pass through the pipeline under a single
// profile. A fallback retry is a second attempt linked to the first via
// DemotedFrom; the link is informational, not ownership.
type DeploymentAttempt struct {
	ID      string       `json:"id"`
	Profile BuildProfile `json:"profile"`
	Plan    InstallPlan  `json:"plan"`

	// TierResults are appended in tier order for mandatory tiers; a
	// background optional-heavy result may be appended later, tagged
	// with its tier and Background flag.
	TierResults []TierResult `json:"tier_results"`

	Outcome AttemptOutcome `json:"outcome"`

	// DemotedFrom is the ID of the attempt whose failure caused this
	// one, empty for a primary attempt.
	DemotedFrom string `json:"demoted_from,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`

	// Process is set once the server is launched.
	Process *ProcessHandle `json:"process,omitempty"`

	// Health is the gate result, set after polling finishes.
	Health *health.Result `json:"health,omitempty"`
}

func newAttempt(profile BuildProfile, plan InstallPlan, demotedFrom string) *DeploymentAttempt {
	return &DeploymentAttempt{
		ID:          uuid.NewString(),
		Profile:     profile,
		Plan:        plan,
		Outcome:     AttemptPending,
		DemotedFrom: demotedFrom,
		StartedAt:   time.Now(),
	}
}

// append records a tier result on the attempt.
func (a *DeploymentAttempt) append(r TierResult) {
	a.TierResults = append(a.TierResults, r)
}

// finish stamps the attempt with a terminal outcome.
func (a *DeploymentAttempt) finish(outcome AttemptOutcome) {
	a.Outcome = outcome
	a.CompletedAt = time.Now()
	a.Elapsed = a.CompletedAt.Sub(a.StartedAt)
}

// Result returns the recorded result for a tier, if any.
func (a *DeploymentAttempt) Result(tier manifest.Tier) (TierResult, bool) {
	for _, r := range a.TierResults {
		if r.Tier == tier {
			return r, true
		}
	}
	return TierResult{}, false
}

// Deployment is one end-to-end run: the primary attempt plus, when a
// mandatory tier failed, exactly one demoted retry.
type Deployment struct {
	Attempts []*DeploymentAttempt `json:"attempts"`

	// FallbackTriggered is true when the minimal retry ran.
	FallbackTriggered bool `json:"fallback_triggered"`

	// InstallErr is the terminal installation error, nil when some
	// attempt installed successfully.
	InstallErr error `json:"-"`

	// background receives the optional-heavy result when that tier ran
	// concurrently and was not joined before install finished.
	background chan TierResult
	bgAttempt  *DeploymentAttempt
}

// Final returns the attempt whose outcome decides the run.
func (d *Deployment) Final() *DeploymentAttempt {
	if len(d.Attempts) == 0 {
		return nil
	}
	return d.Attempts[len(d.Attempts)-1]
}

// Installed reports whether the final attempt's mandatory tiers all
// succeeded.
func (d *Deployment) Installed() bool {
	return d.InstallErr == nil && d.Final() != nil
}

// RecordLaunch attaches the launched process to the final attempt.
func (d *Deployment) RecordLaunch(h *ProcessHandle) {
	if final := d.Final(); final != nil {
		final.Process = h
	}
}

// Complete stamps the final attempt with the health gate's verdict.
// The attempt becomes successful only when installation already
// succeeded and the gate reported healthy.
func (d *Deployment) Complete(res *health.Result, healthy bool) {
	final := d.Final()
	if final == nil {
		return
	}
	final.Health = res
	if healthy && final.Outcome == AttemptInstalled && final.Process != nil {
		final.finish(AttemptSucceeded)
		return
	}
	final.finish(AttemptFailed)
}

// CollectBackground appends the fire-and-forget optional-heavy result
// to its owning attempt if it has landed. Non-blocking.
func (d *Deployment) CollectBackground() bool {
	if d.background == nil {
		return false
	}
	select {
	case r, ok := <-d.background:
		if ok {
			d.bgAttempt.append(r)
			d.background = nil
			return true
		}
	default:
	}
	return false
}

// WaitBackground blocks until the background optional-heavy result
// lands or the context expires, then appends it.
func (d *Deployment) WaitBackground(ctx context.Context) bool {
	if d.background == nil {
		return false
	}
	select {
	case r, ok := <-d.background:
		if ok {
			d.bgAttempt.append(r)
			d.background = nil
			return true
		}
	case <-ctx.Done():
	}
	return false
}
