package deploy

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/manifest"
	"github.com/vi3318/cap-backend/pkg/logging"
)

// Runner drives installation across an attempt's plan and owns the
// fallback decision: one demotion from full to minimal after a
// mandatory-tier failure, and nothing after that.
//
// A single goroutine drives the tier sequence. The optional-heavy tier
// is the only concurrent unit of work; it runs in one background
// goroutine and is joined before the caller launches when the manifest
// says the server depends on it.
type Runner struct {
	installer Installer
	budgets   BudgetConfig
	log       *logging.Logger

	// BackgroundOptional runs the optional-heavy tier concurrently with
	// the mandatory tiers instead of after them. On by default.
	BackgroundOptional bool
}

// NewRunner creates a Runner.
func NewRunner(installer Installer, budgets BudgetConfig, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Default()
	}
	return &Runner{
		installer:          installer,
		budgets:            budgets,
		log:                log,
		BackgroundOptional: true,
	}
}

// RunWithFallback executes the primary profile's plan tier by tier,
// halting at the first failed or timed-out mandatory tier. On halt it
// builds a minimal plan and retries the whole sequence exactly once,
// from a clean state; a second failure is terminal.
//
// Optional-heavy failures never halt a plan. They are recorded on the
// attempt — immediately when sequential, whenever the background
// install lands otherwise.
func (r *Runner) RunWithFallback(ctx context.Context, m *manifest.Manifest, primary BuildProfile) (*Deployment, error) {
	dep := &Deployment{}

	attempt, err := r.runAttempt(ctx, dep, m, primary, "")
	if err != nil {
		return dep, err
	}
	if attempt.Outcome == AttemptInstalled {
		return dep, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		// Operator interrupt, not an install failure; retrying against a
		// dead context would fail the same way.
		dep.InstallErr = cerr
		return dep, cerr
	}
	if primary == ProfileMinimal {
		// Already minimal; there is nothing to demote to.
		dep.InstallErr = fmt.Errorf("%w: profile %s", ErrInstallExhausted, primary)
		return dep, dep.InstallErr
	}

	r.log.Warn("mandatory tier failed, demoting to minimal profile", "attempt", attempt.ID)
	dep.FallbackTriggered = true

	retry, err := r.runAttempt(ctx, dep, m, ProfileMinimal, attempt.ID)
	if err != nil {
		return dep, err
	}
	if retry.Outcome == AttemptInstalled {
		return dep, nil
	}

	dep.InstallErr = fmt.Errorf("%w: minimal retry of attempt %s", ErrInstallExhausted, attempt.ID)
	return dep, dep.InstallErr
}

// runAttempt executes one attempt from a clean state. It returns an
// error only for plan construction failures (malformed specs); tier
// failures are recorded on the attempt and reflected in its outcome.
func (r *Runner) runAttempt(ctx context.Context, dep *Deployment, m *manifest.Manifest, profile BuildProfile, demotedFrom string) (*DeploymentAttempt, error) {
	plan, err := Plan(m.Dependencies, profile)
	if err != nil {
		return nil, err
	}

	attempt := newAttempt(profile, plan, demotedFrom)
	dep.Attempts = append(dep.Attempts, attempt)
	r.log.Info("starting deployment attempt", "attempt", attempt.ID, "profile", profile, "tiers", len(plan.Tiers))

	heavyInBackground := r.BackgroundOptional && plan.Contains(manifest.TierOptionalHeavy)

	var (
		bg       errgroup.Group
		bgResult TierResult
	)
	// The background context outlives this call in the fire-and-forget
	// case, so it is cancelled explicitly on each path rather than
	// deferred here.
	bgCtx := ctx
	cancelBG := func() {}
	if heavyInBackground {
		bgCtx, cancelBG = context.WithCancel(ctx)
		specs := m.ByTier(manifest.TierOptionalHeavy)
		budget := r.budgets.ForTier(specs)
		bg.Go(func() error {
			res := r.installer.InstallTier(bgCtx, manifest.TierOptionalHeavy, specs, budget)
			res.Background = true
			bgResult = res
			return nil
		})
	}

	halted := false
	for _, tier := range plan.Tiers {
		if tier == manifest.TierOptionalHeavy && heavyInBackground {
			continue
		}
		specs := m.ByTier(tier)
		result := r.installer.InstallTier(ctx, tier, specs, r.budgets.ForTier(specs))
		attempt.append(result)

		if result.Outcome != TierSuccess && tier.Mandatory() {
			halted = true
			break
		}
	}

	if halted {
		// The demoted retry starts clean; the primary attempt's heavy
		// download has no home in a minimal plan.
		cancelBG()
		if heavyInBackground {
			_ = bg.Wait()
			attempt.append(bgResult)
		}
		attempt.finish(AttemptFailed)
		return attempt, nil
	}

	if heavyInBackground {
		if m.Launch.RequiresHeavy {
			// The server imports from this tier at startup; join before
			// the caller can launch.
			_ = bg.Wait()
			cancelBG()
			attempt.append(bgResult)
		} else {
			// Fire and forget: hand the pending result to the
			// deployment so it can be collected whenever it lands.
			ch := make(chan TierResult, 1)
			dep.background = ch
			dep.bgAttempt = attempt
			go func() {
				_ = bg.Wait()
				cancelBG()
				r.log.Info("background tier finished", "tier", manifest.TierOptionalHeavy, "outcome", bgResult.Outcome)
				ch <- bgResult
				close(ch)
			}()
		}
	}

	attempt.finish(AttemptInstalled)
	r.log.Info("attempt installed", "attempt", attempt.ID, "profile", profile, "elapsed", attempt.Elapsed)
	return attempt, nil
}
