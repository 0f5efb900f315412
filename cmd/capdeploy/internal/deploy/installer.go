package deploy

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/infra/process"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/manifest"
	"github.com/vi3318/cap-backend/pkg/logging"
)

// Budget constants prevent a misconfigured manifest from hanging a
// build or starving a heavy tier.
const (
	// MinTierBudget is the absolute floor for any tier, enough to cover
	// even a single heavy package on a slow registry connection.
	MinTierBudget = 30 * time.Second

	// DefaultBudgetPerCost is the wall-clock allowance per unit of
	// estimated install cost.
	DefaultBudgetPerCost = 20 * time.Second

	// MaxTierBudget caps a tier no matter how large its summed cost.
	MaxTierBudget = 10 * time.Minute
)

// BudgetConfig sizes per-tier time budgets from estimated install cost.
type BudgetConfig struct {
	// Floor is the minimum budget for any tier.
	Floor time.Duration

	// PerCost is the allowance added per unit of summed spec cost.
	PerCost time.Duration

	// Cap is the hard ceiling for a single tier.
	Cap time.Duration
}

// DefaultBudgetConfig returns the tuned defaults.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		Floor:   MinTierBudget,
		PerCost: DefaultBudgetPerCost,
		Cap:     MaxTierBudget,
	}
}

// ForTier computes the budget for a tier: floor plus summed cost times
// the per-cost allowance, capped. Zero-value fields fall back to the
// defaults so an unset config cannot produce an instant timeout.
func (c BudgetConfig) ForTier(specs []manifest.DependencySpec) time.Duration {
	floor := c.Floor
	if floor <= 0 {
		floor = MinTierBudget
	}
	perCost := c.PerCost
	if perCost <= 0 {
		perCost = DefaultBudgetPerCost
	}
	cap := c.Cap
	if cap <= 0 {
		cap = MaxTierBudget
	}

	total := 0
	for _, spec := range specs {
		total += spec.Cost
	}
	budget := floor + time.Duration(total)*perCost
	if budget > cap {
		return cap
	}
	return budget
}

// Installer executes the installation of one tier. The real
// implementation shells out to the package installer; tests substitute
// scripted outcomes.
type Installer interface {
	// InstallTier installs every spec in the tier under a hard
	// wall-clock budget. The returned TierResult always carries the
	// captured installer output, whatever the outcome.
	InstallTier(ctx context.Context, tier manifest.Tier, specs []manifest.DependencySpec, budget time.Duration) TierResult
}

// PipInstaller installs tiers by invoking pip once per tier with every
// (name, constraint) pair. Specs within a tier are treated as
// independent; pip decides its own download order.
type PipInstaller struct {
	proc process.Manager
	log  *logging.Logger

	// Bin is the installer executable, "pip" unless overridden.
	Bin string

	// ExtraArgs are appended after "install", e.g. --no-cache-dir in
	// space-constrained build containers.
	ExtraArgs []string
}

// NewPipInstaller creates the production installer.
func NewPipInstaller(proc process.Manager, log *logging.Logger) *PipInstaller {
	if log == nil {
		log = logging.Default()
	}
	return &PipInstaller{
		proc: proc,
		log:  log,
		Bin:  "pip",
	}
}

// InstallTier installs one tier under a hard wall-clock budget.
//
// Budget expiry cancels only this tier's in-flight command; the caller
// decides what happens to the rest of the attempt. Captured stdout and
// stderr are attached to the result in every case.
func (p *PipInstaller) InstallTier(ctx context.Context, tier manifest.Tier, specs []manifest.DependencySpec, budget time.Duration) TierResult {
	if budget < MinTierBudget {
		budget = MinTierBudget
	}

	args := append([]string{"install"}, p.ExtraArgs...)
	for _, spec := range specs {
		args = append(args, spec.Requirement())
	}

	p.log.Info("installing tier", "tier", tier, "specs", len(specs), "budget", budget)

	tierCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := p.proc.Run(tierCtx, nil, p.Bin, args...)
	elapsed := time.Since(start)

	result := TierResult{
		Tier:    tier,
		Elapsed: elapsed,
		Log:     combineOutput(stdout, stderr),
	}

	switch {
	case err == nil:
		result.Outcome = TierSuccess
		p.log.Info("tier installed", "tier", tier, "elapsed", elapsed)
	case errors.Is(err, context.DeadlineExceeded):
		result.Outcome = TierTimedOut
		result.Detail = err.Error()
		p.log.Warn("tier timed out", "tier", tier, "budget", budget)
	default:
		result.Outcome = TierFailed
		result.Detail = err.Error()
		p.log.Error("tier install failed", "tier", tier, "elapsed", elapsed, "error", err)
	}
	return result
}

func combineOutput(stdout, stderr string) string {
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	}
	return stdout + "\n" + stderr
}
