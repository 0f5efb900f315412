package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vi3318/cap-backend/cmd/capdeploy/config"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/deploy"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/health"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/infra/process"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/manifest"
	"github.com/vi3318/cap-backend/pkg/logging"
)

func runDeploy(cmd *cobra.Command, args []string) {
	cfg := config.Global

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "capdeploy",
		Quiet:   jsonOutput,
	})
	defer logger.Close()

	m, err := loadManifest(cfg)
	if err != nil {
		OutputError(jsonOutput, "deploy", "failed to load manifest", err)
		os.Exit(ExitError)
	}

	profile, err := deploy.ParseProfile(profileFlag)
	if err != nil {
		OutputError(jsonOutput, "deploy", "invalid profile", err)
		os.Exit(ExitError)
	}

	if dryRun {
		plan, err := deploy.Plan(m.Dependencies, profile)
		if err != nil {
			OutputError(jsonOutput, "deploy", "planning failed", err)
			os.Exit(ExitError)
		}
		printPlan(m, plan)
		os.Exit(ExitSuccess)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := newPipeline(cfg, logger)
	report := pipeline.execute(ctx, m, profile)

	if jsonOutput {
		_ = OutputJSON(CommandResult{
			APIVersion: "1.0",
			Command:    "deploy",
			Timestamp:  time.Now(),
			Success:    report.Outcome == deploy.RunSucceeded,
			Data:       report,
		})
	} else {
		report.Render(os.Stdout)
		printVerdict(report)
	}
	os.Exit(exitCodeFor(report.Outcome))
}

// pipeline wires the deployment components together. Construction is
// separated from execution so tests can substitute every collaborator.
type pipeline struct {
	runner     *deploy.Runner
	launcher   *deploy.Launcher
	gate       *health.Gate
	healthOpts health.Options
	port       int
	log        *logging.Logger
}

func newPipeline(cfg config.Config, logger *logging.Logger) *pipeline {
	proc := process.NewDefaultManager()

	installer := deploy.NewPipInstaller(proc, logger)
	installer.Bin = cfg.Installer.Bin
	installer.ExtraArgs = cfg.Installer.ExtraArgs

	budgets := deploy.BudgetConfig{
		Floor:   cfg.Installer.BudgetFloor(),
		PerCost: cfg.Installer.BudgetPerCost(),
		Cap:     cfg.Installer.BudgetCap(),
	}

	runner := deploy.NewRunner(installer, budgets, logger)
	runner.BackgroundOptional = !noBackground

	return &pipeline{
		runner:   runner,
		launcher: deploy.NewLauncher(proc, logger),
		gate:     health.NewGate(nil, logger),
		healthOpts: health.Options{
			Interval: cfg.Health.Interval(),
			Deadline: cfg.Health.Deadline(),
		},
		port: portFlag,
		log:  logger,
	}
}

// execute drives install -> launch -> health gate and always returns a
// report, whatever went wrong along the way.
func (p *pipeline) execute(ctx context.Context, m *manifest.Manifest, profile deploy.BuildProfile) *deploy.Report {
	start := time.Now()

	dep, err := p.runner.RunWithFallback(ctx, m, profile)
	if err != nil {
		if dep != nil {
			dep.CollectBackground()
		}
		return deploy.BuildReport(dep, nil, err, time.Since(start))
	}

	// The port is resolved here, at launch time, so a platform-assigned
	// $PORT is honored no matter what the plan assumed earlier.
	endpoint := deploy.ResolveEndpoint(m.Launch.Host, p.port)

	handle, err := p.launcher.Launch(ctx, m.Launch.Command, endpoint)
	if err != nil {
		dep.Complete(nil, false)
		dep.CollectBackground()
		return deploy.BuildReport(dep, nil, err, time.Since(start))
	}
	dep.RecordLaunch(handle)

	result, healthErr := p.gate.Wait(ctx, endpoint.HealthURL(m.Launch.HealthPath), p.healthOpts)
	dep.Complete(result, healthErr == nil)

	if healthErr != nil && errors.Is(healthErr, health.ErrExhausted) {
		// Deliberately leave the process running: operators inspect a
		// half-alive server far more easily than a dead one.
		p.log.Error("server never became healthy, leaving it running for inspection", "pid", handle.PID)
	}

	dep.CollectBackground()
	return deploy.BuildReport(dep, result, healthErr, time.Since(start))
}

func exitCodeFor(outcome deploy.RunOutcome) int {
	switch outcome {
	case deploy.RunSucceeded:
		return ExitSuccess
	case deploy.RunInstallFailed:
		return ExitInstallFailed
	case deploy.RunLaunchFailed:
		return ExitLaunchFailed
	case deploy.RunNeverHealthy:
		return ExitNeverHealthy
	}
	return ExitError
}

func printVerdict(report *deploy.Report) {
	if report.Outcome == deploy.RunSucceeded {
		fmt.Printf("Deployment %s\n", colorize("succeeded", colorGreen))
		return
	}
	fmt.Printf("Deployment %s (%s)\n", colorize("failed", colorRed), report.Outcome)
}

func loadManifest(cfg config.Config) (*manifest.Manifest, error) {
	path := manifestFlag
	if path == "" {
		path = cfg.ManifestPath
	}
	if path == "" {
		return nil, fmt.Errorf("no manifest path configured")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("manifest %s not found", path)
	}
	return manifest.Load(path)
}
