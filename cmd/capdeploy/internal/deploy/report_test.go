package deploy

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/health"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/manifest"
)

func installedDeployment() *Deployment {
	attempt := newAttempt(ProfileFull, InstallPlan{Profile: ProfileFull, Tiers: manifest.TierOrder}, "")
	attempt.append(TierResult{Tier: manifest.TierCore, Outcome: TierSuccess})
	attempt.append(TierResult{Tier: manifest.TierStorage, Outcome: TierSuccess})
	attempt.finish(AttemptInstalled)
	return &Deployment{Attempts: []*DeploymentAttempt{attempt}}
}

func TestBuildReport_Classification(t *testing.T) {
	healthy := &health.Result{State: health.StateHealthy, Polls: 2}
	unhealthy := &health.Result{State: health.StateUnhealthy, Polls: 40}

	t.Run("succeeded", func(t *testing.T) {
		dep := installedDeployment()
		dep.RecordLaunch(&ProcessHandle{PID: 100, Endpoint: Endpoint{Host: "0.0.0.0", Port: 8000}})
		dep.Complete(healthy, true)

		r := BuildReport(dep, healthy, nil, time.Minute)
		if r.Outcome != RunSucceeded {
			t.Errorf("got %s, want succeeded", r.Outcome)
		}
		if r.HealthState != health.StateHealthy {
			t.Errorf("got health state %s, want healthy", r.HealthState)
		}
	})

	t.Run("install failed", func(t *testing.T) {
		dep := &Deployment{InstallErr: ErrInstallExhausted}
		r := BuildReport(dep, nil, ErrInstallExhausted, time.Minute)
		if r.Outcome != RunInstallFailed {
			t.Errorf("got %s, want install_failed", r.Outcome)
		}
		if r.Error == "" {
			t.Error("expected the terminal error in the report")
		}
	})

	t.Run("launch failed", func(t *testing.T) {
		dep := installedDeployment()
		dep.Complete(nil, false)
		r := BuildReport(dep, nil, ErrLaunch, time.Minute)
		if r.Outcome != RunLaunchFailed {
			t.Errorf("got %s, want launch_failed", r.Outcome)
		}
	})

	t.Run("never healthy", func(t *testing.T) {
		dep := installedDeployment()
		dep.RecordLaunch(&ProcessHandle{PID: 100})
		dep.Complete(unhealthy, false)
		r := BuildReport(dep, unhealthy, health.ErrExhausted, time.Minute)
		if r.Outcome != RunNeverHealthy {
			t.Errorf("got %s, want never_healthy", r.Outcome)
		}
	})

	t.Run("nil deployment", func(t *testing.T) {
		r := BuildReport(nil, nil, ErrInstallExhausted, 0)
		if r.Outcome != RunInstallFailed {
			t.Errorf("got %s, want install_failed", r.Outcome)
		}
		if r.HealthState != health.StateUnknown {
			t.Errorf("got health state %s, want unknown", r.HealthState)
		}
	})
}

func TestReport_RenderRetainsDiagnostics(t *testing.T) {
	attempt := newAttempt(ProfileFull, InstallPlan{Profile: ProfileFull, Tiers: manifest.TierOrder}, "")
	attempt.append(TierResult{Tier: manifest.TierCore, Outcome: TierSuccess, Elapsed: 2 * time.Second})
	attempt.append(TierResult{
		Tier:    manifest.TierStorage,
		Outcome: TierFailed,
		Detail:  "No matching distribution found for db-pkg",
	})
	attempt.finish(AttemptFailed)

	retry := newAttempt(ProfileMinimal, InstallPlan{Profile: ProfileMinimal, Tiers: []manifest.Tier{manifest.TierCore}}, attempt.ID)
	retry.append(TierResult{Tier: manifest.TierCore, Outcome: TierSuccess})
	retry.finish(AttemptInstalled)

	dep := &Deployment{Attempts: []*DeploymentAttempt{attempt, retry}, FallbackTriggered: true}

	var buf bytes.Buffer
	BuildReport(dep, &health.Result{State: health.StateHealthy}, nil, 90*time.Second).Render(&buf)
	out := buf.String()

	for _, want := range []string{
		"Deployment Summary",
		"Fallback:  true",
		"No matching distribution found for db-pkg",
		"[demoted]",
		"minimal",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered report missing %q:\n%s", want, out)
		}
	}
}
