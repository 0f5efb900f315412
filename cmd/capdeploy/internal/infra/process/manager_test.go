package process

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestDefaultManager_Run(t *testing.T) {
	requireShell(t)
	m := NewDefaultManager()

	stdout, stderr, err := m.Run(context.Background(), nil, "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(stdout) != "out" {
		t.Errorf("stdout = %q", stdout)
	}
	if strings.TrimSpace(stderr) != "err" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestDefaultManager_RunPassesEnv(t *testing.T) {
	requireShell(t)
	m := NewDefaultManager()

	stdout, _, err := m.Run(context.Background(), []string{"CAPDEPLOY_TEST=hello"}, "sh", "-c", "echo $CAPDEPLOY_TEST")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(stdout) != "hello" {
		t.Errorf("env var not passed through, stdout = %q", stdout)
	}
}

func TestDefaultManager_RunNonZeroExit(t *testing.T) {
	requireShell(t)
	m := NewDefaultManager()

	_, stderr, err := m.Run(context.Background(), nil, "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(stderr, "boom") {
		t.Errorf("stderr must be captured on failure, got %q", stderr)
	}
}

func TestDefaultManager_RunDeadlineKillsProcess(t *testing.T) {
	requireShell(t)
	m := NewDefaultManager()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := m.Run(ctx, nil, "sh", "-c", "sleep 10")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("process not killed on deadline, waited %s", elapsed)
	}
}

func TestDefaultManager_RunDeadlineKillsChildProcesses(t *testing.T) {
	requireShell(t)
	m := NewDefaultManager()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The grandchild inherits the output pipes; if only the direct
	// child were killed, Run would block until sleep finishes.
	start := time.Now()
	_, _, err := m.Run(ctx, nil, "sh", "-c", "sleep 5 & wait")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("child process outlived the deadline, waited %s", elapsed)
	}
}

func TestDefaultManager_StartReturnsPID(t *testing.T) {
	requireShell(t)
	m := NewDefaultManager()

	pid, err := m.Start(context.Background(), nil, "sh", "-c", "sleep 0.1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if pid <= 0 {
		t.Errorf("got pid %d, want positive", pid)
	}
}

func TestDefaultManager_StartMissingBinary(t *testing.T) {
	m := NewDefaultManager()
	if _, err := m.Start(context.Background(), nil, "capdeploy-does-not-exist"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestMockManager_RecordsCalls(t *testing.T) {
	m := &MockManager{
		RunFunc: func(ctx context.Context, env []string, name string, args ...string) (string, string, error) {
			return "ok", "", nil
		},
		StartFunc: func(ctx context.Context, env []string, name string, args ...string) (int, error) {
			return 42, nil
		},
	}

	if _, _, err := m.Run(context.Background(), []string{"A=1"}, "pip", "install", "fastapi"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := m.Start(context.Background(), []string{"PORT=8000"}, "uvicorn", "app.main:app"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	calls := m.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Method != "Run" || calls[0].Name != "pip" || calls[0].Env[0] != "A=1" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].Method != "Start" || calls[1].Name != "uvicorn" {
		t.Errorf("second call = %+v", calls[1])
	}

	m.Reset()
	if len(m.GetCalls()) != 0 {
		t.Error("Reset() must clear recorded calls")
	}
}
