// Package process abstracts external process execution behind an
// interface so that installer and launcher code can be unit tested
// without running real commands.
//
// Every exec.Command call in the deployment pipeline goes through
// Manager. Production code uses DefaultManager; tests configure
// MockManager with function fields and inspect the recorded calls.
package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Manager handles external process operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple
// goroutines.
//
// # Context Handling
//
// Run respects context cancellation and deadline: when the context
// expires the in-flight process is killed. Start deliberately does not
// tie the child's lifetime to the context; a launched server outlives
// the deploy run.
type Manager interface {
	// Run executes a command synchronously and captures its output.
	//
	// # Inputs
	//
	//   - ctx: cancellation/deadline for the command; expiry kills it
	//   - env: extra KEY=VALUE entries appended to the inherited environment
	//   - name: the executable name or path
	//   - args: command arguments
	//
	// # Outputs
	//
	//   - stdout: captured standard output
	//   - stderr: captured standard error
	//   - error: non-nil if the command failed to start, exited non-zero,
	//     or was killed by context expiry. Both capture buffers are valid
	//     regardless of the error.
	Run(ctx context.Context, env []string, name string, args ...string) (stdout, stderr string, err error)

	// Start launches a detached process and returns its PID.
	//
	// The child inherits this process's environment plus env, and keeps
	// running after the caller exits. Output is not captured.
	Start(ctx context.Context, env []string, name string, args ...string) (int, error)
}

// DefaultManager implements Manager using os/exec. Use MockManager in
// tests instead.
type DefaultManager struct{}

// NewDefaultManager creates a Manager that executes real processes.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and captures its output.
func (m *DefaultManager) Run(ctx context.Context, env []string, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	// Installers spawn their own children (build backends, compilers).
	// Killing only the direct child leaves them holding the captured
	// pipes, and Run would block until they exit on their own. Put the
	// command in its own process group and signal the whole group on
	// cancellation; WaitDelay backstops anything that survives the kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	// Prefer the context error so callers can distinguish a deadline
	// kill from an ordinary non-zero exit.
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return stdout.String(), stderr.String(), err
}

// Start launches a detached process and returns its PID.
func (m *DefaultManager) Start(ctx context.Context, env []string, name string, args ...string) (int, error) {
	// Not exec.CommandContext: the child must survive this process.
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), env...)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", name, err)
	}
	// Reap the child in the background so it cannot become a zombie
	// while the deploy run is still alive.
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}

// MockManager is a test double for Manager.
//
// Configure it by setting the function fields before use. Calls are
// recorded for verification; a nil function field panics when the
// corresponding method is invoked.
type MockManager struct {
	RunFunc   func(ctx context.Context, env []string, name string, args ...string) (string, string, error)
	StartFunc func(ctx context.Context, env []string, name string, args ...string) (int, error)

	// Calls records all method invocations in order.
	Calls []Call

	mu sync.Mutex
}

// Call records a single method invocation.
type Call struct {
	Method string
	Name   string
	Args   []string
	Env    []string
}

// Run delegates to RunFunc and records the call.
func (m *MockManager) Run(ctx context.Context, env []string, name string, args ...string) (string, string, error) {
	m.record(Call{Method: "Run", Name: name, Args: args, Env: env})
	if m.RunFunc == nil {
		panic("MockManager.RunFunc not set")
	}
	return m.RunFunc(ctx, env, name, args...)
}

// Start delegates to StartFunc and records the call.
func (m *MockManager) Start(ctx context.Context, env []string, name string, args ...string) (int, error) {
	m.record(Call{Method: "Start", Name: name, Args: args, Env: env})
	if m.StartFunc == nil {
		panic("MockManager.StartFunc not set")
	}
	return m.StartFunc(ctx, env, name, args...)
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, c)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// Reset clears all recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
