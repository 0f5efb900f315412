package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/infra/process"
)

func TestResolveEndpoint(t *testing.T) {
	t.Run("explicit port wins", func(t *testing.T) {
		t.Setenv("PORT", "9999")
		ep := ResolveEndpoint("0.0.0.0", 8080)
		if ep.Port != 8080 {
			t.Errorf("explicit port overridden: got %d", ep.Port)
		}
	})

	t.Run("zero port reads PORT env", func(t *testing.T) {
		t.Setenv("PORT", "6123")
		ep := ResolveEndpoint("", 0)
		if ep.Port != 6123 {
			t.Errorf("got port %d, want 6123 from environment", ep.Port)
		}
		if ep.Host != "0.0.0.0" {
			t.Errorf("got host %q, want wildcard default", ep.Host)
		}
	})

	t.Run("falls back to default port", func(t *testing.T) {
		t.Setenv("PORT", "")
		ep := ResolveEndpoint("", 0)
		if ep.Port != DefaultPort {
			t.Errorf("got port %d, want %d", ep.Port, DefaultPort)
		}
	})

	t.Run("garbage PORT value is ignored", func(t *testing.T) {
		t.Setenv("PORT", "not-a-port")
		ep := ResolveEndpoint("", 0)
		if ep.Port != DefaultPort {
			t.Errorf("got port %d, want %d", ep.Port, DefaultPort)
		}
	})
}

func TestEndpoint_HealthURL(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		path string
		want string
	}{
		{"wildcard host polls loopback", Endpoint{Host: "0.0.0.0", Port: 8000}, "/health", "http://127.0.0.1:8000/health"},
		{"explicit host kept", Endpoint{Host: "10.0.0.5", Port: 8080}, "/livez", "http://10.0.0.5:8080/livez"},
		{"empty path defaults", Endpoint{Host: "127.0.0.1", Port: 9000}, "", "http://127.0.0.1:9000/health"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ep.HealthURL(tt.path); got != tt.want {
				t.Errorf("HealthURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLauncher_Launch(t *testing.T) {
	proc := &process.MockManager{
		StartFunc: func(ctx context.Context, env []string, name string, args ...string) (int, error) {
			return 4321, nil
		},
	}
	launcher := NewLauncher(proc, quietLogger())

	ep := Endpoint{Host: "0.0.0.0", Port: 6123}
	handle, err := launcher.Launch(context.Background(), []string{"uvicorn", "app.main:app"}, ep)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if handle.PID != 4321 {
		t.Errorf("got PID %d, want 4321", handle.PID)
	}
	if handle.Endpoint != ep {
		t.Errorf("handle endpoint = %+v, want %+v", handle.Endpoint, ep)
	}

	calls := proc.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected one start call, got %d", len(calls))
	}
	call := calls[0]
	if call.Name != "uvicorn" {
		t.Errorf("got command %q, want uvicorn", call.Name)
	}

	args := strings.Join(call.Args, " ")
	if !strings.Contains(args, "--port 6123") {
		t.Errorf("runtime port missing from args: %q", args)
	}
	env := strings.Join(call.Env, " ")
	if !strings.Contains(env, "PORT=6123") || !strings.Contains(env, "HOST=0.0.0.0") {
		t.Errorf("endpoint missing from environment: %q", env)
	}
}

func TestLauncher_DoesNotMutateCommandSlice(t *testing.T) {
	proc := &process.MockManager{
		StartFunc: func(ctx context.Context, env []string, name string, args ...string) (int, error) {
			return 1, nil
		},
	}
	launcher := NewLauncher(proc, quietLogger())

	// A subslice with spare capacity; appended args must not bleed into
	// the backing array.
	full := []string{"uvicorn", "app.main:app", "--reload"}
	command := full[:2]

	if _, err := launcher.Launch(context.Background(), command, Endpoint{Host: "0.0.0.0", Port: 8000}); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if full[2] != "--reload" {
		t.Errorf("caller's slice mutated: full[2] = %q", full[2])
	}
}

func TestLauncher_StartFailureIsErrLaunch(t *testing.T) {
	proc := &process.MockManager{
		StartFunc: func(ctx context.Context, env []string, name string, args ...string) (int, error) {
			return 0, fmt.Errorf("exec: %q: executable file not found in $PATH", name)
		},
	}
	launcher := NewLauncher(proc, quietLogger())

	handle, err := launcher.Launch(context.Background(), []string{"uvicorn", "app.main:app"}, Endpoint{Host: "0.0.0.0", Port: 8000})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}
	if handle != nil {
		t.Error("expected nil handle on launch failure")
	}
}

func TestLauncher_EmptyCommandRejected(t *testing.T) {
	launcher := NewLauncher(&process.MockManager{}, quietLogger())
	if _, err := launcher.Launch(context.Background(), nil, Endpoint{}); !errors.Is(err, ErrLaunch) {
		t.Fatalf("expected ErrLaunch for empty command, got %v", err)
	}
}
