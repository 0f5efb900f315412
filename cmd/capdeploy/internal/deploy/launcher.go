package deploy

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/infra/process"
	"github.com/vi3318/cap-backend/pkg/logging"
)

// DefaultPort is used when neither the endpoint nor the hosting
// environment supplies one.
const DefaultPort = 8000

// Endpoint is the network binding handed to the launched server.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr renders the endpoint as host:port.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// HealthURL builds the liveness URL for the endpoint. Servers bound to
// the wildcard address are polled via loopback.
func (e Endpoint) HealthURL(path string) string {
	host := e.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	if path == "" {
		path = "/health"
	}
	return fmt.Sprintf("http://%s:%d%s", host, e.Port, path)
}

// ResolveEndpoint fills in the runtime pieces of an endpoint. A zero
// port is read from the PORT environment variable at launch time, the
// way the hosting platform supplies it; the planner never sees it.
func ResolveEndpoint(host string, port int) Endpoint {
	if host == "" {
		host = "0.0.0.0"
	}
	if port == 0 {
		if v := os.Getenv("PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil && p > 0 {
				port = p
			}
		}
	}
	if port == 0 {
		port = DefaultPort
	}
	return Endpoint{Host: host, Port: port}
}

// ProcessHandle identifies a launched server process. The launcher does
// not supervise or restart it; the process runs until stopped
// externally or it exits on its own.
type ProcessHandle struct {
	PID       int       `json:"pid"`
	Command   []string  `json:"command"`
	Endpoint  Endpoint  `json:"endpoint"`
	StartedAt time.Time `json:"started_at"`
}

// Launcher starts the target server bound to a runtime-supplied
// endpoint after installation succeeds.
type Launcher struct {
	proc process.Manager
	log  *logging.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(proc process.Manager, log *logging.Logger) *Launcher {
	if log == nil {
		log = logging.Default()
	}
	return &Launcher{proc: proc, log: log}
}

// Launch starts command bound to the endpoint, injecting HOST and PORT
// through the environment.
//
// A command that cannot start (missing binary, permission denied) is an
// ErrLaunch wrap, fatal for the attempt: retries at this layer belong
// to the outer deployment system, not here.
func (l *Launcher) Launch(ctx context.Context, command []string, ep Endpoint) (*ProcessHandle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrLaunch)
	}

	env := []string{
		fmt.Sprintf("HOST=%s", ep.Host),
		fmt.Sprintf("PORT=%d", ep.Port),
	}
	// Fresh slice: appending into command's backing array would mutate
	// the manifest's slice when it has spare capacity.
	args := make([]string, 0, len(command)+3)
	args = append(args, command[1:]...)
	args = append(args, "--host", ep.Host, "--port", strconv.Itoa(ep.Port))

	l.log.Info("launching server", "command", command[0], "addr", ep.Addr())
	pid, err := l.proc.Start(ctx, env, command[0], args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	l.log.Info("server started", "pid", pid, "addr", ep.Addr())
	return &ProcessHandle{
		PID:       pid,
		Command:   command,
		Endpoint:  ep,
		StartedAt: time.Now(),
	}, nil
}
