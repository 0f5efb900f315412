package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Exit codes. The distinction between ExitInstallFailed and
// ExitNeverHealthy is load-bearing: the hosting platform treats "the
// build is broken" and "the build is fine but the service won't come
// up" differently.
const (
	ExitSuccess       = 0 // Installation complete and health gate passed
	ExitError         = 1 // Usage or internal error
	ExitInstallFailed = 2 // Installation failed even after the minimal fallback
	ExitLaunchFailed  = 3 // Dependencies installed but the server command could not start
	ExitNeverHealthy  = 4 // Server launched but never answered the health check
)

// CommandResult wraps JSON command output with metadata.
type CommandResult struct {
	APIVersion string      `json:"api_version"`
	Command    string      `json:"command"`
	Timestamp  time.Time   `json:"timestamp"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// OutputJSON writes structured data as indented JSON to stdout.
func OutputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// OutputError writes an error in the selected format.
func OutputError(jsonMode bool, command, msg string, err error) {
	if jsonMode {
		_ = OutputJSON(CommandResult{
			APIVersion: "1.0",
			Command:    command,
			Timestamp:  time.Now(),
			Success:    false,
			Error:      fmt.Sprintf("%s: %v", msg, err),
		})
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}

// ANSI colors for terminal output.
const (
	colorGreen = "\x1b[32m"
	colorRed   = "\x1b[31m"
	colorReset = "\x1b[0m"
)

// colorize wraps s in the given color when stdout is a terminal.
func colorize(s, color string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return s
	}
	return color + s + colorReset
}
