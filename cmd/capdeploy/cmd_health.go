package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vi3318/cap-backend/cmd/capdeploy/config"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/deploy"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/health"
	"github.com/vi3318/cap-backend/pkg/logging"
)

func runHealth(cmd *cobra.Command, args []string) {
	cfg := config.Global
	logger := logging.Default()

	url := healthURL
	if url == "" {
		m, err := loadManifest(cfg)
		if err != nil {
			OutputError(jsonOutput, "health", "no --url given and manifest unavailable", err)
			os.Exit(ExitError)
		}
		endpoint := deploy.ResolveEndpoint(m.Launch.Host, portFlag)
		url = endpoint.HealthURL(m.Launch.HealthPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate := health.NewGate(nil, logger)

	if waitHealthy {
		result, err := gate.Wait(ctx, url, health.Options{
			Interval: cfg.Health.Interval(),
			Deadline: cfg.Health.Deadline(),
		})
		if jsonOutput {
			_ = OutputJSON(result)
		} else if err == nil {
			fmt.Printf("%s is %s after %d poll(s)\n", url, colorize(string(result.State), colorGreen), result.Polls)
		} else {
			fmt.Printf("%s is %s: %v\n", url, colorize(string(result.State), colorRed), err)
		}
		if err != nil {
			os.Exit(ExitNeverHealthy)
		}
		return
	}

	ok, reason := gate.Check(ctx, url)
	if jsonOutput {
		_ = OutputJSON(map[string]any{"url": url, "healthy": ok, "reason": reason})
	} else if ok {
		fmt.Printf("%s is %s\n", url, colorize("healthy", colorGreen))
	} else {
		fmt.Printf("%s is %s: %s\n", url, colorize("unhealthy", colorRed), reason)
	}
	if !ok {
		os.Exit(ExitNeverHealthy)
	}
}
