package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/vi3318/cap-backend/cmd/capdeploy/config"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	profileFlag  string
	manifestFlag string
	jsonOutput   bool
	dryRun       bool
	portFlag     int
	noBackground bool
	healthURL    string
	waitHealthy  bool

	rootCmd = &cobra.Command{
		Use:   "capdeploy",
		Short: "Tiered build-and-deploy orchestrator for the cap backend",
		Long: `capdeploy installs the backend's dependencies in priority tiers,
falls back to a minimal build when a mandatory tier fails, launches the
server on the platform-assigned port, and reports success only after the
health endpoint answers.`,
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.Load(); err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
		},
	}

	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Install dependencies, launch the server, and gate on health",
		Run:   runDeploy, // Defined in cmd_deploy.go
	}

	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Show the install plan for a profile without executing it",
		Run:   runPlan, // Defined in cmd_plan.go
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check the liveness endpoint of a running instance",
		Run:   runHealth, // Defined in cmd_health.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&manifestFlag, "manifest", "m", "", "Path to the dependency manifest (defaults to the configured path)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON output")

	deployCmd.Flags().StringVarP(&profileFlag, "profile", "p", "full", "Build profile: full or minimal")
	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan and exit without installing anything")
	deployCmd.Flags().IntVar(&portFlag, "port", 0, "Bind port (0 reads $PORT at launch, then falls back to 8000)")
	deployCmd.Flags().BoolVar(&noBackground, "no-background", false, "Install the optional heavy tier sequentially instead of in the background")
	rootCmd.AddCommand(deployCmd)

	planCmd.Flags().StringVarP(&profileFlag, "profile", "p", "full", "Build profile: full or minimal")
	rootCmd.AddCommand(planCmd)

	healthCmd.Flags().StringVar(&healthURL, "url", "", "Liveness URL (defaults to the manifest health path on the local port)")
	healthCmd.Flags().BoolVar(&waitHealthy, "wait", false, "Poll until healthy or the configured deadline expires")
	healthCmd.Flags().IntVar(&portFlag, "port", 0, "Port of the running instance (0 reads $PORT)")
	rootCmd.AddCommand(healthCmd)
}
