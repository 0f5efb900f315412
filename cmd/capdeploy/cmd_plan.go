package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vi3318/cap-backend/cmd/capdeploy/config"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/deploy"
	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/manifest"
)

func runPlan(cmd *cobra.Command, args []string) {
	m, err := loadManifest(config.Global)
	if err != nil {
		OutputError(jsonOutput, "plan", "failed to load manifest", err)
		os.Exit(ExitError)
	}

	profile, err := deploy.ParseProfile(profileFlag)
	if err != nil {
		OutputError(jsonOutput, "plan", "invalid profile", err)
		os.Exit(ExitError)
	}

	plan, err := deploy.Plan(m.Dependencies, profile)
	if err != nil {
		OutputError(jsonOutput, "plan", "planning failed", err)
		os.Exit(ExitError)
	}

	if jsonOutput {
		_ = OutputJSON(plan)
		return
	}
	printPlan(m, plan)
}

func printPlan(m *manifest.Manifest, plan deploy.InstallPlan) {
	fmt.Printf("Install plan (%s profile):\n", plan.Profile)
	for i, tier := range plan.Tiers {
		specs := m.ByTier(tier)
		mandatory := "mandatory"
		if !tier.Mandatory() {
			mandatory = "optional"
		}
		fmt.Printf("  %d. %s (%s, %d package(s))\n", i+1, tier, mandatory, len(specs))
		for _, spec := range specs {
			fmt.Printf("       - %s (cost %d)\n", spec.Requirement(), spec.Cost)
		}
	}
	if len(plan.Tiers) == 0 {
		fmt.Println("  (empty: no declared dependencies match the profile)")
	}
}
