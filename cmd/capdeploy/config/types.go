package config

import (
	"time"
)

// Config is the operator-tunable configuration for capdeploy, read
// from ~/.capdeploy/capdeploy.yaml.
//
// The numeric timeout and budget values are deliberately configuration
// rather than constants: the right numbers depend on the build
// environment's network and should be tuned empirically.
type Config struct {
	// ManifestPath is the default dependency manifest location,
	// relative to the working directory unless absolute.
	ManifestPath string `yaml:"manifest_path" validate:"required"`

	Installer InstallerConfig `yaml:"installer"`
	Health    HealthConfig    `yaml:"health"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstallerConfig tunes the staged installer.
type InstallerConfig struct {
	// Bin is the package installer executable.
	Bin string `yaml:"bin" validate:"required"`

	// ExtraArgs are passed to every install invocation.
	ExtraArgs []string `yaml:"extra_args"`

	// BudgetFloorSeconds is the minimum per-tier time budget.
	BudgetFloorSeconds int `yaml:"budget_floor_seconds" validate:"gt=0"`

	// BudgetPerCostSeconds is the allowance per unit of estimated
	// install cost.
	BudgetPerCostSeconds int `yaml:"budget_per_cost_seconds" validate:"gt=0"`

	// BudgetCapSeconds is the hard ceiling for a single tier.
	BudgetCapSeconds int `yaml:"budget_cap_seconds" validate:"gt=0"`
}

// BudgetFloor returns the floor as a duration.
func (c InstallerConfig) BudgetFloor() time.Duration {
	return time.Duration(c.BudgetFloorSeconds) * time.Second
}

// BudgetPerCost returns the per-cost allowance as a duration.
func (c InstallerConfig) BudgetPerCost() time.Duration {
	return time.Duration(c.BudgetPerCostSeconds) * time.Second
}

// BudgetCap returns the ceiling as a duration.
func (c InstallerConfig) BudgetCap() time.Duration {
	return time.Duration(c.BudgetCapSeconds) * time.Second
}

// HealthConfig tunes the health gate.
type HealthConfig struct {
	// IntervalSeconds is the fixed delay between polls.
	IntervalSeconds int `yaml:"interval_seconds" validate:"gt=0"`

	// DeadlineSeconds is the total ceiling from the first poll.
	DeadlineSeconds int `yaml:"deadline_seconds" validate:"gt=0"`
}

// Interval returns the poll interval as a duration.
func (c HealthConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Deadline returns the poll deadline as a duration.
func (c HealthConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSeconds) * time.Second
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Dir enables JSON file logging when set.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		ManifestPath: "capdeploy.yaml",
		Installer: InstallerConfig{
			Bin:                  "pip",
			ExtraArgs:            []string{"--no-cache-dir"},
			BudgetFloorSeconds:   30,
			BudgetPerCostSeconds: 20,
			BudgetCapSeconds:     600,
		},
		Health: HealthConfig{
			IntervalSeconds: 3,
			DeadlineSeconds: 120,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
