package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capdeploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "pip", cfg.Installer.Bin)
	assert.Equal(t, 30*time.Second, cfg.Installer.BudgetFloor())
	assert.Equal(t, 20*time.Second, cfg.Installer.BudgetPerCost())
	assert.Equal(t, 10*time.Minute, cfg.Installer.BudgetCap())
	assert.Equal(t, 3*time.Second, cfg.Health.Interval())
	assert.Equal(t, 2*time.Minute, cfg.Health.Deadline())
}

func TestLoadFile_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
installer:
  bin: pip3
  budget_cap_seconds: 900
health:
  deadline_seconds: 60
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// Overridden fields.
	assert.Equal(t, "pip3", cfg.Installer.Bin)
	assert.Equal(t, 15*time.Minute, cfg.Installer.BudgetCap())
	assert.Equal(t, time.Minute, cfg.Health.Deadline())

	// Untouched fields keep their defaults.
	assert.Equal(t, 30, cfg.Installer.BudgetFloorSeconds)
	assert.Equal(t, 3, cfg.Health.IntervalSeconds)
	assert.Equal(t, "capdeploy.yaml", cfg.ManifestPath)
}

func TestLoadFile_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero budget floor", "installer:\n  budget_floor_seconds: 0\n"},
		{"negative deadline", "health:\n  deadline_seconds: -5\n"},
		{"empty installer bin", "installer:\n  bin: \"\"\n"},
		{"empty manifest path", "manifest_path: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_MalformedYAML(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "installer: [not a map"))
	assert.Error(t, err)
}

func TestDefaultConfig_RoundTripsThroughYAML(t *testing.T) {
	data, err := yaml.Marshal(DefaultConfig())
	require.NoError(t, err)

	cfg, err := LoadFile(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}
