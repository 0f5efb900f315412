// Package manifest defines the dependency manifest for a cap-backend
// deployment: which packages the service needs, which installation tier
// each belongs to, and how the server is launched once they are in place.
//
// The manifest is a yaml file checked in next to the service. Tiers are
// installed in a fixed priority order (core, then storage, then the
// optional heavy tier), and the tier assignment is the only ordering
// information the orchestrator uses.
package manifest

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSpec is returned when a dependency declaration is malformed.
// This is fatal: a bad manifest is never retried.
var ErrInvalidSpec = errors.New("invalid dependency spec")

// Tier is a priority group of dependencies installed together before the
// next group starts.
type Tier string

const (
	// TierCore holds the packages the server cannot start without.
	TierCore Tier = "core"

	// TierStorage holds database and cache client packages. Mandatory in
	// a full build, skipped entirely under the minimal profile.
	TierStorage Tier = "storage"

	// TierOptionalHeavy holds large packages (ML runtimes, model
	// downloads) whose failure must never sink a deployment.
	TierOptionalHeavy Tier = "optional-heavy"
)

// TierOrder is the fixed installation order. Later tiers may assume
// earlier ones already succeeded.
var TierOrder = []Tier{TierCore, TierStorage, TierOptionalHeavy}

// Valid reports whether t is a recognized tier.
func (t Tier) Valid() bool {
	switch t {
	case TierCore, TierStorage, TierOptionalHeavy:
		return true
	}
	return false
}

// Mandatory reports whether a failure in this tier halts the plan.
func (t Tier) Mandatory() bool {
	return t == TierCore || t == TierStorage
}

// DependencySpec declares a single package to install. Immutable once
// loaded.
type DependencySpec struct {
	// Name is the package identifier as the installer understands it.
	Name string `yaml:"name" validate:"required"`

	// Constraint is the version constraint passed through verbatim,
	// e.g. "==0.104.1" or ">=2.0,<3". Empty means latest.
	Constraint string `yaml:"constraint"`

	// Tier assigns the spec to an installation tier.
	Tier Tier `yaml:"tier" validate:"required,oneof=core storage optional-heavy"`

	// Cost is the relative install weight used to size the tier's time
	// budget. A small pure-python wheel is 1; a multi-GB ML runtime is
	// 20 or more.
	Cost int `yaml:"cost" validate:"gte=0"`
}

// Requirement renders the spec as a single installer argument.
func (s DependencySpec) Requirement() string {
	return s.Name + s.Constraint
}

// LaunchSpec describes how the server process is started and probed.
type LaunchSpec struct {
	// Command is the server command line. The bind port is appended via
	// environment at launch time, never stored here.
	Command []string `yaml:"command" validate:"required,min=1"`

	// HealthPath is the liveness endpoint path, e.g. "/health".
	HealthPath string `yaml:"health_path"`

	// Host is the bind address. Defaults to 0.0.0.0.
	Host string `yaml:"host"`

	// RequiresHeavy marks that the server imports packages from the
	// optional-heavy tier at startup, so a background install of that
	// tier must be joined before launch.
	RequiresHeavy bool `yaml:"requires_heavy"`
}

// Manifest is the full dependency declaration for one deployment.
type Manifest struct {
	Dependencies []DependencySpec `yaml:"dependencies" validate:"required,min=1,dive"`
	Launch       LaunchSpec       `yaml:"launch"`
}

// ByTier returns the specs assigned to the given tier, in declaration
// order.
func (m *Manifest) ByTier(tier Tier) []DependencySpec {
	var out []DependencySpec
	for _, spec := range m.Dependencies {
		if spec.Tier == tier {
			out = append(out, spec)
		}
	}
	return out
}

// Tiers returns the tiers that have at least one spec, in fixed tier
// order.
func (m *Manifest) Tiers() []Tier {
	var out []Tier
	for _, tier := range TierOrder {
		if len(m.ByTier(tier)) > 0 {
			out = append(out, tier)
		}
	}
	return out
}

// Load reads and validates a manifest file.
//
// Malformed specs surface immediately as ErrInvalidSpec wraps; there is
// no partial load.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every spec and the launch section.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", ErrInvalidSpec, f.Namespace(), f.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	// The oneof tag already rejects unknown tiers that came from yaml,
	// but specs built in code can hold arbitrary strings.
	for _, spec := range m.Dependencies {
		if !spec.Tier.Valid() {
			return fmt.Errorf("%w: %s has unrecognized tier %q", ErrInvalidSpec, spec.Name, spec.Tier)
		}
	}
	return nil
}

var validate = validator.New()

// Default returns the manifest for the cap-backend service itself:
// the API stack as core, persistence clients as storage, and the ML
// stack as the optional heavy tier.
func Default() *Manifest {
	return &Manifest{
		Dependencies: []DependencySpec{
			{Name: "fastapi", Constraint: "==0.104.1", Tier: TierCore, Cost: 1},
			{Name: "uvicorn[standard]", Constraint: "==0.24.0", Tier: TierCore, Cost: 2},
			{Name: "pydantic", Constraint: "==2.5.0", Tier: TierCore, Cost: 1},
			{Name: "pydantic-settings", Constraint: "==2.1.0", Tier: TierCore, Cost: 1},
			{Name: "python-multipart", Constraint: "==0.0.6", Tier: TierCore, Cost: 1},
			{Name: "sqlalchemy", Constraint: "==2.0.23", Tier: TierStorage, Cost: 2},
			{Name: "redis", Constraint: "==5.0.1", Tier: TierStorage, Cost: 1},
			{Name: "torch", Constraint: "==2.1.1", Tier: TierOptionalHeavy, Cost: 25},
			{Name: "transformers", Constraint: "==4.35.2", Tier: TierOptionalHeavy, Cost: 10},
			{Name: "sentence-transformers", Constraint: "==2.2.2", Tier: TierOptionalHeavy, Cost: 8},
		},
		Launch: LaunchSpec{
			Command:    []string{"uvicorn", "app.main:app"},
			HealthPath: "/health",
			Host:       "0.0.0.0",
		},
	}
}
