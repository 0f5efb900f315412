package deploy

import (
	"fmt"

	"github.com/vi3318/cap-backend/cmd/capdeploy/internal/manifest"
)

// Plan derives the ordered tier sequence for one attempt.
//
// A full profile includes every tier that has at least one spec, in
// fixed order core -> storage -> optional-heavy. A minimal profile
// includes only the core tier. Pure function: no side effects, same
// plan for the same inputs.
//
// Returns a manifest.ErrInvalidSpec wrap when a spec has an empty name
// or an unrecognized tier.
func Plan(specs []manifest.DependencySpec, profile BuildProfile) (InstallPlan, error) {
	present := make(map[manifest.Tier]bool, len(manifest.TierOrder))
	for _, spec := range specs {
		if spec.Name == "" {
			return InstallPlan{}, fmt.Errorf("%w: spec with empty name", manifest.ErrInvalidSpec)
		}
		if !spec.Tier.Valid() {
			return InstallPlan{}, fmt.Errorf("%w: %s has unrecognized tier %q", manifest.ErrInvalidSpec, spec.Name, spec.Tier)
		}
		present[spec.Tier] = true
	}

	plan := InstallPlan{Profile: profile}
	for _, tier := range manifest.TierOrder {
		if !present[tier] {
			continue
		}
		if profile == ProfileMinimal && tier != manifest.TierCore {
			continue
		}
		plan.Tiers = append(plan.Tiers, tier)
	}
	return plan, nil
}
