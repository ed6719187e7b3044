//go:build property
// +build property

package autopilot_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pretyflaco/openagents-sub005/pkg/autopilot"
)

// TestDecide_Totality verifies Decide never panics and always either
// returns a lane or the declared local_only error, for every mode and
// probe combination.
func TestDecide_Totality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	modes := []autopilot.Mode{autopilot.ModeLocalFirst, autopilot.ModeLocalOnly, autopilot.ModeRemoteOnly}

	properties.Property("Decide is total over declared modes and probe states", prop.ForAll(
		func(modeIdx int, available, healthy bool, reason string) bool {
			mode := modes[modeIdx%len(modes)]
			d, err := autopilot.Decide(mode, autopilot.LocalCodexProbe{Available: available, Healthy: healthy, Reason: reason})

			if mode == autopilot.ModeLocalOnly && !(available && healthy) {
				return err != nil && d.Lane == ""
			}
			if err != nil {
				return false
			}
			return d.Lane == autopilot.LaneLocalCodex || d.Lane == autopilot.LaneRemoteFallback
		},
		gen.IntRange(0, 2),
		gen.Bool(),
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
