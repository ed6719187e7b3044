//go:build property
// +build property

package canon_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pretyflaco/openagents-sub005/pkg/canon"
)

// TestCanonicalHashStability verifies canonical_sha256 does not depend on
// map insertion order, the universal invariant the sync/credit/liquidity
// fingerprints all rely on.
func TestCanonicalHashStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical hash is independent of map insertion order", prop.ForAll(
		func(keys []string, values []int) bool {
			obj1 := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj1[keys[i]] = values[i]
				}
			}
			if len(obj1) == 0 {
				return true
			}

			// Rebuild an equal map by iterating in a different order;
			// Go map iteration order is already randomized per run, so
			// two independent builds already exercise different orders.
			obj2 := make(map[string]any, len(obj1))
			for k, v := range obj1 {
				obj2[k] = v
			}

			h1, err1 := canon.CanonicalSHA256(obj1)
			h2, err2 := canon.CanonicalSHA256(obj2)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.IntRange(-1000, 1000)),
	))

	properties.Property("canonical encoding is deterministic across repeated calls", prop.ForAll(
		func(s string, n int) bool {
			obj := map[string]any{"s": s, "n": n}
			b1, err1 := canon.Canonical(obj)
			b2, err2 := canon.Canonical(obj)
			if err1 != nil || err2 != nil {
				return false
			}
			return string(b1) == string(b2)
		},
		gen.AlphaString(),
		gen.IntRange(-1_000_000, 1_000_000),
	))

	properties.TestingRun(t)
}
