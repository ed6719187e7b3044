package credit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/credit"
)

func TestOfferFingerprint_StableAcrossCalls(t *testing.T) {
	fp1, err := credit.OfferFingerprint("agent-1", "pool-1", "tool", "scope-1", 1000, 50, true, 9999)
	require.NoError(t, err)
	fp2, err := credit.OfferFingerprint("agent-1", "pool-1", "tool", "scope-1", 1000, 50, true, 9999)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
}

func TestOfferFingerprint_ChangesWithMaxSats(t *testing.T) {
	fp1, err := credit.OfferFingerprint("agent-1", "pool-1", "tool", "scope-1", 1000, 50, true, 9999)
	require.NoError(t, err)
	fp2, err := credit.OfferFingerprint("agent-1", "pool-1", "tool", "scope-1", 2000, 50, true, 9999)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2)
}

func TestSettlementFingerprint_ChangesWithOutcome(t *testing.T) {
	fp1, err := credit.SettlementFingerprint("env-1", credit.SettlementSuccess, 100, 1, "verifyhash")
	require.NoError(t, err)
	fp2, err := credit.SettlementFingerprint("env-1", credit.SettlementFailed, 100, 1, "verifyhash")
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2)
}
