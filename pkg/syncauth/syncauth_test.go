package syncauth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/syncauth"
	"github.com/pretyflaco/openagents-sub005/pkg/syncclient"
)

func TestIssueAndVerify_RoundTrips(t *testing.T) {
	ks, err := syncauth.NewKeySet()
	require.NoError(t, err)
	tm := syncauth.NewTokenManager(ks)

	now := time.Now().UnixMilli()
	claims := syncclient.SyncSessionClaims{
		SessionID:      "sess-1",
		Scopes:         []string{"sync.read", "sync.write"},
		AllowedStreams: []string{"runtime.run.job-1.events"},
		IssuedAtMs:     now,
		NotBeforeMs:    now,
		ExpiresAtMs:    now + 3600_000,
	}

	token, err := tm.Issue(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decoded, err := tm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, claims.SessionID, decoded.SessionID)
	assert.ElementsMatch(t, claims.Scopes, decoded.Scopes)
	assert.ElementsMatch(t, claims.AllowedStreams, decoded.AllowedStreams)
}

func TestVerify_RejectsTokenFromDifferentKeySet(t *testing.T) {
	ks1, err := syncauth.NewKeySet()
	require.NoError(t, err)
	ks2, err := syncauth.NewKeySet()
	require.NoError(t, err)

	tm1 := syncauth.NewTokenManager(ks1)
	tm2 := syncauth.NewTokenManager(ks2)

	now := time.Now().UnixMilli()
	token, err := tm1.Issue(syncclient.SyncSessionClaims{SessionID: "sess-1", IssuedAtMs: now, ExpiresAtMs: now + 1000})
	require.NoError(t, err)

	_, err = tm2.Verify(token)
	require.Error(t, err)
}

func TestRotate_OldTokensStillVerify(t *testing.T) {
	ks, err := syncauth.NewKeySet()
	require.NoError(t, err)
	tm := syncauth.NewTokenManager(ks)

	now := time.Now().UnixMilli()
	token, err := tm.Issue(syncclient.SyncSessionClaims{SessionID: "sess-1", IssuedAtMs: now, ExpiresAtMs: now + 1000})
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())

	_, err = tm.Verify(token)
	require.NoError(t, err)
}
