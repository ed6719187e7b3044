package canon_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/canon"
)

func TestCanonical_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": 3}
	b := map[string]any{"c": 3, "a": 1, "b": 2}

	ca, err := canon.Canonical(a)
	require.NoError(t, err)
	cb, err := canon.Canonical(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(ca))
}

func TestCanonical_NoHTMLEscaping(t *testing.T) {
	v := map[string]any{"html": "<a href=\"x\">&</a>"}
	out, err := canon.Canonical(v)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<a href=")
	assert.NotContains(t, string(out), "\\u003c")
}

func TestCanonicalSHA256_Stable(t *testing.T) {
	v1 := map[string]any{"x": 1, "y": "hello"}
	v2 := map[string]any{"y": "hello", "x": 1}

	h1, err := canon.CanonicalSHA256(v1)
	require.NoError(t, err)
	h2, err := canon.CanonicalSHA256(v2)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestFingerprint_DiffersOnDifferentFields(t *testing.T) {
	f1, err := canon.Fingerprint(map[string]any{"a": 1})
	require.NoError(t, err)
	f2, err := canon.Fingerprint(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, f1, f2)
}

func TestEd25519Signer_SignAndVerify(t *testing.T) {
	signer, err := canon.NewEd25519Signer()
	require.NoError(t, err)

	digest, err := canon.CanonicalSHA256(map[string]any{"k": "v"})
	require.NoError(t, err)

	sig, err := signer.SignHexDigest(digest)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	assert.NotEmpty(t, signer.PublicKeyHex())
}

func TestSignReceiptSHA256_NilSignerReturnsEmpty(t *testing.T) {
	sig, err := canon.SignReceiptSHA256(nil, "deadbeef")
	require.NoError(t, err)
	assert.Empty(t, sig)
}
