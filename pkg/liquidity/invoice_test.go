package liquidity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/liquidity"
)

func TestParseInvoiceAmountMsats_MilliSats(t *testing.T) {
	amount, ok, err := liquidity.ParseInvoiceAmountMsats("lnbc2500u1p3hk...")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(250_000_000), amount)
}

func TestParseInvoiceAmountMsats_WholeBTC(t *testing.T) {
	amount, ok, err := liquidity.ParseInvoiceAmountMsats("lnbc11p3hk...")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100_000_000_000), amount)
}

func TestParseInvoiceAmountMsats_Amountless(t *testing.T) {
	_, ok, err := liquidity.ParseInvoiceAmountMsats("lnbc1p3hk...")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseInvoiceAmountMsats_RejectsNonBolt11(t *testing.T) {
	_, _, err := liquidity.ParseInvoiceAmountMsats("not-an-invoice")
	require.Error(t, err)
}

func TestParseInvoiceAmountMsats_RejectsUnknownMultiplier(t *testing.T) {
	_, _, err := liquidity.ParseInvoiceAmountMsats("lnbc25x1p3hk...")
	require.Error(t, err)
}
