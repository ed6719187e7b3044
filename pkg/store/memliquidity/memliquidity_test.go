package memliquidity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/liquidity"
	"github.com/pretyflaco/openagents-sub005/pkg/store/memliquidity"
)

func TestCreateOrGetQuote_ReplayVsConflict(t *testing.T) {
	store := memliquidity.New()
	ctx := context.Background()

	quote := liquidity.Quote{QuoteID: "lqt-1", Invoice: "lnbc1..."}
	first, err := store.CreateOrGetQuote(ctx, quote, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "fp-1", first.RequestFingerprintSHA256)

	replay, err := store.CreateOrGetQuote(ctx, quote, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, first, replay)

	_, err = store.CreateOrGetQuote(ctx, quote, "fp-2")
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindConflict, kind)
}

func TestCreateOrGetPaymentInFlight_OnlyOneCreatesPerQuote(t *testing.T) {
	store := memliquidity.New()
	ctx := context.Background()

	first, created, err := store.CreateOrGetPaymentInFlight(ctx, "lqt-1", "fp-1", "", "", "wr-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, liquidity.PaymentInFlight, first.Status)

	second, created, err := store.CreateOrGetPaymentInFlight(ctx, "lqt-1", "fp-1", "", "", "wr-2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "wr-1", second.WalletRequestID)
}

func TestFinalizePayment_NoOpOnMatchingDigestConflictOnMismatch(t *testing.T) {
	store := memliquidity.New()
	ctx := context.Background()

	_, _, err := store.CreateOrGetPaymentInFlight(ctx, "lqt-1", "fp-1", "", "", "wr-1")
	require.NoError(t, err)

	payment := liquidity.Payment{QuoteID: "lqt-1", Status: liquidity.PaymentSucceeded}
	receipt := liquidity.InvoicePayReceipt{QuoteID: "lqt-1", Schema: "v1", CanonicalJSONSHA256: "digest-a"}
	require.NoError(t, store.FinalizePayment(ctx, payment, receipt))
	require.NoError(t, store.FinalizePayment(ctx, payment, receipt))

	receipt.CanonicalJSONSHA256 = "digest-b"
	err = store.FinalizePayment(ctx, payment, receipt)
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindConflict, kind)

	fetched, err := store.GetReceipt(ctx, "lqt-1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "digest-a", fetched.CanonicalJSONSHA256)
}
