package liquidity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/liquidity"
	"github.com/pretyflaco/openagents-sub005/pkg/store/memliquidity"
)

const testInvoice = "lnbc2500u1p3hk..."

func quotePayReq() liquidity.QuotePayRequest {
	return liquidity.QuotePayRequest{
		Schema:         "openagents.liquidity.quote_pay_request.v1",
		IdempotencyKey: "idem-1",
		Invoice:        testInvoice,
		Host:           "relay.example.com",
		MaxAmountMsats: 1_000_000_000,
		MaxFeeMsats:    1_000_000,
	}
}

func TestQuotePay_ReplaysSameQuoteForSameIdempotencyKey(t *testing.T) {
	svc := liquidity.NewService(memliquidity.New(), liquidity.NewWalletExecutorClient("", ""))
	ctx := context.Background()

	first, err := svc.QuotePay(ctx, quotePayReq())
	require.NoError(t, err)

	second, err := svc.QuotePay(ctx, quotePayReq())
	require.NoError(t, err)
	assert.Equal(t, first.QuoteID, second.QuoteID)
}

func TestQuotePay_ConflictWhenSameKeyDifferentParams(t *testing.T) {
	svc := liquidity.NewService(memliquidity.New(), liquidity.NewWalletExecutorClient("", ""))
	ctx := context.Background()

	_, err := svc.QuotePay(ctx, quotePayReq())
	require.NoError(t, err)

	req := quotePayReq()
	req.MaxFeeMsats = 2_000_000
	_, err = svc.QuotePay(ctx, req)
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindConflict, kind)
}

func TestQuotePay_RejectsAmountExceedingMax(t *testing.T) {
	svc := liquidity.NewService(memliquidity.New(), liquidity.NewWalletExecutorClient("", ""))
	req := quotePayReq()
	req.MaxAmountMsats = 1000 // less than the 250_000_000 msat quoted amount
	_, err := svc.QuotePay(context.Background(), req)
	require.Error(t, err)
}

func TestPay_SucceedsAndReplaysWithoutRecallingWallet(t *testing.T) {
	var callCount int
	mux := http.NewServeMux()
	mux.HandleFunc("/pay-bolt11", func(w http.ResponseWriter, r *http.Request) {
		callCount++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"preimage_sha256":       "preimage-hash",
			"wallet_receipt_sha256": "wallet-receipt-hash",
			"paid_at_ms":            1234,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := liquidity.NewService(memliquidity.New(), liquidity.NewWalletExecutorClient(server.URL, "token"))
	ctx := context.Background()

	quote, err := svc.QuotePay(ctx, quotePayReq())
	require.NoError(t, err)

	payment, receipt, err := svc.Pay(ctx, liquidity.PayRequest{QuoteID: quote.QuoteID})
	require.NoError(t, err)
	assert.Equal(t, liquidity.PaymentSucceeded, payment.Status)
	assert.Equal(t, "succeeded", receipt.Outcome)
	assert.Equal(t, 1, callCount)

	// Second pay() call on the same quote must replay, not re-call the wallet.
	payment2, receipt2, err := svc.Pay(ctx, liquidity.PayRequest{QuoteID: quote.QuoteID})
	require.NoError(t, err)
	assert.Equal(t, receipt.CanonicalJSONSHA256, receipt2.CanonicalJSONSHA256)
	assert.Equal(t, payment.PreimageSHA256, payment2.PreimageSHA256)
	assert.Equal(t, 1, callCount, "wallet executor must not be called again on replay")
}

func TestPay_WalletErrorProducesFailedPaymentWithReceipt(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pay-bolt11", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "insufficient_liquidity", "message": "no route"},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := liquidity.NewService(memliquidity.New(), liquidity.NewWalletExecutorClient(server.URL, "token"))
	ctx := context.Background()

	quote, err := svc.QuotePay(ctx, quotePayReq())
	require.NoError(t, err)

	payment, receipt, err := svc.Pay(ctx, liquidity.PayRequest{QuoteID: quote.QuoteID})
	require.NoError(t, err)
	assert.Equal(t, liquidity.PaymentFailed, payment.Status)
	assert.Equal(t, "insufficient_liquidity", payment.ErrorCode)
	assert.Equal(t, "failed", receipt.Outcome)
}

func TestStatus_ReportsUnconfiguredWalletExecutor(t *testing.T) {
	svc := liquidity.NewService(memliquidity.New(), liquidity.NewWalletExecutorClient("", ""))
	report := svc.Status(context.Background())
	assert.False(t, report.WalletExecutorConfigured)
	assert.False(t, report.ReceiptSigningEnabled)
	assert.Equal(t, int64(300), report.QuoteTTLSeconds)
}
