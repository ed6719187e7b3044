package liquidity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/liquidity"
)

func TestWalletExecutorClient_PayBolt11_Success(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"preimage_sha256":       "pre",
			"wallet_receipt_sha256": "wre",
			"paid_at_ms":            42,
		})
	}))
	defer server.Close()

	client := liquidity.NewWalletExecutorClient(server.URL, "secret-token")
	resp, err := client.PayBolt11(context.Background(), liquidity.PayBolt11Request{RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "pre", resp.PreimageSHA256)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestWalletExecutorClient_PayBolt11_NonSuccessExtractsErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "no_route", "message": "could not route"},
		})
	}))
	defer server.Close()

	client := liquidity.NewWalletExecutorClient(server.URL, "")
	_, err := client.PayBolt11(context.Background(), liquidity.PayBolt11Request{})
	require.Error(t, err)
	walletErr, ok := err.(*liquidity.WalletExecutorError)
	require.True(t, ok)
	assert.Equal(t, "no_route", walletErr.Code)
}

func TestWalletExecutorClient_PayBolt11_TransportFailureSynthesizesError(t *testing.T) {
	client := liquidity.NewWalletExecutorClient("http://127.0.0.1:1", "")
	_, err := client.PayBolt11(context.Background(), liquidity.PayBolt11Request{})
	require.Error(t, err)
	walletErr, ok := err.(*liquidity.WalletExecutorError)
	require.True(t, ok)
	assert.Equal(t, "wallet_executor_transport_error", walletErr.Code)
}

func TestWalletExecutorClient_Status_Reachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := liquidity.NewWalletExecutorClient(server.URL, "")
	status := client.Status(context.Background())
	assert.True(t, status.Reachable)
}

func TestWalletExecutorClient_Configured(t *testing.T) {
	assert.False(t, liquidity.NewWalletExecutorClient("", "").Configured())
	assert.True(t, liquidity.NewWalletExecutorClient("http://localhost", "").Configured())
}
