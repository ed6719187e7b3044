package liquidity

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// WalletExecutorClient talks to the external wallet executor's HTTP API.
// Generalizes the teacher's EnhancedClient (pkg/util/resiliency/client.go)
// from a generic retrying http.Client wrapper into a client scoped to the
// two wallet executor endpoints this service needs, threaded through
// context.Context instead of the teacher's bare time.Sleep retry loop.
type WalletExecutorClient struct {
	httpClient  *http.Client
	baseURL     string
	bearerToken string
	maxRetries  int
	breaker     *circuitBreaker
}

// NewWalletExecutorClient returns a client configured against baseURL. An
// empty baseURL means "not configured" — callers check Configured()
// before dialing out.
func NewWalletExecutorClient(baseURL, bearerToken string) *WalletExecutorClient {
	return &WalletExecutorClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		bearerToken: bearerToken,
		maxRetries:  3,
		breaker:     newCircuitBreaker(5, 10*time.Second),
	}
}

// Configured reports whether a wallet executor base URL was set.
func (c *WalletExecutorClient) Configured() bool {
	return c.baseURL != ""
}

// PayBolt11Request is the body posted to <base>/pay-bolt11.
type PayBolt11Request struct {
	RequestID string `json:"requestId"`
	Payment   struct {
		Invoice        string `json:"invoice"`
		MaxAmountMsats int64  `json:"maxAmountMsats"`
		Host           string `json:"host"`
	} `json:"payment"`
}

// PayBolt11Response is the successful response shape from pay-bolt11.
type PayBolt11Response struct {
	PreimageSHA256      string `json:"preimage_sha256"`
	WalletReceiptSHA256 string `json:"wallet_receipt_sha256"`
	PaidAtMs            int64  `json:"paid_at_ms"`
}

// WalletExecutorError carries the normalized (code, message) pair
// regardless of whether it came from the wallet executor's own error
// envelope or was synthesized from a transport failure.
type WalletExecutorError struct {
	Code    string
	Message string
}

func (e *WalletExecutorError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// PayBolt11 posts req to <base>/pay-bolt11 with bearer auth and returns
// the decoded success response, or a *WalletExecutorError on failure.
func (c *WalletExecutorClient) PayBolt11(ctx context.Context, req PayBolt11Request) (PayBolt11Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return PayBolt11Response{}, errs.Wrap(errs.KindInvalidRequest, err, "liquidity: marshal pay-bolt11 request")
	}

	var resp *http.Response
	resp, err = c.doWithRetry(ctx, http.MethodPost, "/pay-bolt11", body)
	if err != nil {
		return PayBolt11Response{}, &WalletExecutorError{Code: "wallet_executor_transport_error", Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return PayBolt11Response{}, &WalletExecutorError{Code: "wallet_executor_transport_error", Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errEnvelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal(respBody, &errEnvelope); jsonErr != nil || errEnvelope.Error.Code == "" {
			return PayBolt11Response{}, &WalletExecutorError{Code: "wallet_executor_http_error", Message: string(respBody)}
		}
		return PayBolt11Response{}, &WalletExecutorError{Code: errEnvelope.Error.Code, Message: errEnvelope.Error.Message}
	}

	var out PayBolt11Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return PayBolt11Response{}, &WalletExecutorError{Code: "wallet_executor_transport_error", Message: err.Error()}
	}
	return out, nil
}

// WalletStatus is the decoded /status response.
type WalletStatus struct {
	Reachable bool
	Raw       json.RawMessage
	ErrorCode string
	ErrorMsg  string
}

// Status checks <base>/status with a short timeout, never retrying.
func (c *WalletExecutorClient) Status(ctx context.Context) WalletStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return WalletStatus{ErrorCode: "wallet_executor_transport_error", ErrorMsg: err.Error()}
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return WalletStatus{ErrorCode: "wallet_executor_transport_error", ErrorMsg: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return WalletStatus{ErrorCode: "wallet_executor_transport_error", ErrorMsg: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return WalletStatus{ErrorCode: "wallet_executor_http_error", ErrorMsg: string(body)}
	}
	return WalletStatus{Reachable: true, Raw: body}
}

func (c *WalletExecutorClient) authorize(req *http.Request) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
}

func (c *WalletExecutorClient) doWithRetry(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("circuit breaker open for wallet executor")
	}

	var traceBytes [16]byte
	traceID := ""
	if _, err := rand.Read(traceBytes[:]); err == nil {
		traceID = hex.EncodeToString(traceBytes[:])
	}

	var resp *http.Response
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		httpReq, reqErr := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if traceID != "" {
			httpReq.Header.Set("traceparent", fmt.Sprintf("00-%s-0000000000000001-01", traceID))
		}
		c.authorize(httpReq)

		resp, err = c.httpClient.Do(httpReq)
		if err == nil && resp.StatusCode < 500 {
			c.breaker.Success()
			return resp, nil
		}

		if attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			c.breaker.Failure()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	c.breaker.Failure()
	if err != nil {
		return nil, err
	}
	return resp, fmt.Errorf("wallet executor returned status %d after %d attempts", resp.StatusCode, c.maxRetries+1)
}

// circuitBreaker is a minimal closed/open/half-open breaker, ported from
// the teacher's CircuitBreaker with the same three-state contract.
type circuitBreaker struct {
	mu           sync.Mutex
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	open         bool
	halfOpen     bool
}

func newCircuitBreaker(threshold int, resetTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetTimeout: resetTimeout}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.open {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.open = false
			cb.halfOpen = true
			return true
		}
		return false
	}
	return true
}

func (cb *circuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.halfOpen = false
	cb.failureCount = 0
}

func (cb *circuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.open = true
		cb.halfOpen = false
	}
}
