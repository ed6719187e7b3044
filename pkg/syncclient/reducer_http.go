package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// ReducerHTTPClient is the network fallback for append_sync_event when no
// local reducer store is wired: a positional-args RPC call over HTTP,
// classified into the transport failure taxonomy by status code.
type ReducerHTTPClient struct {
	httpClient *http.Client
	baseURL    string
	database   string
}

func NewReducerHTTPClient(httpClient *http.Client, baseURL, database string) *ReducerHTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ReducerHTTPClient{httpClient: httpClient, baseURL: baseURL, database: database}
}

// AppendSyncEvent calls POST /v1/database/<db>/call/append_sync_event with
// the positional argument array the remote reducer expects.
func (c *ReducerHTTPClient) AppendSyncEvent(ctx context.Context, streamID, idempotencyKey, payloadHash string, payloadJSON json.RawMessage, committedAtMs, durableOffset int64, confirmedRead bool, expectedNextSeq uint64) (uint64, error) {
	args := []any{streamID, idempotencyKey, payloadHash, payloadJSON, committedAtMs, durableOffset, confirmedRead, expectedNextSeq}

	body, err := json.Marshal(args)
	if err != nil {
		return 0, errs.Wrap(errs.KindInvalidRequest, err, "syncclient: marshal args")
	}

	url := fmt.Sprintf("%s/v1/database/%s/call/append_sync_event", c.baseURL, c.database)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, errs.Wrap(errs.KindInvalidRequest, err, "syncclient: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.KindNetwork, err, "syncclient: reducer call failed")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, errs.Wrap(errs.KindNetwork, err, "syncclient: read response")
	}

	if kind := classifyStatus(resp.StatusCode); kind != "" {
		return 0, errs.Newf(kind, "syncclient: reducer call failed with status %d", resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": string(respBody)})
	}

	seq, ok := extractSeq(respBody)
	if !ok {
		return 0, errs.New(errs.KindUnknown, "syncclient: could not extract seq from response")
	}
	return seq, nil
}

// classifyStatus maps an HTTP status to the wire failure taxonomy.
// Returns "" for 2xx (success, no error).
func classifyStatus(status int) errs.Kind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == 401 || status == 403:
		return errs.KindAuth
	case status == 429:
		return errs.KindRateLimited
	case status == 400 || status == 404 || status == 409 || status == 422:
		return errs.KindInvalidRequest
	case status >= 500:
		return errs.KindNetwork
	default:
		return errs.KindUnknown
	}
}

// extractSeq tries the four accepted response shapes for the assigned seq:
// {data:{result:<u64>}}, {result:<u64>}, {seq:<u64>}, {data:{seq:<u64>}}.
func extractSeq(body []byte) (uint64, bool) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return 0, false
	}

	if v, ok := tryUint(generic["seq"]); ok {
		return v, true
	}
	if v, ok := tryUint(generic["result"]); ok {
		return v, true
	}
	if dataRaw, ok := generic["data"]; ok {
		var data map[string]json.RawMessage
		if err := json.Unmarshal(dataRaw, &data); err == nil {
			if v, ok := tryUint(data["result"]); ok {
				return v, true
			}
			if v, ok := tryUint(data["seq"]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func tryUint(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
