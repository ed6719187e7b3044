package liquidity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/canon"
	"github.com/pretyflaco/openagents-sub005/pkg/liquidity"
)

func TestNostrMirror_PublishSendsEventFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
	}))
	defer server.Close()

	relayURL := "ws" + strings.TrimPrefix(server.URL, "http")

	signer, err := canon.NewEd25519Signer()
	require.NoError(t, err)

	mirror := liquidity.NewNostrMirror([]string{relayURL}, signer, nil)
	mirror.Publish(context.Background(), liquidity.InvoicePayReceipt{
		ReceiptID:           "lipr_abc",
		QuoteID:             "lqt_abc",
		Outcome:             "succeeded",
		CanonicalJSONSHA256: "deadbeef",
		CreatedAtMs:         1_700_000_000_000,
	})

	select {
	case msg := <-received:
		var frame []json.RawMessage
		require.NoError(t, json.Unmarshal(msg, &frame))
		require.Len(t, frame, 2)
		var label string
		require.NoError(t, json.Unmarshal(frame[0], &label))
		assert.Equal(t, "EVENT", label)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never received a publish")
	}
}

func TestNostrMirror_PublishWithNoRelaysIsNoOp(t *testing.T) {
	mirror := liquidity.NewNostrMirror(nil, nil, nil)
	mirror.Publish(context.Background(), liquidity.InvoicePayReceipt{QuoteID: "lqt_abc"})
}
