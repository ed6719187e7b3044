package liquidity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pretyflaco/openagents-sub005/pkg/canon"
)

// nostrReceiptPointerKind is the Nostr event kind this mirror publishes:
// an application-defined, parameterized replaceable-style pointer at a
// liquidity receipt, not the payment details themselves.
const nostrReceiptPointerKind = 30079

// NostrMirror publishes a fire-and-forget "liquidity receipt pointer"
// event to a set of relays over raw Nostr websocket framing (["EVENT",
// event]), grounded on the teacher's outbox task shape (pkg/store/outbox_store.go)
// but adapted from a durable retry queue into a best-effort publish: a
// dropped relay write here costs a notification, never a payment.
type NostrMirror struct {
	relays  []string
	dial    func(url string) (*websocket.Conn, error)
	signer  nostrEventSigner
	timeout time.Duration
	logger  *slog.Logger
}

// nostrEventSigner signs the event id (a SHA-256 digest per NIP-01) and
// exposes the author pubkey used in the event envelope.
type nostrEventSigner interface {
	SignHexDigest(hexDigest string) (string, error)
	PublicKeyHex() string
}

// NewNostrMirror returns a mirror publishing to relays. A nil signer
// publishes unsigned events with an empty pubkey/sig, which most relays
// will reject — callers should configure a signer for a mirror that is
// actually expected to land events.
func NewNostrMirror(relays []string, signer nostrEventSigner, logger *slog.Logger) *NostrMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &NostrMirror{
		relays:  relays,
		signer:  signer,
		timeout: 5 * time.Second,
		dial: func(url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
		logger: logger,
	}
}

type nostrEvent struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Publish is the func(ctx, receipt) callback passed to
// liquidity.WithNostrMirror. It never returns an error to its caller;
// failures are logged and swallowed.
func (m *NostrMirror) Publish(ctx context.Context, receipt InvoicePayReceipt) {
	if len(m.relays) == 0 {
		return
	}

	event, err := m.buildEvent(receipt)
	if err != nil {
		m.logger.Warn("nostr mirror: build event failed", "error", err, "quote_id", receipt.QuoteID)
		return
	}

	frame, err := json.Marshal([]any{"EVENT", event})
	if err != nil {
		m.logger.Warn("nostr mirror: marshal frame failed", "error", err, "quote_id", receipt.QuoteID)
		return
	}

	for _, relay := range m.relays {
		if err := m.publishOne(ctx, relay, frame); err != nil {
			m.logger.Warn("nostr mirror: publish failed", "relay", relay, "error", err, "quote_id", receipt.QuoteID)
		}
	}
}

func (m *NostrMirror) publishOne(ctx context.Context, relay string, frame []byte) error {
	conn, err := m.dial(relay)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(m.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetWriteDeadline(deadline)

	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (m *NostrMirror) buildEvent(receipt InvoicePayReceipt) (nostrEvent, error) {
	content, err := json.Marshal(map[string]any{
		"receipt_id":            receipt.ReceiptID,
		"quote_id":              receipt.QuoteID,
		"outcome":               receipt.Outcome,
		"canonical_json_sha256": receipt.CanonicalJSONSHA256,
	})
	if err != nil {
		return nostrEvent{}, err
	}

	pubKey := ""
	if m.signer != nil {
		pubKey = m.signer.PublicKeyHex()
	}

	event := nostrEvent{
		PubKey:    pubKey,
		CreatedAt: receipt.CreatedAtMs / 1000,
		Kind:      nostrReceiptPointerKind,
		Tags:      [][]string{{"d", receipt.QuoteID}},
		Content:   string(content),
	}

	digest, err := nostrEventID(event)
	if err != nil {
		return nostrEvent{}, err
	}
	event.ID = digest

	if m.signer != nil {
		sig, err := m.signer.SignHexDigest(digest)
		if err != nil {
			return nostrEvent{}, err
		}
		event.Sig = sig
	}

	return event, nil
}

// nostrEventID computes the NIP-01 event id: the SHA-256 of the
// serialized [0, pubkey, created_at, kind, tags, content] array.
func nostrEventID(event nostrEvent) (string, error) {
	serialized, err := json.Marshal([]any{0, event.PubKey, event.CreatedAt, event.Kind, event.Tags, event.Content})
	if err != nil {
		return "", err
	}
	return canon.HashBytes(serialized), nil
}
