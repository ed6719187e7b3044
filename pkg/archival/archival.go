// Package archival supplements SyncEvent retention trimming with an
// optional cold-storage mirror: before a trim advances a stream's
// oldest retained seq, the batch of events about to be discarded can be
// mirrored to S3 or GCS. Mirroring is fire-and-forget, the same as the
// liquidity service's Nostr receipt mirror: a failure is logged, never
// propagated back to the trim caller.
package archival

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

// Sink persists a trimmed batch of events and reports whether a batch
// with the same key was already mirrored, so repeated trims of an
// already-archived range are cheap no-ops.
type Sink interface {
	PutBatch(ctx context.Context, key string, data []byte) error
	HasBatch(ctx context.Context, key string) (bool, error)
}

// Batch is the unit mirrored per trim: every event a TrimRetention call
// is about to discard from a single stream.
type Batch struct {
	StreamID     string               `json:"stream_id"`
	FromSeq      uint64               `json:"from_seq"`
	ToSeq        uint64               `json:"to_seq"`
	Events       []syncstore.SyncEvent `json:"events"`
	ArchivedAtMs int64                `json:"archived_at_ms"`
}

// Key returns the batch's content-addressed sink key: the stream, its
// seq range, and a SHA-256 of its serialized events, so a re-submitted
// batch with identical contents collapses onto the same object.
func (b Batch) Key() (string, error) {
	encoded, err := json.Marshal(b.Events)
	if err != nil {
		return "", fmt.Errorf("archival: marshal batch events: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return fmt.Sprintf("%s/%020d-%020d-%s.json", b.StreamID, b.FromSeq, b.ToSeq, hex.EncodeToString(sum[:8])), nil
}

// Mirror wraps a Sink with the fire-and-forget publish discipline used
// for retention archival.
type Mirror struct {
	sink   Sink
	logger *slog.Logger
}

// NewMirror builds a Mirror. A nil sink makes MirrorTrim a no-op, for
// deployments that never enable cold-storage archival.
func NewMirror(sink Sink, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{sink: sink, logger: logger}
}

// MirrorTrim archives batch in the background and returns immediately.
// The caller's TrimRetention call must not wait on this.
func (m *Mirror) MirrorTrim(ctx context.Context, batch Batch) {
	if m == nil || m.sink == nil || len(batch.Events) == 0 {
		return
	}
	go m.mirror(context.WithoutCancel(ctx), batch)
}

func (m *Mirror) mirror(ctx context.Context, batch Batch) {
	key, err := batch.Key()
	if err != nil {
		m.logger.Warn("archival: failed to key batch", "stream_id", batch.StreamID, "error", err)
		return
	}

	exists, err := m.sink.HasBatch(ctx, key)
	if err != nil {
		m.logger.Warn("archival: HasBatch check failed", "stream_id", batch.StreamID, "key", key, "error", err)
	} else if exists {
		return
	}

	encoded, err := json.Marshal(batch)
	if err != nil {
		m.logger.Warn("archival: failed to marshal batch", "stream_id", batch.StreamID, "error", err)
		return
	}

	if err := m.sink.PutBatch(ctx, key, encoded); err != nil {
		m.logger.Warn("archival: mirror failed", "stream_id", batch.StreamID, "key", key, "error", err)
		return
	}
	m.logger.Info("archival: mirrored trimmed batch", "stream_id", batch.StreamID, "key", key, "event_count", len(batch.Events))
}
