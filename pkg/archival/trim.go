package archival

import (
	"context"
	"fmt"

	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

// TrimWithMirror reads the events a TrimRetention(streamID, keepFromSeq)
// call is about to discard, hands them to mirror in the background, and
// then performs the trim. Mirroring never blocks or gates the trim: if
// reading the pre-trim events fails, the trim still proceeds, since
// archival is a best-effort supplement to retention, not a precondition
// for it. The mirrored batch is every event with seq < keepFromSeq; when a
// checkpoint makes the store trim less than that, the batch also holds
// events the trim keeps.
func TrimWithMirror(ctx context.Context, store syncstore.Store, mirror *Mirror, streamID string, keepFromSeq uint64, nowMs int64) error {
	if mirror != nil {
		if batch, err := discardedBatch(ctx, store, streamID, keepFromSeq, nowMs); err == nil {
			mirror.MirrorTrim(ctx, batch)
		}
	}
	if err := store.TrimRetention(ctx, streamID, keepFromSeq); err != nil {
		return fmt.Errorf("archival: trim retention for %s: %w", streamID, err)
	}
	return nil
}

func discardedBatch(ctx context.Context, store syncstore.Store, streamID string, keepFromSeq uint64, nowMs int64) (Batch, error) {
	events, err := store.StreamEvents(ctx, streamID)
	if err != nil {
		return Batch{}, fmt.Errorf("archival: read stream events for %s: %w", streamID, err)
	}

	var discarded []syncstore.SyncEvent
	for _, ev := range events {
		if ev.Seq < keepFromSeq {
			discarded = append(discarded, ev)
		}
	}
	if len(discarded) == 0 {
		return Batch{StreamID: streamID}, nil
	}

	return Batch{
		StreamID:     streamID,
		FromSeq:      discarded[0].Seq,
		ToSeq:        discarded[len(discarded)-1].Seq,
		Events:       discarded,
		ArchivedAtMs: nowMs,
	}, nil
}
