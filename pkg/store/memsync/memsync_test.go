package memsync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/store/memsync"
	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

func TestAppend_AssignsDenseMonotonicSeqs(t *testing.T) {
	ctx := context.Background()
	store := memsync.New()

	for i := 1; i <= 4; i++ {
		out, err := store.Append(ctx, syncstore.AppendRequest{
			StreamID:       "runtime.run.ordering.events",
			IdempotencyKey: "key-" + string(rune('0'+i)),
			PayloadHash:    "hash-" + string(rune('0'+i)),
			PayloadBytes:   []byte("payload"),
			ConfirmedRead:  true,
		})
		require.NoError(t, err)
		assert.False(t, out.Duplicate)
		assert.Equal(t, uint64(i), out.Event.Seq)
	}

	head, err := store.HeadSeq(ctx, "runtime.run.ordering.events")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), head)
}

func TestAppend_DuplicateIdempotencyKeyReturnsExisting(t *testing.T) {
	ctx := context.Background()
	store := memsync.New()

	req := syncstore.AppendRequest{
		StreamID:       "s1",
		IdempotencyKey: "k1",
		PayloadHash:    "h1",
		PayloadBytes:   []byte("p"),
	}
	first, err := store.Append(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := store.Append(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.Seq, second.Event.Seq)

	head, err := store.HeadSeq(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head)
}

func TestAppend_IdempotencyConflictOnHashMismatch(t *testing.T) {
	ctx := context.Background()
	store := memsync.New()

	_, err := store.Append(ctx, syncstore.AppendRequest{
		StreamID: "s1", IdempotencyKey: "k1", PayloadHash: "h1", PayloadBytes: []byte("p"),
	})
	require.NoError(t, err)

	_, err = store.Append(ctx, syncstore.AppendRequest{
		StreamID: "s1", IdempotencyKey: "k1", PayloadHash: "h2", PayloadBytes: []byte("q"),
	})
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindIdempotencyConflict, kind)
}

func TestAppend_SequenceConflictOnExpectedMismatch(t *testing.T) {
	ctx := context.Background()
	store := memsync.New()

	wrong := uint64(5)
	_, err := store.Append(ctx, syncstore.AppendRequest{
		StreamID: "s1", IdempotencyKey: "k1", PayloadHash: "h1", PayloadBytes: []byte("p"),
		ExpectedNextSeq: &wrong,
	})
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindSequenceConflict, kind)
}

func TestDeliverableStreamEvents_FiltersByAfterSeqAndDurableFloor(t *testing.T) {
	ctx := context.Background()
	store := memsync.New()

	for i := 1; i <= 3; i++ {
		confirmed := i != 3
		_, err := store.Append(ctx, syncstore.AppendRequest{
			StreamID:       "s1",
			IdempotencyKey: "k" + string(rune('0'+i)),
			PayloadHash:    "h" + string(rune('0'+i)),
			PayloadBytes:   []byte("p"),
			DurableOffset:  int64(i),
			ConfirmedRead:  confirmed,
		})
		require.NoError(t, err)
	}

	floor := int64(1)
	events, err := store.DeliverableStreamEvents(ctx, "s1", 0, &floor)
	require.NoError(t, err)
	// seq 3 has ConfirmedRead=false and DurableOffset(3) > floor(1), so it's excluded.
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)
}

func TestAckCheckpoint_MonotoneNonDecreasing(t *testing.T) {
	ctx := context.Background()
	store := memsync.New()

	cp, err := store.AckCheckpoint(ctx, syncstore.AckRequest{
		ClientID: "c1", StreamID: "s1", LastAppliedSeq: 5, NowMs: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp.LastAppliedSeq)

	// Stale ack is ignored.
	cp2, err := store.AckCheckpoint(ctx, syncstore.AckRequest{
		ClientID: "c1", StreamID: "s1", LastAppliedSeq: 2, NowMs: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp2.LastAppliedSeq)
}

func TestTrimRetention_PreservesHeadSeq(t *testing.T) {
	ctx := context.Background()
	store := memsync.New()

	for i := 1; i <= 5; i++ {
		_, err := store.Append(ctx, syncstore.AppendRequest{
			StreamID: "s1", IdempotencyKey: "k" + string(rune('0'+i)), PayloadHash: "h", PayloadBytes: []byte("p"),
		})
		require.NoError(t, err)
	}

	require.NoError(t, store.TrimRetention(ctx, "s1", 3))

	head, err := store.HeadSeq(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), head, "trimming must not roll back head seq")

	events, err := store.StreamEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].Seq)
}

func TestTrimRetention_RefusesToTrimPastACheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memsync.New()

	for i := 1; i <= 5; i++ {
		_, err := store.Append(ctx, syncstore.AppendRequest{
			StreamID: "s1", IdempotencyKey: "k" + string(rune('0'+i)), PayloadHash: "h", PayloadBytes: []byte("p"),
		})
		require.NoError(t, err)
	}

	_, err := store.AckCheckpoint(ctx, syncstore.AckRequest{
		ClientID: "c1", StreamID: "s1", LastAppliedSeq: 2, NowMs: 100,
	})
	require.NoError(t, err)

	require.NoError(t, store.TrimRetention(ctx, "s1", 4))

	events, err := store.StreamEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 4, "trim must not discard past the slowest checkpoint's last_applied_seq")
	assert.Equal(t, uint64(2), events[0].Seq)
}
