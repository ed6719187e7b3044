package archival_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/archival"
	"github.com/pretyflaco/openagents-sub005/pkg/store/memsync"
	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

func appendReq(streamID string, i int) syncstore.AppendRequest {
	return syncstore.AppendRequest{
		StreamID:       streamID,
		IdempotencyKey: fmt.Sprintf("key-%s-%d", streamID, i),
		PayloadHash:    fmt.Sprintf("hash-%d", i),
		PayloadBytes:   []byte("payload"),
		ConfirmedRead:  true,
	}
}

func TestTrimWithMirror_MirrorsDiscardedRangeThenTrims(t *testing.T) {
	store := memsync.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, appendReq("stream-1", i))
		require.NoError(t, err)
	}

	sink := newFakeSink()
	mirror := archival.NewMirror(sink, nil)

	require.NoError(t, archival.TrimWithMirror(ctx, store, mirror, "stream-1", 3, 1_700_000_000_000))

	events, err := store.StreamEvents(ctx, "stream-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, uint64(3), events[0].Seq)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTrimWithMirror_NilMirrorStillTrims(t *testing.T) {
	store := memsync.New()
	ctx := context.Background()
	_, err := store.Append(ctx, appendReq("stream-1", 0))
	require.NoError(t, err)

	require.NoError(t, archival.TrimWithMirror(ctx, store, nil, "stream-1", 2, 0))

	events, err := store.StreamEvents(ctx, "stream-1")
	require.NoError(t, err)
	require.Len(t, events, 0)
}
