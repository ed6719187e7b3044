package syncclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/cursor"
	"github.com/pretyflaco/openagents-sub005/pkg/store/memsync"
	"github.com/pretyflaco/openagents-sub005/pkg/syncclient"
	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

type fixedWindow struct {
	windows map[string]*cursor.StreamWindow
}

func (f fixedWindow) Window(ctx context.Context, streamID string) (*cursor.StreamWindow, error) {
	return f.windows[streamID], nil
}

func appendN(t *testing.T, store syncstore.Store, streamID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := store.Append(context.Background(), syncstore.AppendRequest{
			StreamID:       streamID,
			IdempotencyKey: string(rune('a' + i)),
			PayloadHash:    "h",
			PayloadBytes:   []byte("p"),
			ConfirmedRead:  true,
		})
		require.NoError(t, err)
	}
}

// spec.md scenario 1: two clients subscribing at after_seq=0 see identical
// ordering and next_after_seq after 4 appends.
func TestSubscribe_MultiClientOrdering(t *testing.T) {
	store := memsync.New()
	appendN(t, store, "runtime.run.ordering.events", 4)

	windows := fixedWindow{windows: map[string]*cursor.StreamWindow{
		"runtime.run.ordering.events": {StreamID: "runtime.run.ordering.events", OldestSeq: 0, HeadSeq: 4, ReplayBudgetEvents: 100},
	}}
	client := syncclient.New(store, windows, []string{"v1"}, 100, 5000)

	claims := syncclient.SyncSessionClaims{
		Scopes: []string{"sync.subscribe"}, ExpiresAtMs: 1 << 40,
	}

	res1, err := client.Subscribe(context.Background(), claims, syncclient.SubscribeRequest{StreamID: "runtime.run.ordering.events"}, 0)
	require.NoError(t, err)
	res2, err := client.Subscribe(context.Background(), claims, syncclient.SubscribeRequest{StreamID: "runtime.run.ordering.events"}, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(4), res1.NextAfterSeq)
	assert.Equal(t, uint64(4), res2.NextAfterSeq)
	require.Len(t, res1.Events, 4)
	require.Len(t, res2.Events, 4)
	for i := range res1.Events {
		assert.Equal(t, res1.Events[i].PayloadHash, res2.Events[i].PayloadHash)
	}
}

// spec.md scenario 2: replay budget = 2, 5 events appended, subscribe at 0
// must rebootstrap with the oldest/head cursors and replay_budget_exceeded.
func TestSubscribe_StaleCursorRebootstrap(t *testing.T) {
	store := memsync.New()
	appendN(t, store, "s1", 5)

	windows := fixedWindow{windows: map[string]*cursor.StreamWindow{
		"s1": {StreamID: "s1", OldestSeq: 1, HeadSeq: 5, ReplayBudgetEvents: 2},
	}}
	client := syncclient.New(store, windows, []string{"v1"}, 100, 5000)
	claims := syncclient.SyncSessionClaims{Scopes: []string{"sync.subscribe"}, ExpiresAtMs: 1 << 40}

	_, err := client.Subscribe(context.Background(), claims, syncclient.SubscribeRequest{StreamID: "s1"}, 0)
	require.Error(t, err)

	var stale *syncclient.StaleCursorError
	require.ErrorAs(t, err, &stale)
	assert.Contains(t, stale.ReasonCodes, cursor.ReasonReplayBudgetExceed)
	assert.Equal(t, uint64(1), stale.OldestAvailableCursor.AfterSeq)
	assert.Equal(t, uint64(5), stale.HeadCursor.AfterSeq)
}

// spec.md scenario 3: claims scoped to one stream attempting an append on
// another must fail with stream_not_granted.
func TestAppendSyncEvent_ForbiddenWhenStreamNotGranted(t *testing.T) {
	store := memsync.New()
	windows := fixedWindow{windows: map[string]*cursor.StreamWindow{}}
	client := syncclient.New(store, windows, []string{"v1"}, 100, 5000)

	claims := syncclient.SyncSessionClaims{
		Scopes:         []string{"sync.subscribe"},
		AllowedStreams: []string{"runtime.run.job-1.events"},
		ExpiresAtMs:    1 << 40,
	}

	_, err := client.AppendSyncEvent(context.Background(), claims, syncstore.AppendRequest{
		StreamID: "runtime.run.job-2.events", IdempotencyKey: "k", PayloadHash: "h",
	}, 0)
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindStreamNotGranted, kind)
}

func TestNegotiateProtocol_PicksFirstMutualMatch(t *testing.T) {
	client := syncclient.New(memsync.New(), fixedWindow{}, []string{"v2", "v1"}, 100, 5000)
	picked, err := client.NegotiateProtocol([]string{"v1", "v0"})
	require.NoError(t, err)
	assert.Equal(t, "v1", picked)
}

func TestNegotiateProtocol_NoMutualSupport(t *testing.T) {
	client := syncclient.New(memsync.New(), fixedWindow{}, []string{"v2"}, 100, 5000)
	_, err := client.NegotiateProtocol([]string{"v1"})
	require.Error(t, err)
}

func TestReconnectBackoffMs_CapsAtMax(t *testing.T) {
	for attempt := uint(0); attempt < 20; attempt++ {
		delay := syncclient.ReconnectBackoffMs(100, 5000, attempt)
		assert.LessOrEqual(t, delay, uint64(5000))
	}
}

func TestReconnectBackoffMs_Exponential(t *testing.T) {
	assert.Equal(t, uint64(100), syncclient.ReconnectBackoffMs(100, 100000, 0))
	assert.Equal(t, uint64(200), syncclient.ReconnectBackoffMs(100, 100000, 1))
	assert.Equal(t, uint64(400), syncclient.ReconnectBackoffMs(100, 100000, 2))
}
