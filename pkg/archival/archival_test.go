package archival_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/archival"
	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

type fakeSink struct {
	mu      sync.Mutex
	batches map[string][]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{batches: map[string][]byte{}}
}

func (f *fakeSink) PutBatch(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[key] = data
	return nil
}

func (f *fakeSink) HasBatch(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.batches[key]
	return ok, nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func sampleBatch() archival.Batch {
	return archival.Batch{
		StreamID: "stream-1",
		FromSeq:  1,
		ToSeq:    3,
		Events: []syncstore.SyncEvent{
			{StreamID: "stream-1", Seq: 1, IdempotencyKey: "k1"},
			{StreamID: "stream-1", Seq: 2, IdempotencyKey: "k2"},
			{StreamID: "stream-1", Seq: 3, IdempotencyKey: "k3"},
		},
		ArchivedAtMs: 1_700_000_000_000,
	}
}

func TestMirrorTrim_PersistsBatch(t *testing.T) {
	sink := newFakeSink()
	mirror := archival.NewMirror(sink, nil)

	mirror.MirrorTrim(context.Background(), sampleBatch())

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMirrorTrim_NilSinkIsNoOp(t *testing.T) {
	mirror := archival.NewMirror(nil, nil)
	mirror.MirrorTrim(context.Background(), sampleBatch())
}

func TestMirrorTrim_EmptyBatchIsNoOp(t *testing.T) {
	sink := newFakeSink()
	mirror := archival.NewMirror(sink, nil)

	mirror.MirrorTrim(context.Background(), archival.Batch{StreamID: "stream-1"})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestBatch_KeyIsStableForIdenticalContent(t *testing.T) {
	a := sampleBatch()
	b := sampleBatch()

	keyA, err := a.Key()
	require.NoError(t, err)
	keyB, err := b.Key()
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)

	b.Events[0].IdempotencyKey = "different"
	keyC, err := b.Key()
	require.NoError(t, err)
	assert.NotEqual(t, keyA, keyC)
}

func TestMirrorTrim_SkipsReupploadWhenAlreadyMirrored(t *testing.T) {
	sink := newFakeSink()
	mirror := archival.NewMirror(sink, nil)
	batch := sampleBatch()

	key, err := batch.Key()
	require.NoError(t, err)
	require.NoError(t, sink.PutBatch(context.Background(), key, []byte(`{"already":"here"}`)))

	mirror.MirrorTrim(context.Background(), batch)
	time.Sleep(20 * time.Millisecond)

	got, err := sink.HasBatch(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, []byte(`{"already":"here"}`), sink.batches[key])
}
