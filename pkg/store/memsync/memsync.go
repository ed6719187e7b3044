// Package memsync is a process-local, coarse-mutex implementation of
// syncstore.Store, for single-process deployments and tests.
package memsync

import (
	"context"
	"sort"
	"sync"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

type stream struct {
	events    []syncstore.SyncEvent // retained suffix of the log; may not start at seq 1 after trimming
	byIdemKey map[string]int        // idempotency_key -> index into events
	headSeq   uint64                // highest seq ever assigned, independent of trimming
	oldestSeq uint64                // lowest seq still retained
}

// Store implements syncstore.Store behind a single RWMutex, matching the
// "coarse mutex for in-memory implementations" design note.
type Store struct {
	mu          sync.RWMutex
	streams     map[string]*stream
	checkpoints map[string]*syncstore.SyncCheckpoint // key: clientID + "\x00" + streamID
}

func New() *Store {
	return &Store{
		streams:     make(map[string]*stream),
		checkpoints: make(map[string]*syncstore.SyncCheckpoint),
	}
}

func checkpointKey(clientID, streamID string) string {
	return clientID + "\x00" + streamID
}

// minCheckpointSeq returns the lowest LastAppliedSeq among checkpoints
// recorded for streamID. Trimming must never discard events past this
// floor, or a client that has acked up to that seq but not yet durably
// persisted it would be unable to recover after a disconnect.
func (s *Store) minCheckpointSeq(streamID string) (uint64, bool) {
	var min uint64
	found := false
	for _, cp := range s.checkpoints {
		if cp.StreamID != streamID {
			continue
		}
		if !found || cp.LastAppliedSeq < min {
			min = cp.LastAppliedSeq
			found = true
		}
	}
	return min, found
}

func (s *Store) streamFor(streamID string) *stream {
	st, ok := s.streams[streamID]
	if !ok {
		st = &stream{byIdemKey: make(map[string]int), oldestSeq: 1}
		s.streams[streamID] = st
	}
	return st
}

func (s *Store) Append(ctx context.Context, req syncstore.AppendRequest) (syncstore.AppendOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streamFor(req.StreamID)

	if idx, ok := st.byIdemKey[req.IdempotencyKey]; ok {
		existing := st.events[idx]
		if existing.PayloadHash == req.PayloadHash {
			return syncstore.AppendOutcome{Event: existing, Duplicate: true}, nil
		}
		return syncstore.AppendOutcome{}, errs.New(errs.KindIdempotencyConflict,
			"syncstore: idempotency key reused with a different payload hash").
			WithDetails(map[string]any{"stream_id": req.StreamID, "idempotency_key": req.IdempotencyKey})
	}

	nextSeq := st.headSeq + 1
	if req.ExpectedNextSeq != nil && *req.ExpectedNextSeq != nextSeq {
		return syncstore.AppendOutcome{}, errs.Newf(errs.KindSequenceConflict,
			"syncstore: expected next seq %d, actual %d", *req.ExpectedNextSeq, nextSeq).
			WithDetails(map[string]any{
				"expected_next_seq": *req.ExpectedNextSeq,
				"actual_next_seq":   nextSeq,
			})
	}

	event := syncstore.SyncEvent{
		StreamID:       req.StreamID,
		Seq:            nextSeq,
		IdempotencyKey: req.IdempotencyKey,
		PayloadHash:    req.PayloadHash,
		PayloadBytes:   req.PayloadBytes,
		CommittedAtMs:  req.CommittedAtMs,
		DurableOffset:  req.DurableOffset,
		ConfirmedRead:  req.ConfirmedRead,
	}
	st.events = append(st.events, event)
	st.byIdemKey[req.IdempotencyKey] = len(st.events) - 1
	st.headSeq = nextSeq

	return syncstore.AppendOutcome{Event: event, Duplicate: false}, nil
}

func (s *Store) StreamEvents(ctx context.Context, streamID string) ([]syncstore.SyncEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[streamID]
	if !ok {
		return nil, nil
	}
	out := make([]syncstore.SyncEvent, len(st.events))
	copy(out, st.events)
	return out, nil
}

func (s *Store) DeliverableStreamEvents(ctx context.Context, streamID string, afterSeq uint64, confirmedReadDurableFloor *int64) ([]syncstore.SyncEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[streamID]
	if !ok {
		return nil, nil
	}

	out := make([]syncstore.SyncEvent, 0, len(st.events))
	for _, ev := range st.events {
		if ev.Seq <= afterSeq {
			continue
		}
		if confirmedReadDurableFloor != nil && !ev.ConfirmedRead && ev.DurableOffset > *confirmedReadDurableFloor {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) HeadSeq(ctx context.Context, streamID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[streamID]
	if !ok {
		return 0, nil
	}
	return st.headSeq, nil
}

func (s *Store) AckCheckpoint(ctx context.Context, req syncstore.AckRequest) (syncstore.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := checkpointKey(req.ClientID, req.StreamID)
	existing, ok := s.checkpoints[key]
	if ok && req.LastAppliedSeq < existing.LastAppliedSeq {
		// Monotone non-decreasing: ignore stale acks, return current state.
		cp := *existing
		return cp, nil
	}

	cp := syncstore.SyncCheckpoint{
		ClientID:       req.ClientID,
		StreamID:       req.StreamID,
		LastAppliedSeq: req.LastAppliedSeq,
		DurableOffset:  req.DurableOffset,
		UpdatedAtMs:    req.NowMs,
	}
	s.checkpoints[key] = &cp
	return cp, nil
}

func (s *Store) TrimRetention(ctx context.Context, streamID string, keepFromSeq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[streamID]
	if !ok {
		return nil
	}

	if floor, ok := s.minCheckpointSeq(streamID); ok && floor < keepFromSeq {
		keepFromSeq = floor
	}

	idx := sort.Search(len(st.events), func(i int) bool { return st.events[i].Seq >= keepFromSeq })
	if idx <= 0 {
		return nil
	}

	trimmed := make([]syncstore.SyncEvent, len(st.events)-idx)
	copy(trimmed, st.events[idx:])
	st.events = trimmed

	st.byIdemKey = make(map[string]int, len(st.events))
	for i, ev := range st.events {
		st.byIdemKey[ev.IdempotencyKey] = i
	}
	if keepFromSeq > st.oldestSeq {
		st.oldestSeq = keepFromSeq
	}
	return nil
}
