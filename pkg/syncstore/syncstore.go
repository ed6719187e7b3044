// Package syncstore defines the sync reducer store contract: an
// append-only, per-stream log of SyncEvent rows with idempotent append,
// dense monotonic sequencing, and checkpoint bookkeeping. Two
// implementations live alongside it: pkg/store/memsync (single coarse
// mutex, process-local) and pkg/store/sqlsync (durable, transactional).
package syncstore

import "context"

// SyncEvent is one row in a stream's append-only log. Never mutated after
// creation; never deleted except by retention trimming, which only moves
// a stream's oldest retained seq forward.
type SyncEvent struct {
	StreamID       string
	Seq            uint64
	IdempotencyKey string
	PayloadHash    string
	PayloadBytes   []byte
	CommittedAtMs  int64
	DurableOffset  int64
	ConfirmedRead  bool
}

// SyncCheckpoint records how far a client has applied a stream.
type SyncCheckpoint struct {
	ClientID       string
	StreamID       string
	LastAppliedSeq uint64
	DurableOffset  int64
	UpdatedAtMs    int64
}

// AppendRequest is the input to Append. ExpectedNextSeq is optional:
// nil means "assign whatever seq is next," non-nil asserts the caller's
// belief about the stream's head and fails with SequenceConflict if wrong.
type AppendRequest struct {
	StreamID        string
	IdempotencyKey  string
	PayloadHash     string
	PayloadBytes    []byte
	CommittedAtMs   int64
	DurableOffset   int64
	ConfirmedRead   bool
	ExpectedNextSeq *uint64
}

// AppendOutcome reports whether Append created a new event or found an
// existing one with a matching idempotency key.
type AppendOutcome struct {
	Event     SyncEvent
	Duplicate bool
}

// AckRequest upserts a client's checkpoint for a stream.
type AckRequest struct {
	ClientID       string
	StreamID       string
	LastAppliedSeq uint64
	DurableOffset  int64
	NowMs          int64
}

// Store is the sync reducer store contract. Implementations own all
// synchronization for their backing storage: in-memory implementations
// use a single coarse mutex, SQL implementations use per-row transactions
// with read-then-write atomicity, per the "shared mutable state" design
// note governing this component.
type Store interface {
	// Append assigns seq = head+1 and appends, unless the idempotency key
	// already exists (returns Duplicate) or ExpectedNextSeq mismatches
	// (returns a SequenceConflict error via errs).
	Append(ctx context.Context, req AppendRequest) (AppendOutcome, error)

	// StreamEvents returns the full ordered log for a stream.
	StreamEvents(ctx context.Context, streamID string) ([]SyncEvent, error)

	// DeliverableStreamEvents returns events with seq > afterSeq,
	// filtering out ConfirmedRead=false events when a durable floor is
	// set and the event's DurableOffset exceeds it.
	DeliverableStreamEvents(ctx context.Context, streamID string, afterSeq uint64, confirmedReadDurableFloor *int64) ([]SyncEvent, error)

	// HeadSeq returns the current head seq for a stream (0 if empty).
	HeadSeq(ctx context.Context, streamID string) (uint64, error)

	// AckCheckpoint upserts a (client_id, stream_id) checkpoint if
	// req.LastAppliedSeq is at least the currently stored value.
	AckCheckpoint(ctx context.Context, req AckRequest) (SyncCheckpoint, error)

	// TrimRetention advances a stream's oldest retained seq, discarding
	// events with seq < keepFromSeq. keepFromSeq is first lowered to the
	// lowest LastAppliedSeq among the stream's checkpoints, so no event at
	// or after any checkpoint's seq is discarded. Supplements the spec's "retention
	// trimming" invariant on SyncEvent with an explicit operation.
	TrimRetention(ctx context.Context, streamID string, keepFromSeq uint64) error
}
