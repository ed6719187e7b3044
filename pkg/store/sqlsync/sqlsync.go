// Package sqlsync is a durable syncstore.Store backed by database/sql,
// using per-row transactions for read-then-write atomicity on append and
// checkpoint upsert. Targets Postgres (lib/pq): queries use $N
// placeholders and Postgres-only syntax such as SELECT ... FOR UPDATE,
// which SQLite does not accept.
package sqlsync

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_events (
	stream_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	idempotency_key TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	payload_bytes BYTEA NOT NULL,
	committed_at_ms BIGINT NOT NULL,
	durable_offset BIGINT NOT NULL,
	confirmed_read BOOLEAN NOT NULL,
	PRIMARY KEY (stream_id, seq),
	UNIQUE (stream_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS sync_stream_heads (
	stream_id TEXT PRIMARY KEY,
	head_seq BIGINT NOT NULL,
	oldest_seq BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sync_checkpoints (
	client_id TEXT NOT NULL,
	stream_id TEXT NOT NULL,
	last_applied_seq BIGINT NOT NULL,
	durable_offset BIGINT NOT NULL,
	updated_at_ms BIGINT NOT NULL,
	PRIMARY KEY (client_id, stream_id)
);
`

// Init creates the schema if it does not already exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: schema init failed")
	}
	return nil
}

func (s *Store) Append(ctx context.Context, req syncstore.AppendRequest) (syncstore.AppendOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncstore.AppendOutcome{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var existingSeq sql.NullInt64
	var existingHash string
	row := tx.QueryRowContext(ctx, `
		SELECT seq, payload_hash FROM sync_events
		WHERE stream_id = $1 AND idempotency_key = $2`,
		req.StreamID, req.IdempotencyKey)
	err = row.Scan(&existingSeq, &existingHash)
	switch {
	case err == nil:
		if existingHash == req.PayloadHash {
			existing, ferr := s.fetchEvent(ctx, tx, req.StreamID, uint64(existingSeq.Int64))
			if ferr != nil {
				return syncstore.AppendOutcome{}, ferr
			}
			return syncstore.AppendOutcome{Event: existing, Duplicate: true}, nil
		}
		return syncstore.AppendOutcome{}, errs.New(errs.KindIdempotencyConflict,
			"sqlsync: idempotency key reused with a different payload hash").
			WithDetails(map[string]any{"stream_id": req.StreamID, "idempotency_key": req.IdempotencyKey})
	case !errors.Is(err, sql.ErrNoRows):
		return syncstore.AppendOutcome{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: idempotency lookup")
	}

	var headSeq uint64
	herr := tx.QueryRowContext(ctx, `SELECT head_seq FROM sync_stream_heads WHERE stream_id = $1 FOR UPDATE`, req.StreamID).Scan(&headSeq)
	if herr != nil && !errors.Is(herr, sql.ErrNoRows) {
		return syncstore.AppendOutcome{}, errs.Wrap(errs.KindDependencyUnavailable, herr, "sqlsync: head lookup")
	}

	nextSeq := headSeq + 1
	if req.ExpectedNextSeq != nil && *req.ExpectedNextSeq != nextSeq {
		return syncstore.AppendOutcome{}, errs.Newf(errs.KindSequenceConflict,
			"sqlsync: expected next seq %d, actual %d", *req.ExpectedNextSeq, nextSeq).
			WithDetails(map[string]any{
				"expected_next_seq": *req.ExpectedNextSeq,
				"actual_next_seq":   nextSeq,
			})
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_events (stream_id, seq, idempotency_key, payload_hash, payload_bytes, committed_at_ms, durable_offset, confirmed_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.StreamID, nextSeq, req.IdempotencyKey, req.PayloadHash, req.PayloadBytes, req.CommittedAtMs, req.DurableOffset, req.ConfirmedRead,
	); err != nil {
		return syncstore.AppendOutcome{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: insert event")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_stream_heads (stream_id, head_seq, oldest_seq) VALUES ($1, $2, 1)
		ON CONFLICT (stream_id) DO UPDATE SET head_seq = $2`,
		req.StreamID, nextSeq,
	); err != nil {
		return syncstore.AppendOutcome{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: upsert head")
	}

	if err := tx.Commit(); err != nil {
		return syncstore.AppendOutcome{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: commit")
	}

	return syncstore.AppendOutcome{
		Event: syncstore.SyncEvent{
			StreamID:       req.StreamID,
			Seq:            nextSeq,
			IdempotencyKey: req.IdempotencyKey,
			PayloadHash:    req.PayloadHash,
			PayloadBytes:   req.PayloadBytes,
			CommittedAtMs:  req.CommittedAtMs,
			DurableOffset:  req.DurableOffset,
			ConfirmedRead:  req.ConfirmedRead,
		},
		Duplicate: false,
	}, nil
}

func (s *Store) fetchEvent(ctx context.Context, q querier, streamID string, seq uint64) (syncstore.SyncEvent, error) {
	var ev syncstore.SyncEvent
	ev.StreamID = streamID
	err := q.QueryRowContext(ctx, `
		SELECT seq, idempotency_key, payload_hash, payload_bytes, committed_at_ms, durable_offset, confirmed_read
		FROM sync_events WHERE stream_id = $1 AND seq = $2`, streamID, seq).
		Scan(&ev.Seq, &ev.IdempotencyKey, &ev.PayloadHash, &ev.PayloadBytes, &ev.CommittedAtMs, &ev.DurableOffset, &ev.ConfirmedRead)
	if err != nil {
		return syncstore.SyncEvent{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: fetch event")
	}
	return ev, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) StreamEvents(ctx context.Context, streamID string) ([]syncstore.SyncEvent, error) {
	return s.queryEvents(ctx, `
		SELECT seq, idempotency_key, payload_hash, payload_bytes, committed_at_ms, durable_offset, confirmed_read
		FROM sync_events WHERE stream_id = $1 ORDER BY seq ASC`, streamID)
}

func (s *Store) DeliverableStreamEvents(ctx context.Context, streamID string, afterSeq uint64, confirmedReadDurableFloor *int64) ([]syncstore.SyncEvent, error) {
	events, err := s.queryEvents(ctx, `
		SELECT seq, idempotency_key, payload_hash, payload_bytes, committed_at_ms, durable_offset, confirmed_read
		FROM sync_events WHERE stream_id = $1 AND seq > $2 ORDER BY seq ASC`, streamID, afterSeq)
	if err != nil {
		return nil, err
	}
	if confirmedReadDurableFloor == nil {
		return events, nil
	}

	out := make([]syncstore.SyncEvent, 0, len(events))
	for _, ev := range events {
		if !ev.ConfirmedRead && ev.DurableOffset > *confirmedReadDurableFloor {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]syncstore.SyncEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: query events")
	}
	defer func() { _ = rows.Close() }()

	streamID, _ := args[0].(string)
	out := make([]syncstore.SyncEvent, 0)
	for rows.Next() {
		var ev syncstore.SyncEvent
		ev.StreamID = streamID
		if err := rows.Scan(&ev.Seq, &ev.IdempotencyKey, &ev.PayloadHash, &ev.PayloadBytes, &ev.CommittedAtMs, &ev.DurableOffset, &ev.ConfirmedRead); err != nil {
			return nil, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: scan event")
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: rows iteration")
	}
	return out, nil
}

func (s *Store) HeadSeq(ctx context.Context, streamID string) (uint64, error) {
	var head uint64
	err := s.db.QueryRowContext(ctx, `SELECT head_seq FROM sync_stream_heads WHERE stream_id = $1`, streamID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: head lookup")
	}
	return head, nil
}

func (s *Store) AckCheckpoint(ctx context.Context, req syncstore.AckRequest) (syncstore.SyncCheckpoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncstore.SyncCheckpoint{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var current uint64
	err = tx.QueryRowContext(ctx, `
		SELECT last_applied_seq FROM sync_checkpoints WHERE client_id = $1 AND stream_id = $2 FOR UPDATE`,
		req.ClientID, req.StreamID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return syncstore.SyncCheckpoint{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: checkpoint lookup")
	}

	if req.LastAppliedSeq < current {
		_ = tx.Rollback()
		return syncstore.SyncCheckpoint{
			ClientID: req.ClientID, StreamID: req.StreamID,
			LastAppliedSeq: current, DurableOffset: req.DurableOffset, UpdatedAtMs: req.NowMs,
		}, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (client_id, stream_id, last_applied_seq, durable_offset, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id, stream_id) DO UPDATE SET last_applied_seq = $3, durable_offset = $4, updated_at_ms = $5`,
		req.ClientID, req.StreamID, req.LastAppliedSeq, req.DurableOffset, req.NowMs,
	); err != nil {
		return syncstore.SyncCheckpoint{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: upsert checkpoint")
	}

	if err := tx.Commit(); err != nil {
		return syncstore.SyncCheckpoint{}, errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: commit")
	}

	return syncstore.SyncCheckpoint{
		ClientID: req.ClientID, StreamID: req.StreamID,
		LastAppliedSeq: req.LastAppliedSeq, DurableOffset: req.DurableOffset, UpdatedAtMs: req.NowMs,
	}, nil
}

func (s *Store) TrimRetention(ctx context.Context, streamID string, keepFromSeq uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	// Never trim past any checkpoint's last_applied_seq: a client that has
	// acked up to that seq but not yet durably persisted it must still be
	// able to recover after a disconnect.
	const floorExpr = `LEAST($2::BIGINT, COALESCE((SELECT MIN(last_applied_seq) FROM sync_checkpoints WHERE stream_id = $1), $2::BIGINT))`

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_events WHERE stream_id = $1 AND seq < `+floorExpr, streamID, keepFromSeq); err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: trim events")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_stream_heads SET oldest_seq = `+floorExpr+` WHERE stream_id = $1 AND oldest_seq < `+floorExpr,
		streamID, keepFromSeq,
	); err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: advance oldest_seq")
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "sqlsync: commit")
	}
	return nil
}
