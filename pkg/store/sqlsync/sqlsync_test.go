package sqlsync_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/pkg/store/sqlsync"
	"github.com/pretyflaco/openagents-sub005/pkg/syncstore"
)

func TestAppend_InsertsNewEventWhenNoIdempotencyHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := sqlsync.New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT seq, payload_hash FROM sync_events").
		WithArgs("s1", "k1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT head_seq FROM sync_stream_heads").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"head_seq"}).AddRow(2))
	mock.ExpectExec("INSERT INTO sync_events").
		WithArgs("s1", int64(3), "k1", "h1", []byte("payload"), int64(0), int64(0), false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO sync_stream_heads").
		WithArgs("s1", int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	out, err := store.Append(ctx, syncstore.AppendRequest{
		StreamID:       "s1",
		IdempotencyKey: "k1",
		PayloadHash:    "h1",
		PayloadBytes:   []byte("payload"),
	})
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Equal(t, uint64(3), out.Event.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeadSeq_ReturnsZeroWhenStreamUnknown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := sqlsync.New(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT head_seq FROM sync_stream_heads").
		WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)

	head, err := store.HeadSeq(ctx, "unknown")
	require.NoError(t, err)
	require.Equal(t, uint64(0), head)
}
