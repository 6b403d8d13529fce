package wal

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &Store{db: sqlx.NewDb(db, "pgx"), table: "se1_wal"}, mock
}

func TestBegin(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO se1_wal`).
		WillReturnRows(sqlmock.NewRows([]string{"wal_id"}).AddRow(int64(42)))

	entry, err := s.Begin(context.Background(), types.WALOpUpload, "file-1",
		map[string]any{"object_path": "2026/01/01/00/a.bin"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), entry.WALID)
	assert.Equal(t, types.WALStatusPending, entry.Status)
	assert.NotEmpty(t, entry.TransactionID)
}

// The partial unique index on open entries surfaces as a wal-in-flight
// conflict, not a raw database error.
func TestBeginConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO se1_wal`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.Begin(context.Background(), types.WALOpUpdateMetadata, "file-1", nil)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindConflictWALInFlight))
}

func TestCommit(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE se1_wal SET status`).
		WithArgs("committed", sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	committedAt, err := s.Commit(context.Background(), 42)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), committedAt, time.Second)
}

// Committing a terminal entry affects no rows and reports not_found.
func TestCommitNotOpen(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE se1_wal SET status`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.Commit(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
}

func TestRollbackRecordsCompensation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE se1_wal SET status`).
		WithArgs("rolled_back", []byte(`{"deleted_object":"2026/01/01/00/a.bin"}`), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Rollback(context.Background(), 42,
		map[string]any{"deleted_object": "2026/01/01/00/a.bin"})
	require.NoError(t, err)
}

func TestListNonTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM se1_wal`).
		WillReturnRows(sqlmock.NewRows([]string{
			"wal_id", "transaction_id", "saga_id", "operation_type", "status",
			"file_id", "payload", "compensation_data", "created_at", "committed_at",
		}).AddRow(
			int64(7), "tx-7", nil, "upload", "pending",
			"file-1", []byte(`{"object_path":"p"}`), nil, created, nil,
		))

	entries, err := s.ListNonTerminal(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].WALID)
	assert.Equal(t, types.WALOpUpload, entries[0].OperationType)
	assert.Equal(t, "file-1", entries[0].FileID)
	assert.Equal(t, "p", entries[0].Payload["object_path"])
	assert.Nil(t, entries[0].CommittedAt)
}

func TestPurgeTerminal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM se1_wal`).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := s.PurgeTerminal(context.Background(), time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
