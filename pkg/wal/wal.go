package wal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

// Store persists WAL entries in the {prefix}_wal table. The table name is
// composed once at construction from the element's table prefix so several
// elements can share one database.
type Store struct {
	db    *sqlx.DB
	table string
}

// NewStore creates the WAL store and bootstraps its schema
func NewStore(ctx context.Context, db *sqlx.DB, tablePrefix string) (*Store, error) {
	s := &Store{
		db:    db,
		table: tablePrefix + "_wal",
	}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	wal_id            BIGSERIAL PRIMARY KEY,
	transaction_id    UUID NOT NULL,
	saga_id           UUID,
	operation_type    TEXT NOT NULL,
	status            TEXT NOT NULL,
	file_id           UUID,
	payload           JSONB,
	compensation_data JSONB,
	created_at        TIMESTAMPTZ NOT NULL,
	committed_at      TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_inflight_file_idx
	ON %[1]s (file_id)
	WHERE status IN ('pending', 'in_progress') AND file_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status, created_at);
`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to bootstrap wal table: %w", err)
	}
	return nil
}

type row struct {
	WALID            int64          `db:"wal_id"`
	TransactionID    string         `db:"transaction_id"`
	SagaID           sql.NullString `db:"saga_id"`
	OperationType    string         `db:"operation_type"`
	Status           string         `db:"status"`
	FileID           sql.NullString `db:"file_id"`
	Payload          []byte         `db:"payload"`
	CompensationData []byte         `db:"compensation_data"`
	CreatedAt        time.Time      `db:"created_at"`
	CommittedAt      sql.NullTime   `db:"committed_at"`
}

func (r *row) toEntry() (*types.WALEntry, error) {
	e := &types.WALEntry{
		WALID:         r.WALID,
		TransactionID: r.TransactionID,
		OperationType: types.WALOperation(r.OperationType),
		Status:        types.WALStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if r.SagaID.Valid {
		e.SagaID = r.SagaID.String
	}
	if r.FileID.Valid {
		e.FileID = r.FileID.String
	}
	if r.CommittedAt.Valid {
		t := r.CommittedAt.Time.UTC()
		e.CommittedAt = &t
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode wal payload: %w", err)
		}
	}
	if len(r.CompensationData) > 0 {
		if err := json.Unmarshal(r.CompensationData, &e.CompensationData); err != nil {
			return nil, fmt.Errorf("failed to decode wal compensation data: %w", err)
		}
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Begin opens a pending WAL entry for a mutating operation. A second
// non-terminal entry for the same file is rejected with
// conflict_wal_in_flight.
func (s *Store) Begin(ctx context.Context, op types.WALOperation, fileID string, payload map[string]any) (*types.WALEntry, error) {
	entry := &types.WALEntry{
		TransactionID: uuid.NewString(),
		OperationType: op,
		Status:        types.WALStatusPending,
		FileID:        fileID,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wal payload: %w", err)
	}

	var fid any
	if fileID != "" {
		fid = fileID
	}

	query := fmt.Sprintf(`
INSERT INTO %s (transaction_id, operation_type, status, file_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING wal_id`, s.table)

	err = s.db.QueryRowContext(ctx, query,
		entry.TransactionID, string(op), string(types.WALStatusPending), fid, payloadJSON, entry.CreatedAt,
	).Scan(&entry.WALID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errdefs.Newf(errdefs.KindConflictWALInFlight,
				"another operation is in flight for file %s", fileID)
		}
		return nil, fmt.Errorf("failed to open wal entry: %w", err)
	}
	return entry, nil
}

// MarkInProgress moves a pending entry to in_progress
func (s *Store) MarkInProgress(ctx context.Context, walID int64) error {
	return s.setStatus(ctx, walID, types.WALStatusPending, types.WALStatusInProgress)
}

// Commit marks the entry committed and stamps committed_at
func (s *Store) Commit(ctx context.Context, walID int64) (time.Time, error) {
	committedAt := time.Now().UTC()
	query := fmt.Sprintf(`
UPDATE %s SET status = $1, committed_at = $2
WHERE wal_id = $3 AND status IN ('pending', 'in_progress')`, s.table)
	res, err := s.db.ExecContext(ctx, query, string(types.WALStatusCommitted), committedAt, walID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to commit wal entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return time.Time{}, errdefs.Newf(errdefs.KindNotFound, "wal entry %d not open", walID)
	}
	return committedAt, nil
}

// Rollback marks the entry rolled_back recording what was undone
func (s *Store) Rollback(ctx context.Context, walID int64, compensation map[string]any) error {
	return s.terminate(ctx, walID, types.WALStatusRolledBack, compensation)
}

// Fail marks the entry failed recording diagnostic data
func (s *Store) Fail(ctx context.Context, walID int64, compensation map[string]any) error {
	return s.terminate(ctx, walID, types.WALStatusFailed, compensation)
}

func (s *Store) terminate(ctx context.Context, walID int64, status types.WALStatus, compensation map[string]any) error {
	compJSON, err := json.Marshal(compensation)
	if err != nil {
		return fmt.Errorf("failed to encode compensation data: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = $1, compensation_data = $2
WHERE wal_id = $3 AND status IN ('pending', 'in_progress')`, s.table)
	res, err := s.db.ExecContext(ctx, query, string(status), compJSON, walID)
	if err != nil {
		return fmt.Errorf("failed to terminate wal entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.Newf(errdefs.KindNotFound, "wal entry %d not open", walID)
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, walID int64, from, to types.WALStatus) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1 WHERE wal_id = $2 AND status = $3`, s.table)
	res, err := s.db.ExecContext(ctx, query, string(to), walID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update wal status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.Newf(errdefs.KindNotFound, "wal entry %d not in status %s", walID, from)
	}
	return nil
}

// Get returns one entry by id
func (s *Store) Get(ctx context.Context, walID int64) (*types.WALEntry, error) {
	var r row
	query := fmt.Sprintf(`SELECT * FROM %s WHERE wal_id = $1`, s.table)
	if err := s.db.GetContext(ctx, &r, query, walID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "wal entry %d not found", walID)
		}
		return nil, fmt.Errorf("failed to load wal entry: %w", err)
	}
	return r.toEntry()
}

// ListNonTerminal returns open entries created before the cutoff; the
// startup recovery scan uses this to roll back work orphaned by a crash.
func (s *Store) ListNonTerminal(ctx context.Context, before time.Time) ([]*types.WALEntry, error) {
	var rows []row
	query := fmt.Sprintf(`
SELECT * FROM %s
WHERE status IN ('pending', 'in_progress') AND created_at < $1
ORDER BY wal_id ASC`, s.table)
	if err := s.db.SelectContext(ctx, &rows, query, before); err != nil {
		return nil, fmt.Errorf("failed to list open wal entries: %w", err)
	}
	entries := make([]*types.WALEntry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PurgeTerminal deletes terminal entries older than the retention window
func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE status IN ('committed', 'rolled_back', 'failed') AND created_at < $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge wal entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
