package gc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuemby/artstore/pkg/errdefs"
)

// File registry states
const (
	StateActive          = "active"
	StateFinalized       = "finalized"
	StateDeleted         = "deleted"
	StateOrphanCandidate = "orphan_candidate"
)

// Retention policies
const (
	PolicyPermanent = "permanent"
	PolicyTemporary = "temporary"
)

// Entry is one file registry row
type Entry struct {
	FileID            string     `json:"file_id" db:"file_id"`
	ElementID         string     `json:"element_id" db:"element_id"`
	RetentionPolicy   string     `json:"retention_policy" db:"retention_policy"`
	State             string     `json:"state" db:"state"`
	TTLExpiresAt      *time.Time `json:"ttl_expires_at,omitempty" db:"ttl_expires_at"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`
	EditElementID     *string    `json:"edit_element_id,omitempty" db:"edit_element_id"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	MissingObservedAt *time.Time `json:"missing_observed_at,omitempty" db:"missing_observed_at"`
	GCAttempts        int        `json:"gc_attempts" db:"gc_attempts"`
	NextGCAttemptAt   *time.Time `json:"next_gc_attempt_at,omitempty" db:"next_gc_attempt_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Store persists file registry entries
type Store struct {
	db *sqlx.DB
}

// NewStore creates a file registry store
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Register records a file placed on an element. Temporary files carry a
// TTL; permanent files never expire.
func (s *Store) Register(ctx context.Context, fileID, elementID, policy string, ttlExpiresAt *time.Time) (*Entry, error) {
	if policy != PolicyPermanent && policy != PolicyTemporary {
		return nil, errdefs.Newf(errdefs.KindValidation, "unknown retention policy %q", policy)
	}
	if policy == PolicyTemporary && ttlExpiresAt == nil {
		return nil, errdefs.New(errdefs.KindValidation, "temporary files require a ttl")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO file_registry (file_id, element_id, retention_policy, state, ttl_expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (file_id) DO UPDATE SET
	element_id = EXCLUDED.element_id,
	retention_policy = EXCLUDED.retention_policy,
	state = EXCLUDED.state,
	ttl_expires_at = EXCLUDED.ttl_expires_at,
	missing_observed_at = NULL,
	updated_at = EXCLUDED.updated_at`,
		fileID, elementID, policy, StateActive, ttlExpiresAt, now)
	if err != nil {
		return nil, fmt.Errorf("failed to register file: %w", err)
	}
	return s.Get(ctx, fileID)
}

// Finalize marks a file as settled on its final element and remembers the
// edit element whose copy the collector may reap after the safety margin.
func (s *Store) Finalize(ctx context.Context, fileID, finalElementID, editElementID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE file_registry
SET state = $2, element_id = $3, edit_element_id = $4, finalized_at = $5, updated_at = $5
WHERE file_id = $1 AND deleted_at IS NULL`,
		fileID, StateFinalized, finalElementID, nullIfEmpty(editElementID), now)
	if err != nil {
		return fmt.Errorf("failed to finalize file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.Newf(errdefs.KindNotFound, "file %s not in registry", fileID)
	}
	return nil
}

// Get returns one entry
func (s *Store) Get(ctx context.Context, fileID string) (*Entry, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e, `SELECT * FROM file_registry WHERE file_id = $1`, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "file %s not in registry", fileID)
		}
		return nil, fmt.Errorf("failed to load registry entry: %w", err)
	}
	return &e, nil
}

// ListExpiredTTL returns temporary entries past their TTL that are due
// for a collection attempt.
func (s *Store) ListExpiredTTL(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	var out []*Entry
	err := s.db.SelectContext(ctx, &out, `
SELECT * FROM file_registry
WHERE retention_policy = $1 AND state = $2 AND deleted_at IS NULL
  AND ttl_expires_at < $3
  AND (next_gc_attempt_at IS NULL OR next_gc_attempt_at <= $3)
ORDER BY ttl_expires_at ASC
LIMIT $4`, PolicyTemporary, StateActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired entries: %w", err)
	}
	return out, nil
}

// ListFinalizedWithEditCopy returns finalized entries whose edit-element
// copy is older than the safety margin and due for cleanup.
func (s *Store) ListFinalizedWithEditCopy(ctx context.Context, now, cutoff time.Time, limit int) ([]*Entry, error) {
	var out []*Entry
	err := s.db.SelectContext(ctx, &out, `
SELECT * FROM file_registry
WHERE state = $1 AND edit_element_id IS NOT NULL AND deleted_at IS NULL
  AND finalized_at < $2
  AND (next_gc_attempt_at IS NULL OR next_gc_attempt_at <= $3)
ORDER BY finalized_at ASC
LIMIT $4`, StateFinalized, cutoff, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list finalized entries: %w", err)
	}
	return out, nil
}

// ObserveOrphan records that an element holds a file the registry knows
// nothing about. The first observation creates a candidate row; later
// calls return the existing candidate untouched so the original
// observation time survives across cycles.
func (s *Store) ObserveOrphan(ctx context.Context, fileID, elementID string, observedAt time.Time) (*Entry, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO file_registry (file_id, element_id, retention_policy, state, missing_observed_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5, $5)
ON CONFLICT (file_id) DO NOTHING`,
		fileID, elementID, PolicyPermanent, StateOrphanCandidate, observedAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to record orphan observation: %w", err)
	}
	return s.Get(ctx, fileID)
}

// ListOrphanCandidates returns candidates first observed before cutoff
func (s *Store) ListOrphanCandidates(ctx context.Context, now, cutoff time.Time, limit int) ([]*Entry, error) {
	var out []*Entry
	err := s.db.SelectContext(ctx, &out, `
SELECT * FROM file_registry
WHERE state = $1 AND deleted_at IS NULL
  AND missing_observed_at < $2
  AND (next_gc_attempt_at IS NULL OR next_gc_attempt_at <= $3)
ORDER BY missing_observed_at ASC
LIMIT $4`, StateOrphanCandidate, cutoff, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan candidates: %w", err)
	}
	return out, nil
}

// ClearOrphanCandidate drops a candidate whose registry entry reappeared
func (s *Store) ClearOrphanCandidate(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_registry WHERE file_id = $1 AND state = $2`,
		fileID, StateOrphanCandidate)
	if err != nil {
		return fmt.Errorf("failed to clear orphan candidate: %w", err)
	}
	return nil
}

// MarkDeleted soft-deletes an entry after a successful physical delete
func (s *Store) MarkDeleted(ctx context.Context, fileID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
UPDATE file_registry
SET state = $2, deleted_at = $3, gc_attempts = 0, next_gc_attempt_at = NULL, updated_at = $3
WHERE file_id = $1`, fileID, StateDeleted, now)
	if err != nil {
		return fmt.Errorf("failed to mark entry deleted: %w", err)
	}
	return nil
}

// ClearEditCopy records that the edit-element copy is gone
func (s *Store) ClearEditCopy(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE file_registry
SET edit_element_id = NULL, gc_attempts = 0, next_gc_attempt_at = NULL, updated_at = $2
WHERE file_id = $1`, fileID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to clear edit copy: %w", err)
	}
	return nil
}

// RecordFailure schedules the next attempt with exponential backoff
func (s *Store) RecordFailure(ctx context.Context, fileID string, backoff time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE file_registry
SET gc_attempts = gc_attempts + 1, next_gc_attempt_at = $2, updated_at = $3
WHERE file_id = $1`, fileID, time.Now().UTC().Add(backoff), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record gc failure: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
