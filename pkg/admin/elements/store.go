package elements

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

// Element status values as seen by the admin
const (
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
	StatusOffline     = "offline"
)

// Record is the admin's view of one storage element
type Record struct {
	ElementID           string            `json:"element_id" db:"element_id"`
	DisplayName         string            `json:"display_name" db:"display_name"`
	Endpoint            string            `json:"endpoint" db:"endpoint"`
	Mode                types.Mode        `json:"mode" db:"mode"`
	StorageType         types.StorageType `json:"storage_type" db:"storage_type"`
	Version             string            `json:"version" db:"version"`
	BasePath            string            `json:"base_path" db:"base_path"`
	CapacityBytes       int64             `json:"capacity_bytes" db:"capacity_bytes"`
	UsedBytes           int64             `json:"used_bytes" db:"used_bytes"`
	FileCount           int64             `json:"file_count" db:"file_count"`
	Priority            int               `json:"priority" db:"priority"`
	Status              string            `json:"status" db:"status"`
	ConsecutiveFailures int               `json:"consecutive_failures" db:"consecutive_failures"`
	LastSyncedAt        *time.Time        `json:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at" db:"updated_at"`
}

// Store persists element records in the storage_elements table
type Store struct {
	db *sqlx.DB
}

// NewStore creates an element store
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Upsert creates or refreshes a record from a discovery payload. Mode
// changes are stored as observed; the admin never writes mode back to the
// element.
func (s *Store) Upsert(ctx context.Context, endpoint string, info *types.DiscoveryInfo, priority int) (*Record, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO storage_elements (element_id, display_name, endpoint, mode, storage_type,
	version, base_path, capacity_bytes, used_bytes, file_count, priority, status,
	consecutive_failures, last_synced_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $13, $13)
ON CONFLICT (element_id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	endpoint = EXCLUDED.endpoint,
	mode = EXCLUDED.mode,
	storage_type = EXCLUDED.storage_type,
	version = EXCLUDED.version,
	base_path = EXCLUDED.base_path,
	capacity_bytes = EXCLUDED.capacity_bytes,
	used_bytes = EXCLUDED.used_bytes,
	file_count = EXCLUDED.file_count,
	status = EXCLUDED.status,
	consecutive_failures = 0,
	last_synced_at = EXCLUDED.last_synced_at,
	updated_at = EXCLUDED.updated_at`,
		info.Name, info.DisplayName, endpoint, info.Mode, info.StorageType,
		info.Version, info.BasePath, info.CapacityBytes, info.UsedBytes,
		info.FileCount, priority, statusFromInfo(info.Status), now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert element record: %w", err)
	}
	return s.Get(ctx, info.Name)
}

func statusFromInfo(status string) string {
	switch status {
	case StatusOperational, StatusDegraded, StatusOffline:
		return status
	}
	return StatusOperational
}

// MarkFailure increments the consecutive failure counter and flips the
// record offline once the threshold is reached. Returns the new status.
func (s *Store) MarkFailure(ctx context.Context, elementID string, offlineThreshold int) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `
UPDATE storage_elements
SET consecutive_failures = consecutive_failures + 1,
    status = CASE WHEN consecutive_failures + 1 >= $2 THEN 'offline' ELSE status END,
    updated_at = $3
WHERE element_id = $1
RETURNING status`, elementID, offlineThreshold, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errdefs.Newf(errdefs.KindNotFound, "element %s not found", elementID)
		}
		return "", fmt.Errorf("failed to record element failure: %w", err)
	}
	return status, nil
}

// Get returns one record
func (s *Store) Get(ctx context.Context, elementID string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM storage_elements WHERE element_id = $1`, elementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "element %s not found", elementID)
		}
		return nil, fmt.Errorf("failed to load element record: %w", err)
	}
	return &rec, nil
}

// List returns the whole fleet
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	var out []*Record
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM storage_elements ORDER BY element_id`); err != nil {
		return nil, fmt.Errorf("failed to list element records: %w", err)
	}
	return out, nil
}

// ListAvailable is the Redis-down fallback for upload target selection:
// operational elements of the given mode with at least minFreeBytes free,
// ordered by ascending priority.
func (s *Store) ListAvailable(ctx context.Context, mode types.Mode, minFreeBytes int64) ([]*Record, error) {
	var out []*Record
	err := s.db.SelectContext(ctx, &out, `
SELECT * FROM storage_elements
WHERE mode = $1 AND status = 'operational'
  AND capacity_bytes - used_bytes >= $2
ORDER BY priority ASC, element_id ASC`, mode, minFreeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to list available elements: %w", err)
	}
	return out, nil
}

// Delete removes a record. Only empty elements may be deleted.
func (s *Store) Delete(ctx context.Context, elementID string) error {
	rec, err := s.Get(ctx, elementID)
	if err != nil {
		return err
	}
	if rec.FileCount != 0 {
		return errdefs.Newf(errdefs.KindValidation,
			"element %s holds %d files, deletion requires an empty element", elementID, rec.FileCount)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM storage_elements WHERE element_id = $1`, elementID); err != nil {
		return fmt.Errorf("failed to delete element record: %w", err)
	}
	return nil
}

// Stats summarizes the fleet
type Stats struct {
	Total         int64 `json:"total" db:"total"`
	Operational   int64 `json:"operational" db:"operational"`
	Offline       int64 `json:"offline" db:"offline"`
	CapacityBytes int64 `json:"capacity_bytes" db:"capacity_bytes"`
	UsedBytes     int64 `json:"used_bytes" db:"used_bytes"`
	FileCount     int64 `json:"file_count" db:"file_count"`
}

// Summary aggregates fleet-wide statistics
func (s *Store) Summary(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := s.db.GetContext(ctx, &stats, `
SELECT count(*) AS total,
       count(*) FILTER (WHERE status = 'operational') AS operational,
       count(*) FILTER (WHERE status = 'offline') AS offline,
       coalesce(sum(capacity_bytes), 0) AS capacity_bytes,
       coalesce(sum(used_bytes), 0) AS used_bytes,
       coalesce(sum(file_count), 0) AS file_count
FROM storage_elements`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize fleet: %w", err)
	}
	return &stats, nil
}
