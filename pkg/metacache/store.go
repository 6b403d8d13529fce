package metacache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

// schemaVersion of the metadata cache table group
const schemaVersion = 2

// Store is the SQL metadata cache of one storage element. Table names
// resolve from the element's table prefix when the store is constructed,
// never earlier, so multiple elements can share a database.
type Store struct {
	db            *sqlx.DB
	filesTable    string
	configTable   string
	schemaTable   string
	defaultTTLHrs int
}

// NewStore creates the cache store and bootstraps the table group
func NewStore(ctx context.Context, db *sqlx.DB, tablePrefix string, defaultTTLHours int) (*Store, error) {
	s := &Store{
		db:            db,
		filesTable:    tablePrefix + "_files",
		configTable:   tablePrefix + "_config",
		schemaTable:   tablePrefix + "_schema_version",
		defaultTTLHrs: defaultTTLHours,
	}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	file_id           UUID PRIMARY KEY,
	original_filename TEXT NOT NULL,
	storage_filename  TEXT NOT NULL,
	storage_path      TEXT NOT NULL,
	size_bytes        BIGINT NOT NULL,
	mime_type         TEXT,
	sha256_hash       TEXT NOT NULL,
	md5_hash          TEXT,
	description       TEXT,
	tags              JSONB NOT NULL DEFAULT '[]',
	tags_text         TEXT NOT NULL DEFAULT '',
	uploaded_by       TEXT NOT NULL,
	uploaded_at       TIMESTAMPTZ NOT NULL,
	retention_days    INTEGER NOT NULL,
	expires_at        TIMESTAMPTZ NOT NULL,
	version           INTEGER NOT NULL,
	schema_version    TEXT NOT NULL,
	custom            JSONB,
	signature         JSONB,
	committed_at      TIMESTAMPTZ NOT NULL,
	cache_updated_at  TIMESTAMPTZ NOT NULL,
	cache_ttl_hours   INTEGER NOT NULL,
	search_vector     TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('english',
			coalesce(original_filename, '') || ' ' ||
			coalesce(description, '') || ' ' ||
			coalesce(tags_text, ''))
	) STORED
);
CREATE INDEX IF NOT EXISTS %[1]s_uploaded_at_idx ON %[1]s (uploaded_at DESC);
CREATE INDEX IF NOT EXISTS %[1]s_uploaded_by_idx ON %[1]s (uploaded_by);
CREATE INDEX IF NOT EXISTS %[1]s_expires_at_idx ON %[1]s (expires_at);
CREATE INDEX IF NOT EXISTS %[1]s_tags_idx ON %[1]s USING GIN (tags);
CREATE INDEX IF NOT EXISTS %[1]s_search_idx ON %[1]s USING GIN (search_vector);
CREATE TABLE IF NOT EXISTS %[2]s (
	element_id           TEXT PRIMARY KEY,
	mode                 TEXT NOT NULL,
	storage_type         TEXT NOT NULL,
	capacity_total_bytes BIGINT NOT NULL,
	retention_days       INTEGER NOT NULL,
	priority             INTEGER NOT NULL,
	endpoint             TEXT NOT NULL DEFAULT '',
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[3]s (
	version    INTEGER PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL
);
INSERT INTO %[3]s (version, applied_at) VALUES (%[4]d, now())
ON CONFLICT (version) DO NOTHING;
`, s.filesTable, s.configTable, s.schemaTable, schemaVersion)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to bootstrap cache tables: %w", err)
	}
	return nil
}

type fileRow struct {
	FileID           string         `db:"file_id"`
	OriginalFilename string         `db:"original_filename"`
	StorageFilename  string         `db:"storage_filename"`
	StoragePath      string         `db:"storage_path"`
	SizeBytes        int64          `db:"size_bytes"`
	MimeType         sql.NullString `db:"mime_type"`
	SHA256Hash       string         `db:"sha256_hash"`
	MD5Hash          sql.NullString `db:"md5_hash"`
	Description      sql.NullString `db:"description"`
	Tags             []byte         `db:"tags"`
	TagsText         string         `db:"tags_text"`
	UploadedBy       string         `db:"uploaded_by"`
	UploadedAt       time.Time      `db:"uploaded_at"`
	RetentionDays    int            `db:"retention_days"`
	ExpiresAt        time.Time      `db:"expires_at"`
	Version          int            `db:"version"`
	SchemaVersion    string         `db:"schema_version"`
	Custom           []byte         `db:"custom"`
	Signature        []byte         `db:"signature"`
	CommittedAt      time.Time      `db:"committed_at"`
	CacheUpdatedAt   time.Time      `db:"cache_updated_at"`
	CacheTTLHours    int            `db:"cache_ttl_hours"`
}

const fileColumns = `file_id, original_filename, storage_filename, storage_path, size_bytes,
	mime_type, sha256_hash, md5_hash, description, tags, tags_text, uploaded_by, uploaded_at,
	retention_days, expires_at, version, schema_version, custom, signature,
	committed_at, cache_updated_at, cache_ttl_hours`

func (r *fileRow) toCacheRow() (*types.CacheRow, error) {
	row := &types.CacheRow{
		FileAttributes: types.FileAttributes{
			FileID:           r.FileID,
			OriginalFilename: r.OriginalFilename,
			StorageFilename:  r.StorageFilename,
			StoragePath:      r.StoragePath,
			SizeBytes:        r.SizeBytes,
			SHA256Hash:       r.SHA256Hash,
			UploadedBy:       r.UploadedBy,
			UploadedAt:       r.UploadedAt.UTC(),
			RetentionDays:    r.RetentionDays,
			ExpiresAt:        r.ExpiresAt.UTC(),
			Version:          r.Version,
			SchemaVersion:    r.SchemaVersion,
		},
		CacheUpdatedAt: r.CacheUpdatedAt.UTC(),
		CacheTTLHours:  r.CacheTTLHours,
	}
	if r.MimeType.Valid {
		row.MimeType = r.MimeType.String
	}
	if r.MD5Hash.Valid {
		row.MD5Hash = r.MD5Hash.String
	}
	if r.Description.Valid {
		row.Description = r.Description.String
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &row.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if len(r.Custom) > 0 {
		if err := json.Unmarshal(r.Custom, &row.Custom); err != nil {
			return nil, fmt.Errorf("failed to decode custom attributes: %w", err)
		}
	}
	if len(r.Signature) > 0 {
		if err := json.Unmarshal(r.Signature, &row.Signature); err != nil {
			return nil, fmt.Errorf("failed to decode signature: %w", err)
		}
	}
	return row, nil
}

// Upsert materializes a sidecar into the cache. Writes follow a
// last-writer-wins policy keyed by committedAt: a stale write is dropped
// without error.
func (s *Store) Upsert(ctx context.Context, attrs *types.FileAttributes, committedAt time.Time, ttlHours int) error {
	if ttlHours <= 0 {
		ttlHours = s.defaultTTLHrs
	}
	tagsJSON, err := json.Marshal(attrs.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	customJSON, err := json.Marshal(attrs.Custom)
	if err != nil {
		return fmt.Errorf("failed to encode custom attributes: %w", err)
	}
	var sigJSON []byte
	if attrs.Signature != nil {
		if sigJSON, err = json.Marshal(attrs.Signature); err != nil {
			return fmt.Errorf("failed to encode signature: %w", err)
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %[1]s (%[2]s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
ON CONFLICT (file_id) DO UPDATE SET
	original_filename = EXCLUDED.original_filename,
	storage_filename  = EXCLUDED.storage_filename,
	storage_path      = EXCLUDED.storage_path,
	size_bytes        = EXCLUDED.size_bytes,
	mime_type         = EXCLUDED.mime_type,
	sha256_hash       = EXCLUDED.sha256_hash,
	md5_hash          = EXCLUDED.md5_hash,
	description       = EXCLUDED.description,
	tags              = EXCLUDED.tags,
	tags_text         = EXCLUDED.tags_text,
	uploaded_by       = EXCLUDED.uploaded_by,
	uploaded_at       = EXCLUDED.uploaded_at,
	retention_days    = EXCLUDED.retention_days,
	expires_at        = EXCLUDED.expires_at,
	version           = EXCLUDED.version,
	schema_version    = EXCLUDED.schema_version,
	custom            = EXCLUDED.custom,
	signature         = EXCLUDED.signature,
	committed_at      = EXCLUDED.committed_at,
	cache_updated_at  = EXCLUDED.cache_updated_at,
	cache_ttl_hours   = EXCLUDED.cache_ttl_hours
WHERE %[1]s.committed_at <= EXCLUDED.committed_at`, s.filesTable, fileColumns)

	_, err = s.db.ExecContext(ctx, query,
		attrs.FileID, attrs.OriginalFilename, attrs.StorageFilename, attrs.StoragePath,
		attrs.SizeBytes, nullString(attrs.MimeType), attrs.SHA256Hash, nullString(attrs.MD5Hash),
		nullString(attrs.Description), tagsJSON, strings.Join(attrs.Tags, " "),
		attrs.UploadedBy, attrs.UploadedAt.UTC(), attrs.RetentionDays, attrs.ExpiresAt.UTC(),
		attrs.Version, attrs.SchemaVersion, customJSON, sigJSON,
		committedAt.UTC(), time.Now().UTC(), ttlHours,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache row: %w", err)
	}
	return nil
}

// Get returns the cache row for a file id
func (s *Store) Get(ctx context.Context, fileID string) (*types.CacheRow, error) {
	var r fileRow
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE file_id = $1`, fileColumns, s.filesTable)
	if err := s.db.GetContext(ctx, &r, query, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "no cache row for file %s", fileID)
		}
		return nil, fmt.Errorf("failed to load cache row: %w", err)
	}
	return r.toCacheRow()
}

// Delete removes the cache row for a file id; missing rows are not an error
func (s *Store) Delete(ctx context.Context, fileID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE file_id = $1`, s.filesTable)
	if _, err := s.db.ExecContext(ctx, query, fileID); err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}

// Truncate empties the files table; the full rebuild runs this first
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, s.filesTable)); err != nil {
		return fmt.Errorf("failed to truncate cache: %w", err)
	}
	return nil
}

// Count returns the number of cache rows
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT count(*) FROM %s`, s.filesTable)); err != nil {
		return 0, fmt.Errorf("failed to count cache rows: %w", err)
	}
	return n, nil
}

// ListFileIDs returns every cached file id
func (s *Store) ListFileIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, fmt.Sprintf(`SELECT file_id FROM %s`, s.filesTable)); err != nil {
		return nil, fmt.Errorf("failed to list cache file ids: %w", err)
	}
	return ids, nil
}

// ListExpired returns ids of rows past their TTL, up to limit
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	query := fmt.Sprintf(`
SELECT file_id FROM %s
WHERE cache_updated_at + make_interval(hours => cache_ttl_hours) < $1
LIMIT $2`, s.filesTable)
	if err := s.db.SelectContext(ctx, &ids, query, now.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to list expired cache rows: %w", err)
	}
	return ids, nil
}

// DeleteExpired removes rows past their TTL and returns how many
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE cache_updated_at + make_interval(hours => cache_ttl_hours) < $1`, s.filesTable)
	res, err := s.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
