package keys

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

// Store persists the signing key set in the jwt_keys table
type Store struct {
	db *sqlx.DB
}

// NewStore creates a key store over an already migrated database
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Insert persists a key and, when it is primary, demotes the previous
// primary in the same transaction.
func (s *Store) Insert(ctx context.Context, key *types.JWTKey) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin key insert: %w", err)
	}
	defer tx.Rollback()

	if key.IsPrimary {
		if _, err := tx.ExecContext(ctx, `UPDATE jwt_keys SET is_primary = FALSE WHERE is_primary`); err != nil {
			return fmt.Errorf("failed to demote primary key: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO jwt_keys (version, algorithm, private_key_pem, public_key_pem, created_at, expires_at, is_active, is_primary)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.Version, key.Algorithm, key.PrivateKeyPEM, key.PublicKeyPEM,
		key.CreatedAt.UTC(), key.ExpiresAt.UTC(), key.IsActive, key.IsPrimary)
	if err != nil {
		return fmt.Errorf("failed to insert key: %w", err)
	}
	return tx.Commit()
}

// Primary returns the current signing key
func (s *Store) Primary(ctx context.Context) (*types.JWTKey, error) {
	var key types.JWTKey
	err := s.db.GetContext(ctx, &key, `SELECT * FROM jwt_keys WHERE is_primary AND is_active`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.New(errdefs.KindNotFound, "no primary signing key")
		}
		return nil, fmt.Errorf("failed to load primary key: %w", err)
	}
	return &key, nil
}

// ListActive returns every active key, newest first. This is the token
// validation set.
func (s *Store) ListActive(ctx context.Context) ([]*types.JWTKey, error) {
	var keys []*types.JWTKey
	err := s.db.SelectContext(ctx, &keys,
		`SELECT * FROM jwt_keys WHERE is_active ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active keys: %w", err)
	}
	return keys, nil
}

// ListForValidation returns the token validation set, newest first:
// every active key plus keys whose expiry passed within the grace window,
// so tokens signed just before a rotation retirement stay verifiable.
func (s *Store) ListForValidation(ctx context.Context, now time.Time, grace time.Duration) ([]*types.JWTKey, error) {
	var keys []*types.JWTKey
	err := s.db.SelectContext(ctx, &keys, `
SELECT * FROM jwt_keys
WHERE is_active OR expires_at > $1
ORDER BY created_at DESC`, now.Add(-grace).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list validation keys: %w", err)
	}
	return keys, nil
}

// History returns all keys newest first, private material omitted
func (s *Store) History(ctx context.Context) ([]*types.JWTKey, error) {
	var keys []*types.JWTKey
	err := s.db.SelectContext(ctx, &keys, `
SELECT version, algorithm, '' AS private_key_pem, public_key_pem,
       created_at, expires_at, is_active, is_primary
FROM jwt_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load key history: %w", err)
	}
	return keys, nil
}

// DeactivateExpired flips expired keys to inactive; a key is kept in the
// validation set through a grace window past deactivation elsewhere, so
// here only expires_at matters. Returns how many keys were deactivated.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE jwt_keys SET is_active = FALSE
WHERE is_active AND NOT is_primary AND expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired keys: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteInactiveOlderThan physically removes retired keys past the safety
// window.
func (s *Store) DeleteInactiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM jwt_keys WHERE NOT is_active AND expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete retired keys: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns total and active key counts
func (s *Store) Count(ctx context.Context) (total, active int64, err error) {
	err = s.db.GetContext(ctx, &total, `SELECT count(*) FROM jwt_keys`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count keys: %w", err)
	}
	err = s.db.GetContext(ctx, &active, `SELECT count(*) FROM jwt_keys WHERE is_active`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count active keys: %w", err)
	}
	return total, active, nil
}
