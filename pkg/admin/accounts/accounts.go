package accounts

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/types"
)

// SecretLifetime is how long a client secret stays valid
const SecretLifetime = 90 * 24 * time.Hour

// secretHistoryDepth is how many prior secrets a rotation may not repeat
const secretHistoryDepth = 5

const bcryptCost = 12

// Service manages service accounts
type Service struct {
	db          *sqlx.DB
	environment string
	logger      zerolog.Logger
}

// NewService creates a service-account service. The environment string
// becomes part of generated client ids.
func NewService(db *sqlx.DB, environment string) *Service {
	return &Service{
		db:          db,
		environment: environment,
		logger:      log.WithComponent("accounts"),
	}
}

// CreateInput is the admin-facing create request
type CreateInput struct {
	Name      string                   `json:"name" validate:"required,min=2,max=64"`
	Role      types.ServiceAccountRole `json:"role" validate:"required"`
	RateLimit int                      `json:"rate_limit"`
	IsSystem  bool                     `json:"is_system"`
	// Secret overrides the generated secret; used only for bootstrap
	// seeding from INITIAL_ACCOUNT_SECRET.
	Secret string `json:"-"`
}

// Created pairs the stored account with its one-time plaintext secret
type Created struct {
	Account      *types.ServiceAccount `json:"account"`
	ClientSecret string                `json:"client_secret"`
}

func validRole(r types.ServiceAccountRole) bool {
	switch r {
	case types.SARoleAdmin, types.SARoleUser, types.SARoleAuditor, types.SARoleReadonly:
		return true
	}
	return false
}

// Create registers a service account and returns the plaintext secret
// exactly once.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Created, error) {
	if in.Name == "" {
		return nil, errdefs.New(errdefs.KindValidation, "name is required")
	}
	if !validRole(in.Role) {
		return nil, errdefs.Newf(errdefs.KindValidation, "invalid role %q", in.Role)
	}
	if in.RateLimit <= 0 {
		in.RateLimit = 100
	}

	secret := in.Secret
	if secret == "" {
		var err error
		if secret, err = randomSecret(); err != nil {
			return nil, err
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}

	now := time.Now().UTC()
	account := &types.ServiceAccount{
		ID:               uuid.NewString(),
		Name:             in.Name,
		ClientID:         s.buildClientID(in.Name),
		ClientSecretHash: string(hash),
		Role:             in.Role,
		Status:           types.SAStatusActive,
		RateLimit:        in.RateLimit,
		SecretChangedAt:  now,
		SecretExpiresAt:  now.Add(SecretLifetime),
		IsSystem:         in.IsSystem,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO service_accounts (id, name, client_id, client_secret_hash, role, status,
	rate_limit, secret_changed_at, secret_expires_at, is_system, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		account.ID, account.Name, account.ClientID, account.ClientSecretHash,
		account.Role, account.Status, account.RateLimit,
		account.SecretChangedAt, account.SecretExpiresAt, account.IsSystem,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errdefs.Newf(errdefs.KindValidation, "service account %q already exists", in.Name)
		}
		return nil, fmt.Errorf("failed to create service account: %w", err)
	}

	s.logger.Info().Str("client_id", account.ClientID).Str("role", string(account.Role)).Msg("service account created")
	return &Created{Account: account, ClientSecret: secret}, nil
}

// buildClientID derives sa_<env>_<name>_<rand>
func (s *Service) buildClientID(name string) string {
	clean := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	return fmt.Sprintf("sa_%s_%s_%s", s.environment, clean, uuid.NewString()[:8])
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Authenticate checks client credentials. The account must be ACTIVE with
// an unexpired secret; an account whose secret lapsed is flipped to
// EXPIRED on the way out.
func (s *Service) Authenticate(ctx context.Context, clientID, clientSecret string) (*types.ServiceAccount, error) {
	account, err := s.GetByClientID(ctx, clientID)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return nil, errdefs.New(errdefs.KindTokenInvalid, "invalid client credentials")
		}
		return nil, err
	}

	now := time.Now().UTC()
	if account.Status == types.SAStatusActive && !now.Before(account.SecretExpiresAt) {
		if err := s.setStatus(ctx, account.ID, types.SAStatusExpired); err != nil {
			s.logger.Warn().Err(err).Str("client_id", clientID).Msg("failed to mark account expired")
		}
		account.Status = types.SAStatusExpired
	}
	if !account.CanAuthenticate(now) {
		return nil, errdefs.Newf(errdefs.KindForbidden, "service account is %s", strings.ToLower(string(account.Status)))
	}

	if bcrypt.CompareHashAndPassword([]byte(account.ClientSecretHash), []byte(clientSecret)) != nil {
		return nil, errdefs.New(errdefs.KindTokenInvalid, "invalid client credentials")
	}
	return account, nil
}

// RotateSecret issues a fresh secret. The new secret must not match any
// of the last five; rotation reactivates an EXPIRED account.
func (s *Service) RotateSecret(ctx context.Context, id string) (*Created, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Status == types.SAStatusDeleted || account.Status == types.SAStatusSuspended {
		return nil, errdefs.Newf(errdefs.KindInvalidTransition,
			"cannot rotate secret of a %s account", strings.ToLower(string(account.Status)))
	}

	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	history, err := s.recentSecretHashes(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, h := range append(history, account.ClientSecretHash) {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(secret)) == nil {
			return nil, errdefs.New(errdefs.KindValidation, "generated secret repeats recent history")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin secret rotation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO service_account_secret_history (account_id, secret_hash, created_at)
VALUES ($1, $2, $3)`, id, account.ClientSecretHash, now); err != nil {
		return nil, fmt.Errorf("failed to record secret history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM service_account_secret_history
WHERE account_id = $1 AND id NOT IN (
	SELECT id FROM service_account_secret_history
	WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2)`,
		id, secretHistoryDepth); err != nil {
		return nil, fmt.Errorf("failed to trim secret history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE service_accounts
SET client_secret_hash = $1, status = $2, secret_changed_at = $3,
    secret_expires_at = $4, updated_at = $3
WHERE id = $5`,
		string(hash), types.SAStatusActive, now, now.Add(SecretLifetime), id); err != nil {
		return nil, fmt.Errorf("failed to rotate secret: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit secret rotation: %w", err)
	}

	account.ClientSecretHash = string(hash)
	account.Status = types.SAStatusActive
	account.SecretChangedAt = now
	account.SecretExpiresAt = now.Add(SecretLifetime)
	s.logger.Info().Str("client_id", account.ClientID).Msg("service account secret rotated")
	return &Created{Account: account, ClientSecret: secret}, nil
}

func (s *Service) recentSecretHashes(ctx context.Context, id string) ([]string, error) {
	var hashes []string
	err := s.db.SelectContext(ctx, &hashes, `
SELECT secret_hash FROM service_account_secret_history
WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, id, secretHistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to load secret history: %w", err)
	}
	return hashes, nil
}

// Suspend blocks authentication until a later reactivation
func (s *Service) Suspend(ctx context.Context, id string) error {
	account, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if account.Status != types.SAStatusActive && account.Status != types.SAStatusExpired {
		return errdefs.Newf(errdefs.KindInvalidTransition,
			"cannot suspend a %s account", strings.ToLower(string(account.Status)))
	}
	return s.setStatus(ctx, id, types.SAStatusSuspended)
}

// Reactivate returns a suspended account to ACTIVE
func (s *Service) Reactivate(ctx context.Context, id string) error {
	account, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if account.Status != types.SAStatusSuspended {
		return errdefs.Newf(errdefs.KindInvalidTransition,
			"cannot reactivate a %s account", strings.ToLower(string(account.Status)))
	}
	return s.setStatus(ctx, id, types.SAStatusActive)
}

// Delete soft-deletes an account. System accounts cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	account, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if account.IsSystem {
		return errdefs.New(errdefs.KindForbidden, "system accounts cannot be deleted")
	}
	return s.setStatus(ctx, id, types.SAStatusDeleted)
}

func (s *Service) setStatus(ctx context.Context, id string, status types.ServiceAccountStatus) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE service_accounts SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.Newf(errdefs.KindNotFound, "service account %s not found", id)
	}
	return nil
}

// Get returns one account by id
func (s *Service) Get(ctx context.Context, id string) (*types.ServiceAccount, error) {
	var account types.ServiceAccount
	err := s.db.GetContext(ctx, &account, `SELECT * FROM service_accounts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "service account %s not found", id)
		}
		return nil, fmt.Errorf("failed to load service account: %w", err)
	}
	return &account, nil
}

// GetByClientID returns one account by client id
func (s *Service) GetByClientID(ctx context.Context, clientID string) (*types.ServiceAccount, error) {
	var account types.ServiceAccount
	err := s.db.GetContext(ctx, &account, `SELECT * FROM service_accounts WHERE client_id = $1`, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "service account %s not found", clientID)
		}
		return nil, fmt.Errorf("failed to load service account: %w", err)
	}
	return &account, nil
}

// GetByName returns one account by its unique name
func (s *Service) GetByName(ctx context.Context, name string) (*types.ServiceAccount, error) {
	var account types.ServiceAccount
	err := s.db.GetContext(ctx, &account,
		`SELECT * FROM service_accounts WHERE lower(name) = lower($1)`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "service account %q not found", name)
		}
		return nil, fmt.Errorf("failed to load service account: %w", err)
	}
	return &account, nil
}

// List returns all non-deleted accounts
func (s *Service) List(ctx context.Context) ([]*types.ServiceAccount, error) {
	var accounts []*types.ServiceAccount
	err := s.db.SelectContext(ctx, &accounts,
		`SELECT * FROM service_accounts WHERE status != $1 ORDER BY created_at`, types.SAStatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list service accounts: %w", err)
	}
	return accounts, nil
}

// Update changes role and rate limit
func (s *Service) Update(ctx context.Context, id string, role types.ServiceAccountRole, rateLimit int) (*types.ServiceAccount, error) {
	if !validRole(role) {
		return nil, errdefs.Newf(errdefs.KindValidation, "invalid role %q", role)
	}
	if rateLimit <= 0 {
		return nil, errdefs.New(errdefs.KindValidation, "rate_limit must be positive")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE service_accounts SET role = $1, rate_limit = $2, updated_at = $3 WHERE id = $4`,
		role, rateLimit, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update service account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errdefs.Newf(errdefs.KindNotFound, "service account %s not found", id)
	}
	return s.Get(ctx, id)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
