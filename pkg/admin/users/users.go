package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

const (
	bcryptCost           = 12
	maxFailedLogins      = 5
	failureWindow        = 15 * time.Minute
	lockoutDuration      = 15 * time.Minute
	passwordHistoryDepth = 5
	minPasswordLength    = 12
)

// Service manages admin users
type Service struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// NewService creates an admin-user service
func NewService(db *sqlx.DB) *Service {
	return &Service{db: db, logger: log.WithComponent("users")}
}

func validRole(r types.AdminRole) bool {
	switch r {
	case types.AdminRoleSuperAdmin, types.AdminRoleAdmin, types.AdminRoleReadonly:
		return true
	}
	return false
}

// CreateInput is the admin-facing create request
type CreateInput struct {
	Username string          `json:"username" validate:"required,min=3,max=64"`
	Email    string          `json:"email" validate:"required,email"`
	Password string          `json:"password" validate:"required,min=12"`
	Role     types.AdminRole `json:"role" validate:"required"`
	IsSystem bool            `json:"is_system"`
}

// Create registers an admin user
func (s *Service) Create(ctx context.Context, in CreateInput) (*types.AdminUser, error) {
	if in.Username == "" || in.Email == "" {
		return nil, errdefs.New(errdefs.KindValidation, "username and email are required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, errdefs.Newf(errdefs.KindValidation, "password must be at least %d characters", minPasswordLength)
	}
	if !validRole(in.Role) {
		return nil, errdefs.Newf(errdefs.KindValidation, "invalid role %q", in.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &types.AdminUser{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		Enabled:      true,
		IsSystem:     in.IsSystem,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO admin_users (id, username, email, password_hash, role, enabled, is_system, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role,
		user.Enabled, user.IsSystem, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errdefs.Newf(errdefs.KindValidation, "username or email already taken")
		}
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}

	s.logger.Info().Str("username", user.Username).Str("role", string(user.Role)).Msg("admin user created")
	return user, nil
}

// Authenticate verifies a username/password pair, driving the lockout
// state machine. Five failures inside the window lock the account for
// fifteen minutes; a success resets the counter.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*types.AdminUser, error) {
	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return nil, errdefs.New(errdefs.KindTokenInvalid, "invalid credentials")
		}
		return nil, err
	}

	now := time.Now().UTC()
	if !user.Enabled {
		return nil, errdefs.New(errdefs.KindForbidden, "account is disabled")
	}
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		return nil, errdefs.Newf(errdefs.KindAccountLocked, "account locked until %s",
			user.LockedUntil.UTC().Format(time.RFC3339))
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		if err := s.recordFailure(ctx, user, now); err != nil {
			s.logger.Warn().Err(err).Str("username", username).Msg("failed to record login failure")
		}
		return nil, errdefs.New(errdefs.KindTokenInvalid, "invalid credentials")
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE admin_users
SET failed_login_count = 0, first_failed_at = NULL, locked_until = NULL,
    last_login_at = $1, updated_at = $1
WHERE id = $2`, now, user.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("username", username).Msg("failed to record login success")
	}
	user.FailedLoginCount = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now
	return user, nil
}

// recordFailure advances the lockout counter. The window restarts when
// the previous failure streak began more than failureWindow ago.
func (s *Service) recordFailure(ctx context.Context, user *types.AdminUser, now time.Time) error {
	count := user.FailedLoginCount + 1
	firstFailed := user.FirstFailedAt
	if firstFailed == nil || now.Sub(*firstFailed) > failureWindow {
		count = 1
		firstFailed = &now
	}

	var lockedUntil *time.Time
	if count >= maxFailedLogins {
		t := now.Add(lockoutDuration)
		lockedUntil = &t
		s.logger.Warn().Str("username", user.Username).Time("locked_until", t).Msg("admin account locked")
	}

	_, err := s.db.ExecContext(ctx, `
UPDATE admin_users
SET failed_login_count = $1, first_failed_at = $2, locked_until = $3, updated_at = $4
WHERE id = $5`, count, firstFailed, lockedUntil, now, user.ID)
	if err != nil {
		return fmt.Errorf("failed to record login failure: %w", err)
	}
	return nil
}

// ChangePassword verifies the current password and sets a new one that
// must not repeat any of the last five.
func (s *Service) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return errdefs.New(errdefs.KindTokenInvalid, "current password is incorrect")
	}
	return s.setPassword(ctx, user, newPassword)
}

// ResetPassword sets a new password without the current one; super admin
// endpoints use this.
func (s *Service) ResetPassword(ctx context.Context, id, newPassword string) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, user, newPassword)
}

func (s *Service) setPassword(ctx context.Context, user *types.AdminUser, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return errdefs.Newf(errdefs.KindValidation, "password must be at least %d characters", minPasswordLength)
	}

	history, err := s.recentPasswordHashes(ctx, user.ID)
	if err != nil {
		return err
	}
	// bcrypt comparison is constant-time; every retained hash is checked
	// even after a match so timing does not reveal which one matched.
	reused := false
	for _, h := range append(history, user.PasswordHash) {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(newPassword)) == nil {
			reused = true
		}
	}
	if reused {
		return errdefs.New(errdefs.KindValidation, "password matches one of the last five")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin password change: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO admin_password_history (user_id, password_hash, created_at)
VALUES ($1, $2, $3)`, user.ID, user.PasswordHash, now); err != nil {
		return fmt.Errorf("failed to record password history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM admin_password_history
WHERE user_id = $1 AND id NOT IN (
	SELECT id FROM admin_password_history
	WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2)`,
		user.ID, passwordHistoryDepth); err != nil {
		return fmt.Errorf("failed to trim password history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE admin_users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		string(hash), now, user.ID); err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit password change: %w", err)
	}

	s.logger.Info().Str("username", user.Username).Msg("admin password changed")
	return nil
}

func (s *Service) recentPasswordHashes(ctx context.Context, id string) ([]string, error) {
	var hashes []string
	err := s.db.SelectContext(ctx, &hashes, `
SELECT password_hash FROM admin_password_history
WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, id, passwordHistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to load password history: %w", err)
	}
	return hashes, nil
}

// UpdateRole changes a user's role. System accounts must stay super_admin.
func (s *Service) UpdateRole(ctx context.Context, id string, role types.AdminRole) (*types.AdminUser, error) {
	if !validRole(role) {
		return nil, errdefs.Newf(errdefs.KindValidation, "invalid role %q", role)
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsSystem && role != types.AdminRoleSuperAdmin {
		return nil, errdefs.New(errdefs.KindForbidden, "system accounts must remain super_admin")
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE admin_users SET role = $1, updated_at = $2 WHERE id = $3`,
		role, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	user.Role = role
	return user, nil
}

// SetEnabled flips the enabled flag
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE admin_users SET enabled = $1, updated_at = $2 WHERE id = $3`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update enabled flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.Newf(errdefs.KindNotFound, "admin user %s not found", id)
	}
	return nil
}

// Delete removes a user. System accounts cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if user.IsSystem {
		return errdefs.New(errdefs.KindForbidden, "system accounts cannot be deleted")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM admin_users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete admin user: %w", err)
	}
	return nil
}

// Get returns one user by id
func (s *Service) Get(ctx context.Context, id string) (*types.AdminUser, error) {
	var user types.AdminUser
	err := s.db.GetContext(ctx, &user, `SELECT * FROM admin_users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "admin user %s not found", id)
		}
		return nil, fmt.Errorf("failed to load admin user: %w", err)
	}
	return &user, nil
}

// GetByUsername returns one user by case-insensitive username
func (s *Service) GetByUsername(ctx context.Context, username string) (*types.AdminUser, error) {
	var user types.AdminUser
	err := s.db.GetContext(ctx, &user,
		`SELECT * FROM admin_users WHERE lower(username) = lower($1)`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "admin user %q not found", username)
		}
		return nil, fmt.Errorf("failed to load admin user: %w", err)
	}
	return &user, nil
}

// List returns all users
func (s *Service) List(ctx context.Context) ([]*types.AdminUser, error) {
	var out []*types.AdminUser
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM admin_users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin users: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
