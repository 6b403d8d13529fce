package users

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(sqlx.NewDb(db, "sqlmock")), mock
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

var userColumns = []string{
	"id", "username", "email", "password_hash", "role", "enabled",
	"failed_login_count", "first_failed_at", "locked_until", "last_login_at",
	"is_system", "created_at", "updated_at",
}

func userRow(u *types.AdminUser) *sqlmock.Rows {
	return sqlmock.NewRows(userColumns).AddRow(
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.Enabled,
		u.FailedLoginCount, u.FirstFailedAt, u.LockedUntil, u.LastLoginAt,
		u.IsSystem, u.CreatedAt, u.UpdatedAt,
	)
}

func testUser(t *testing.T, password string) *types.AdminUser {
	now := time.Now().UTC().Add(-24 * time.Hour)
	return &types.AdminUser{
		ID:           "u-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hashOf(t, password),
		Role:         types.AdminRoleAdmin,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// notNilTime matches any non-null time argument
type notNilTime struct{}

func (notNilTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

func TestAuthenticateSuccess(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")
	user.FailedLoginCount = 3

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))
	mock.ExpectExec("UPDATE admin_users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.Authenticate(context.Background(), "alice", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Zero(t, got.FailedLoginCount)
	assert.Nil(t, got.LockedUntil)
	require.NotNil(t, got.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))
	mock.ExpectExec("UPDATE admin_users").
		WithArgs(1, notNilTime{}, nil, notNilTime{}, "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.Authenticate(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The fifth failure inside the window locks the account
func TestAuthenticateFifthFailureLocks(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")
	user.FailedLoginCount = 4
	first := time.Now().UTC().Add(-5 * time.Minute)
	user.FirstFailedAt = &first

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))
	mock.ExpectExec("UPDATE admin_users").
		WithArgs(5, notNilTime{}, notNilTime{}, notNilTime{}, "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.Authenticate(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failure streak that started outside the window restarts the counter
// instead of locking.
func TestAuthenticateFailureWindowRestarts(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")
	user.FailedLoginCount = 4
	first := time.Now().UTC().Add(-16 * time.Minute)
	user.FirstFailedAt = &first

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))
	mock.ExpectExec("UPDATE admin_users").
		WithArgs(1, notNilTime{}, nil, notNilTime{}, "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.Authenticate(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A locked account is rejected before the password is even compared:
// the correct password still gets account_locked, and no counter update
// is issued.
func TestAuthenticateLockedRejectsCorrectPassword(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")
	until := time.Now().UTC().Add(10 * time.Minute)
	user.LockedUntil = &until
	user.FailedLoginCount = 5

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))

	_, err := s.Authenticate(context.Background(), "alice", "correct horse battery")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindAccountLocked))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An expired lock no longer blocks authentication
func TestAuthenticateLockExpired(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")
	until := time.Now().UTC().Add(-time.Minute)
	user.LockedUntil = &until
	user.FailedLoginCount = 5

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))
	mock.ExpectExec("UPDATE admin_users").WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.Authenticate(context.Background(), "alice", "correct horse battery")
	require.NoError(t, err)
	assert.Nil(t, got.LockedUntil)
}

func TestAuthenticateDisabled(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")
	user.Enabled = false

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))

	_, err := s.Authenticate(context.Background(), "alice", "correct horse battery")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindForbidden))
}

// Unknown usernames answer the same way as wrong passwords
func TestAuthenticateUnknownUser(t *testing.T) {
	s, mock := newTestService(t)
	mock.ExpectQuery("FROM admin_users").WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := s.Authenticate(context.Background(), "nobody", "whatever")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))

	err := s.ChangePassword(context.Background(), "u-1", "wrong", "a brand new password")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
}

// The new password may not repeat any of the last five
func TestChangePasswordRejectsRecentReuse(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))
	mock.ExpectQuery("FROM admin_password_history").
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).
			AddRow(hashOf(t, "an older password 1")).
			AddRow(hashOf(t, "an older password 2")))

	err := s.ChangePassword(context.Background(), "u-1", "correct horse battery", "an older password 2")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindValidation))
}

// Re-setting the current password counts as reuse too
func TestChangePasswordRejectsCurrentAsNew(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))
	mock.ExpectQuery("FROM admin_password_history").
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}))

	err := s.ChangePassword(context.Background(), "u-1", "correct horse battery", "correct horse battery")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindValidation))
}

func TestChangePasswordTooShort(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))

	err := s.ChangePassword(context.Background(), "u-1", "correct horse battery", "short")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindValidation))
}

// A valid change archives the old hash, trims history to five and swaps
// the stored hash in one transaction.
func TestChangePasswordSuccess(t *testing.T) {
	s, mock := newTestService(t)
	user := testUser(t, "correct horse battery")

	mock.ExpectQuery("FROM admin_users").WillReturnRows(userRow(user))
	mock.ExpectQuery("FROM admin_password_history").
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).
			AddRow(hashOf(t, "an older password 1")))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO admin_password_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM admin_password_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE admin_users SET password_hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.ChangePassword(context.Background(), "u-1", "correct horse battery", "a brand new password")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
