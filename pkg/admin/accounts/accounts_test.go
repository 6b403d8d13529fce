package accounts

import (
	"context"
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
	return NewService(sqlx.NewDb(db, "sqlmock"), "test"), mock
}

func hashOf(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

var accountColumns = []string{
	"id", "name", "client_id", "client_secret_hash", "role", "status",
	"rate_limit", "secret_changed_at", "secret_expires_at", "is_system",
	"created_at", "updated_at",
}

func accountRow(a *types.ServiceAccount) *sqlmock.Rows {
	return sqlmock.NewRows(accountColumns).AddRow(
		a.ID, a.Name, a.ClientID, a.ClientSecretHash, a.Role, a.Status,
		a.RateLimit, a.SecretChangedAt, a.SecretExpiresAt, a.IsSystem,
		a.CreatedAt, a.UpdatedAt,
	)
}

func testAccount(t *testing.T, secret string) *types.ServiceAccount {
	now := time.Now().UTC()
	return &types.ServiceAccount{
		ID:               "sa-1",
		Name:             "backup-runner",
		ClientID:         "sa_test_backup-runner_ab12cd34",
		ClientSecretHash: hashOf(t, secret),
		Role:             types.SARoleUser,
		Status:           types.SAStatusActive,
		RateLimit:        250,
		SecretChangedAt:  now.Add(-time.Hour),
		SecretExpiresAt:  now.Add(SecretLifetime - time.Hour),
		CreatedAt:        now.Add(-time.Hour),
		UpdatedAt:        now.Add(-time.Hour),
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	s, mock := newTestService(t)
	account := testAccount(t, "s3cret-material")

	mock.ExpectQuery("FROM service_accounts").WillReturnRows(accountRow(account))

	got, err := s.Authenticate(context.Background(), account.ClientID, "s3cret-material")
	require.NoError(t, err)
	assert.Equal(t, account.ClientID, got.ClientID)
	assert.Equal(t, 250, got.RateLimit)
}

func TestAuthenticateWrongSecret(t *testing.T) {
	s, mock := newTestService(t)
	account := testAccount(t, "s3cret-material")

	mock.ExpectQuery("FROM service_accounts").WillReturnRows(accountRow(account))

	_, err := s.Authenticate(context.Background(), account.ClientID, "wrong")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
}

// Unknown client ids answer the same way as wrong secrets
func TestAuthenticateUnknownClient(t *testing.T) {
	s, mock := newTestService(t)
	mock.ExpectQuery("FROM service_accounts").WillReturnRows(sqlmock.NewRows(accountColumns))

	_, err := s.Authenticate(context.Background(), "sa_test_nobody_00000000", "whatever")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
}

// An active account whose secret lapsed is flipped to expired on the way
// out; even the correct secret no longer authenticates.
func TestAuthenticateLapsedSecretExpiresAccount(t *testing.T) {
	s, mock := newTestService(t)
	account := testAccount(t, "s3cret-material")
	account.SecretExpiresAt = time.Now().UTC().Add(-time.Minute)

	mock.ExpectQuery("FROM service_accounts").WillReturnRows(accountRow(account))
	mock.ExpectExec("UPDATE service_accounts SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.Authenticate(context.Background(), account.ClientID, "s3cret-material")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindForbidden))
	assert.Contains(t, err.Error(), "expired")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateSuspended(t *testing.T) {
	s, mock := newTestService(t)
	account := testAccount(t, "s3cret-material")
	account.Status = types.SAStatusSuspended

	mock.ExpectQuery("FROM service_accounts").WillReturnRows(accountRow(account))

	_, err := s.Authenticate(context.Background(), account.ClientID, "s3cret-material")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindForbidden))
	assert.Contains(t, err.Error(), "suspended")
}

// Rotation archives the old hash, trims history to five and installs the
// fresh secret with a new 90 day window, reactivating an expired account.
func TestRotateSecret(t *testing.T) {
	s, mock := newTestService(t)
	account := testAccount(t, "s3cret-material")
	account.Status = types.SAStatusExpired

	mock.ExpectQuery("FROM service_accounts").WillReturnRows(accountRow(account))
	mock.ExpectQuery("FROM service_account_secret_history").
		WillReturnRows(sqlmock.NewRows([]string{"secret_hash"}).
			AddRow(hashOf(t, "a-prior-secret")))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO service_account_secret_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM service_account_secret_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE service_accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := s.RotateSecret(context.Background(), "sa-1")
	require.NoError(t, err)
	assert.Len(t, created.ClientSecret, 64)
	assert.Equal(t, types.SAStatusActive, created.Account.Status)
	assert.WithinDuration(t, time.Now().UTC().Add(SecretLifetime), created.Account.SecretExpiresAt, time.Minute)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The returned plaintext verifies against the stored hash.
	assert.NoError(t, bcrypt.CompareHashAndPassword(
		[]byte(created.Account.ClientSecretHash), []byte(created.ClientSecret)))
}

func TestRotateSecretSuspended(t *testing.T) {
	s, mock := newTestService(t)
	account := testAccount(t, "s3cret-material")
	account.Status = types.SAStatusSuspended

	mock.ExpectQuery("FROM service_accounts").WillReturnRows(accountRow(account))

	_, err := s.RotateSecret(context.Background(), "sa-1")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidTransition))
}

func TestSuspendTransitions(t *testing.T) {
	s, mock := newTestService(t)
	account := testAccount(t, "s3cret-material")
	account.Status = types.SAStatusDeleted

	mock.ExpectQuery("FROM service_accounts").WillReturnRows(accountRow(account))

	err := s.Suspend(context.Background(), "sa-1")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidTransition))
}

func TestReactivateRequiresSuspended(t *testing.T) {
	s, mock := newTestService(t)
	account := testAccount(t, "s3cret-material")

	mock.ExpectQuery("FROM service_accounts").WillReturnRows(accountRow(account))

	err := s.Reactivate(context.Background(), "sa-1")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidTransition))
}
