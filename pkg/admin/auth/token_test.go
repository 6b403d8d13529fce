package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/admin/keys"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

func newTestTokenService(t *testing.T, cfg *config.Admin) (*TokenService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTokenService(cfg, keys.NewStore(sqlx.NewDb(db, "sqlmock"))), mock
}

func tokenConfig() *config.Admin {
	return &config.Admin{
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       time.Minute,
	}
}

func genKey(t *testing.T, version string) *types.JWTKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	now := time.Now().UTC()
	return &types.JWTKey{
		Version:       version,
		Algorithm:     "RS256",
		PrivateKeyPEM: string(privPEM),
		PublicKeyPEM:  string(pubPEM),
		CreatedAt:     now,
		ExpiresAt:     now.Add(48 * time.Hour),
		IsActive:      true,
		IsPrimary:     true,
	}
}

func keyRows(ks ...*types.JWTKey) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"version", "algorithm", "private_key_pem", "public_key_pem",
		"created_at", "expires_at", "is_active", "is_primary",
	})
	for _, k := range ks {
		rows.AddRow(k.Version, k.Algorithm, k.PrivateKeyPEM, k.PublicKeyPEM,
			k.CreatedAt, k.ExpiresAt, k.IsActive, k.IsPrimary)
	}
	return rows
}

func testServiceAccount() *types.ServiceAccount {
	return &types.ServiceAccount{
		ID:        "sa-1",
		Name:      "backup-runner",
		ClientID:  "sa_test_backup-runner_ab12cd34",
		Role:      types.SARoleUser,
		Status:    types.SAStatusActive,
		RateLimit: 250,
	}
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	svc, mock := newTestTokenService(t, tokenConfig())
	key := genKey(t, "v1")

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	pair, err := svc.IssueServiceAccountTokens(context.Background(), testServiceAccount())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int((30 * time.Minute).Seconds()), pair.ExpiresIn)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	principal, err := svc.Validate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "sa_test_backup-runner_ab12cd34", principal.Subject)
	assert.Equal(t, types.PrincipalServiceAccount, principal.Type)
	assert.Equal(t, string(types.SARoleUser), principal.Role)
	assert.Equal(t, 250, principal.RateLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// token_use discriminates the pair: a refresh token is not an access
// token and the other way round.
func TestTokenUseDiscrimination(t *testing.T) {
	svc, mock := newTestTokenService(t, tokenConfig())
	key := genKey(t, "v1")

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	pair, err := svc.IssueServiceAccountTokens(context.Background(), testServiceAccount())
	require.NoError(t, err)

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	_, err = svc.Validate(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	_, err = svc.Refresh(context.Background(), pair.AccessToken)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
}

// Tokens signed by a retired primary stay valid as long as the old key
// remains in the validation set; the walk tries newer keys first.
func TestValidateAcrossKeyRotation(t *testing.T) {
	svc, mock := newTestTokenService(t, tokenConfig())
	oldKey := genKey(t, "v1")
	newKey := genKey(t, "v2")
	newKey.CreatedAt = oldKey.CreatedAt.Add(time.Hour)

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(oldKey))
	pair, err := svc.IssueServiceAccountTokens(context.Background(), testServiceAccount())
	require.NoError(t, err)
	oldKey.IsPrimary = false

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(newKey, oldKey))
	principal, err := svc.Validate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "sa_test_backup-runner_ab12cd34", principal.Subject)
}

func TestValidateExpiredToken(t *testing.T) {
	cfg := tokenConfig()
	cfg.AccessTokenTTL = -2 * time.Hour
	cfg.ClockSkew = 0
	svc, mock := newTestTokenService(t, cfg)
	key := genKey(t, "v1")

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	pair, err := svc.IssueServiceAccountTokens(context.Background(), testServiceAccount())
	require.NoError(t, err)

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	_, err = svc.Validate(context.Background(), pair.AccessToken)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenExpired))
}

// Refresh keeps the identity claims while minting a fresh pair
func TestRefresh(t *testing.T) {
	svc, mock := newTestTokenService(t, tokenConfig())
	key := genKey(t, "v1")

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	pair, err := svc.IssueAdminUserTokens(context.Background(), &types.AdminUser{
		Username: "alice",
		Role:     types.AdminRoleAdmin,
	})
	require.NoError(t, err)

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	fresh, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, fresh.AccessToken)

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows(key))
	principal, err := svc.Validate(context.Background(), fresh.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Subject)
	assert.Equal(t, types.PrincipalAdminUser, principal.Type)
	assert.Equal(t, string(types.AdminRoleAdmin), principal.Role)
}

func TestValidateWithEmptyKeySet(t *testing.T) {
	svc, mock := newTestTokenService(t, tokenConfig())

	mock.ExpectQuery("FROM jwt_keys").WillReturnRows(keyRows())
	_, err := svc.Validate(context.Background(), "whatever")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
}
