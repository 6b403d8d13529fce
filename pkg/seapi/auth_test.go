package seapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

// keyEndpoint serves an admin-style /api/v1/jwt-keys/active payload for
// the given public keys.
func keyEndpoint(t *testing.T, pubs ...*rsa.PublicKey) *httptest.Server {
	t.Helper()
	type keyEntry struct {
		Version      string    `json:"version"`
		PublicKeyPEM string    `json:"public_key_pem"`
		CreatedAt    time.Time `json:"created_at"`
	}
	entries := make([]keyEntry, 0, len(pubs))
	for i, pub := range pubs {
		der, err := x509.MarshalPKIXPublicKey(pub)
		require.NoError(t, err)
		entries = append(entries, keyEntry{
			Version:      string(rune('a' + i)),
			PublicKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
			CreatedAt:    time.Now().Add(time.Duration(i) * time.Minute),
		})
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jwt-keys/active", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": entries})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims tokenClaims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerifierRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := keyEndpoint(t, &key.PublicKey)
	v := NewVerifier(srv.URL, "")

	token := signToken(t, key, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sa-1"},
		Type:             string(types.PrincipalServiceAccount),
		Role:             string(types.SARoleUser),
		ClientID:         "client-1",
		TokenUse:         "access",
	})

	principal, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "sa-1", principal.Subject)
	assert.Equal(t, types.PrincipalServiceAccount, principal.Type)
	assert.Equal(t, "client-1", principal.ClientID)
	assert.ElementsMatch(t,
		[]string{"file:create", "file:read", "file:update", "file:delete"},
		principal.Scopes)
}

func TestVerifierRejectsExpired(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := keyEndpoint(t, &key.PublicKey)
	v := NewVerifier(srv.URL, "")

	token := signToken(t, key, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sa-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Type:     string(types.PrincipalServiceAccount),
		Role:     string(types.SARoleUser),
		TokenUse: "access",
	})

	_, err = v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenExpired))
}

func TestVerifierRejectsRefreshTokens(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := keyEndpoint(t, &key.PublicKey)
	v := NewVerifier(srv.URL, "")

	token := signToken(t, key, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin"},
		Type:             string(types.PrincipalAdminUser),
		Role:             string(types.AdminRoleAdmin),
		TokenUse:         "refresh",
	})

	_, err = v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
}

func TestVerifierRejectsWrongKey(t *testing.T) {
	served, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := keyEndpoint(t, &served.PublicKey)
	v := NewVerifier(srv.URL, "")

	token := signToken(t, other, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sa-1"},
		Type:             string(types.PrincipalServiceAccount),
		Role:             string(types.SARoleUser),
		TokenUse:         "access",
	})

	_, err = v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
}

// Tokens signed with a previous key stay valid during rotation.
func TestVerifierTriesAllServedKeys(t *testing.T) {
	oldKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	newKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := keyEndpoint(t, &oldKey.PublicKey, &newKey.PublicKey)
	v := NewVerifier(srv.URL, "")

	token := signToken(t, oldKey, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sa-1"},
		Type:             string(types.PrincipalServiceAccount),
		Role:             string(types.SARoleReadonly),
		TokenUse:         "access",
	})

	principal, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, []string{"file:read"}, principal.Scopes)
}

func TestVerifierNoKeys(t *testing.T) {
	v := NewVerifier("", "")
	_, err := v.Verify(context.Background(), "whatever")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindTokenInvalid))
}

func TestScopesForRole(t *testing.T) {
	all := []string{"file:create", "file:read", "file:update", "file:delete"}
	tests := []struct {
		name string
		pt   types.PrincipalType
		role string
		want []string
	}{
		{"sa admin", types.PrincipalServiceAccount, string(types.SARoleAdmin), all},
		{"sa user", types.PrincipalServiceAccount, string(types.SARoleUser), all},
		{"sa auditor", types.PrincipalServiceAccount, string(types.SARoleAuditor), []string{"file:read"}},
		{"sa readonly", types.PrincipalServiceAccount, string(types.SARoleReadonly), []string{"file:read"}},
		{"sa unknown", types.PrincipalServiceAccount, "OPERATOR", nil},
		{"user super_admin", types.PrincipalAdminUser, string(types.AdminRoleSuperAdmin), all},
		{"user admin", types.PrincipalAdminUser, string(types.AdminRoleAdmin), all},
		{"user readonly", types.PrincipalAdminUser, string(types.AdminRoleReadonly), []string{"file:read"}},
		{"user unknown", types.PrincipalAdminUser, "owner", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scopesForRole(tt.pt, tt.role))
		})
	}
}
