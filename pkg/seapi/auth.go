package seapi

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/types"
)

// tokenClaims is the claim set issued by the admin token service
type tokenClaims struct {
	jwt.RegisteredClaims
	Type      string `json:"type"`
	Role      string `json:"role"`
	ClientID  string `json:"client_id,omitempty"`
	Name      string `json:"name,omitempty"`
	RateLimit int    `json:"rate_limit,omitempty"`
	TokenUse  string `json:"token_use"`
}

// keyRefreshInterval is how often the verifier re-fetches the admin key set
const keyRefreshInterval = 5 * time.Minute

type verifierKey struct {
	key       *rsa.PublicKey
	createdAt time.Time
}

// Verifier validates bearer tokens against the admin RS256 key set. Keys
// are fetched from the admin /jwt-keys/active endpoint and refreshed
// periodically; a local PEM file serves as fallback when the admin is
// unreachable or unconfigured.
type Verifier struct {
	adminBaseURL string
	keyFilePath  string
	httpClient   *http.Client

	mu        sync.RWMutex
	keys      []verifierKey
	fetchedAt time.Time
}

// NewVerifier creates a token verifier. Either source may be empty; with
// both empty every token is rejected.
func NewVerifier(adminBaseURL, keyFilePath string) *Verifier {
	return &Verifier{
		adminBaseURL: strings.TrimRight(adminBaseURL, "/"),
		keyFilePath:  keyFilePath,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify parses and validates a bearer token, trying keys newest first
func (v *Verifier) Verify(ctx context.Context, token string) (*types.Principal, error) {
	keys := v.activeKeys(ctx)
	if len(keys) == 0 {
		return nil, errdefs.New(errdefs.KindTokenInvalid, "no validation keys available")
	}

	var lastErr error
	for _, k := range keys {
		claims := &tokenClaims{}
		_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return k.key, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		if err != nil {
			lastErr = err
			continue
		}
		return principalFromClaims(claims)
	}

	if errors.Is(lastErr, jwt.ErrTokenExpired) {
		return nil, errdefs.Wrap(errdefs.KindTokenExpired, "token expired", lastErr)
	}
	return nil, errdefs.Wrap(errdefs.KindTokenInvalid, "token validation failed", lastErr)
}

func principalFromClaims(claims *tokenClaims) (*types.Principal, error) {
	if claims.Type == "" {
		return nil, errdefs.New(errdefs.KindTokenInvalid, "token missing type claim")
	}
	if claims.TokenUse != "" && claims.TokenUse != "access" {
		return nil, errdefs.New(errdefs.KindTokenInvalid, "refresh tokens are not accepted here")
	}
	pt := types.PrincipalType(claims.Type)
	if pt != types.PrincipalServiceAccount && pt != types.PrincipalAdminUser {
		return nil, errdefs.Newf(errdefs.KindTokenInvalid, "unknown principal type %q", claims.Type)
	}
	return &types.Principal{
		Subject:   claims.Subject,
		Type:      pt,
		Role:      claims.Role,
		ClientID:  claims.ClientID,
		Name:      claims.Name,
		RateLimit: claims.RateLimit,
		Scopes:    scopesForRole(pt, claims.Role),
	}, nil
}

// scopesForRole maps a principal role to file scopes. ADMIN service
// accounts and super_admin/admin users hold every scope implicitly.
func scopesForRole(pt types.PrincipalType, role string) []string {
	if pt == types.PrincipalServiceAccount {
		switch types.ServiceAccountRole(role) {
		case types.SARoleAdmin, types.SARoleUser:
			return []string{"file:create", "file:read", "file:update", "file:delete"}
		case types.SARoleAuditor, types.SARoleReadonly:
			return []string{"file:read"}
		}
		return nil
	}
	switch types.AdminRole(role) {
	case types.AdminRoleSuperAdmin, types.AdminRoleAdmin:
		return []string{"file:create", "file:read", "file:update", "file:delete"}
	case types.AdminRoleReadonly:
		return []string{"file:read"}
	}
	return nil
}

// activeKeys returns the current key set, refreshing when stale
func (v *Verifier) activeKeys(ctx context.Context) []verifierKey {
	v.mu.RLock()
	fresh := time.Since(v.fetchedAt) < keyRefreshInterval && len(v.keys) > 0
	keys := v.keys
	v.mu.RUnlock()
	if fresh {
		return keys
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if time.Since(v.fetchedAt) < keyRefreshInterval && len(v.keys) > 0 {
		return v.keys
	}

	loaded, err := v.fetchAdminKeys(ctx)
	if err != nil || len(loaded) == 0 {
		if err != nil {
			logger := log.WithComponent("seapi")
			logger.Warn().Err(err).Msg("admin key fetch failed, trying file fallback")
		}
		loaded = v.loadFileKey()
	}
	if len(loaded) > 0 {
		sort.Slice(loaded, func(i, j int) bool {
			return loaded[i].createdAt.After(loaded[j].createdAt)
		})
		v.keys = loaded
		v.fetchedAt = time.Now()
	}
	return v.keys
}

func (v *Verifier) fetchAdminKeys(ctx context.Context) ([]verifierKey, error) {
	if v.adminBaseURL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.adminBaseURL+"/api/v1/jwt-keys/active", nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin key endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Version      string    `json:"version"`
			PublicKeyPEM string    `json:"public_key_pem"`
			CreatedAt    time.Time `json:"created_at"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode admin key payload: %w", err)
	}

	keys := make([]verifierKey, 0, len(payload.Keys))
	for _, k := range payload.Keys {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(k.PublicKeyPEM))
		if err != nil {
			logger := log.WithComponent("seapi")
			logger.Warn().Err(err).Str("version", k.Version).Msg("skipping unparsable public key")
			continue
		}
		keys = append(keys, verifierKey{key: pub, createdAt: k.CreatedAt})
	}
	return keys, nil
}

func (v *Verifier) loadFileKey() []verifierKey {
	if v.keyFilePath == "" {
		return nil
	}
	data, err := os.ReadFile(v.keyFilePath)
	if err != nil {
		logger := log.WithComponent("seapi")
		logger.Error().Err(err).Str("path", v.keyFilePath).Msg("failed to read fallback public key")
		return nil
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		logger := log.WithComponent("seapi")
		logger.Error().Err(err).Str("path", v.keyFilePath).Msg("failed to parse fallback public key")
		return nil
	}
	return []verifierKey{{key: pub, createdAt: time.Now()}}
}
