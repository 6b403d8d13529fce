package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cuemby/artstore/pkg/admin/keys"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/types"
)

// tokenUse discriminates access from refresh tokens
const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// Claims is the claim set of every ArtStore token
type Claims struct {
	jwt.RegisteredClaims
	Type      string `json:"type"`
	Role      string `json:"role"`
	ClientID  string `json:"client_id,omitempty"`
	Name      string `json:"name,omitempty"`
	RateLimit int    `json:"rate_limit,omitempty"`
	TokenUse  string `json:"token_use"`
}

// TokenPair is the OAuth2 token response shape
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenService signs and validates tokens against the rotating key set
type TokenService struct {
	cfg   *config.Admin
	store *keys.Store
}

// NewTokenService creates a token service
func NewTokenService(cfg *config.Admin, store *keys.Store) *TokenService {
	return &TokenService{cfg: cfg, store: store}
}

// IssueServiceAccountTokens mints an access/refresh pair for an already
// authenticated service account.
func (s *TokenService) IssueServiceAccountTokens(ctx context.Context, sa *types.ServiceAccount) (*TokenPair, error) {
	base := Claims{
		Type:      string(types.PrincipalServiceAccount),
		Role:      string(sa.Role),
		ClientID:  sa.ClientID,
		Name:      sa.Name,
		RateLimit: sa.RateLimit,
	}
	base.Subject = sa.ClientID
	pair, err := s.issuePair(ctx, base)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues(string(types.PrincipalServiceAccount)).Inc()
	return pair, nil
}

// IssueAdminUserTokens mints an access/refresh pair for an already
// authenticated admin user.
func (s *TokenService) IssueAdminUserTokens(ctx context.Context, user *types.AdminUser) (*TokenPair, error) {
	base := Claims{
		Type: string(types.PrincipalAdminUser),
		Role: string(user.Role),
		Name: user.Username,
	}
	base.Subject = user.Username
	pair, err := s.issuePair(ctx, base)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues(string(types.PrincipalAdminUser)).Inc()
	return pair, nil
}

// Refresh validates a refresh token and mints a fresh pair with the same
// identity claims.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.validate(ctx, refreshToken, useRefresh)
	if err != nil {
		return nil, err
	}
	base := *claims
	return s.issuePair(ctx, base)
}

// Validate checks an access token and returns the principal it carries
func (s *TokenService) Validate(ctx context.Context, token string) (*types.Principal, error) {
	claims, err := s.validate(ctx, token, useAccess)
	if err != nil {
		return nil, err
	}
	return &types.Principal{
		Subject:   claims.Subject,
		Type:      types.PrincipalType(claims.Type),
		Role:      claims.Role,
		ClientID:  claims.ClientID,
		Name:      claims.Name,
		RateLimit: claims.RateLimit,
	}, nil
}

func (s *TokenService) issuePair(ctx context.Context, base Claims) (*TokenPair, error) {
	primary, err := s.store.Primary(ctx)
	if err != nil {
		return nil, err
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(primary.PrivateKeyPEM))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternal, "failed to parse signing key", err)
	}

	now := time.Now().UTC()
	sign := func(use string, ttl time.Duration) (string, error) {
		claims := base
		claims.TokenUse = use
		claims.ID = uuid.NewString()
		claims.IssuedAt = jwt.NewNumericDate(now)
		claims.NotBefore = jwt.NewNumericDate(now.Add(-s.cfg.ClockSkew))
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = primary.Version
		return token.SignedString(priv)
	}

	access, err := sign(useAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternal, "failed to sign access token", err)
	}
	refresh, err := sign(useRefresh, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternal, "failed to sign refresh token", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// validate walks the validation key set newest first
func (s *TokenService) validate(ctx context.Context, token, expectedUse string) (*Claims, error) {
	grace := s.cfg.AccessTokenTTL + s.cfg.ClockSkew
	keySet, err := s.store.ListForValidation(ctx, time.Now(), grace)
	if err != nil {
		return nil, err
	}
	if len(keySet) == 0 {
		return nil, errdefs.New(errdefs.KindTokenInvalid, "no validation keys available")
	}

	var lastErr error
	for _, k := range keySet {
		pub, perr := jwt.ParseRSAPublicKeyFromPEM([]byte(k.PublicKeyPEM))
		if perr != nil {
			lastErr = perr
			continue
		}
		claims := &Claims{}
		_, perr = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return pub, nil
		}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithLeeway(s.cfg.ClockSkew))
		if perr != nil {
			lastErr = perr
			continue
		}
		if claims.Type == "" {
			return nil, errdefs.New(errdefs.KindTokenInvalid, "token missing type claim")
		}
		if claims.TokenUse != expectedUse {
			return nil, errdefs.Newf(errdefs.KindTokenInvalid, "expected %s token", expectedUse)
		}
		return claims, nil
	}

	if errors.Is(lastErr, jwt.ErrTokenExpired) {
		return nil, errdefs.Wrap(errdefs.KindTokenExpired, "token expired", lastErr)
	}
	return nil, errdefs.Wrap(errdefs.KindTokenInvalid, "token validation failed", lastErr)
}
