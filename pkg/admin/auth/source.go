package auth

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/artstore/pkg/admin/accounts"
)

// ServiceTokenSource mints access tokens for the admin's own system
// service account so background loops can call storage elements. Tokens
// are cached and reissued shortly before expiry.
type ServiceTokenSource struct {
	tokens   *TokenService
	accounts *accounts.Service
	name     string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewServiceTokenSource creates a token source for the named account
func NewServiceTokenSource(tokens *TokenService, accountSvc *accounts.Service, name string) *ServiceTokenSource {
	return &ServiceTokenSource{tokens: tokens, accounts: accountSvc, name: name}
}

// Token returns a cached access token, minting a fresh one when the
// cached token is within a minute of expiry.
func (s *ServiceTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiresAt.Add(-time.Minute)) {
		return s.token, nil
	}

	account, err := s.accounts.GetByName(ctx, s.name)
	if err != nil {
		return "", err
	}
	pair, err := s.tokens.IssueServiceAccountTokens(ctx, account)
	if err != nil {
		return "", err
	}
	s.token = pair.AccessToken
	s.expiresAt = time.Now().Add(time.Duration(pair.ExpiresIn) * time.Second)
	return s.token, nil
}
