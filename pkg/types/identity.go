package types

import (
	"time"
)

// AdminRole is the role of a human administrator
type AdminRole string

const (
	AdminRoleSuperAdmin AdminRole = "super_admin"
	AdminRoleAdmin      AdminRole = "admin"
	AdminRoleReadonly   AdminRole = "readonly"
)

// AdminUser is a human identity authenticated by username and password
type AdminUser struct {
	ID               string     `json:"id" db:"id"`
	Username         string     `json:"username" db:"username"`
	Email            string     `json:"email" db:"email"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	Role             AdminRole  `json:"role" db:"role"`
	Enabled          bool       `json:"enabled" db:"enabled"`
	FailedLoginCount int        `json:"failed_login_count" db:"failed_login_count"`
	FirstFailedAt    *time.Time `json:"-" db:"first_failed_at"`
	LockedUntil      *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	IsSystem         bool       `json:"is_system" db:"is_system"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// CanLogin reports whether the account may attempt authentication now
func (u *AdminUser) CanLogin(now time.Time) bool {
	if !u.Enabled {
		return false
	}
	return u.LockedUntil == nil || now.After(*u.LockedUntil)
}

// ServiceAccountRole is the role of a machine identity
type ServiceAccountRole string

const (
	SARoleAdmin    ServiceAccountRole = "ADMIN"
	SARoleUser     ServiceAccountRole = "USER"
	SARoleAuditor  ServiceAccountRole = "AUDITOR"
	SARoleReadonly ServiceAccountRole = "READONLY"
)

// ServiceAccountStatus is the lifecycle state of a service account
type ServiceAccountStatus string

const (
	SAStatusActive    ServiceAccountStatus = "ACTIVE"
	SAStatusSuspended ServiceAccountStatus = "SUSPENDED"
	SAStatusExpired   ServiceAccountStatus = "EXPIRED"
	SAStatusDeleted   ServiceAccountStatus = "DELETED"
)

// ServiceAccount is a machine identity authenticated via OAuth2 client
// credentials.
type ServiceAccount struct {
	ID               string               `json:"id" db:"id"`
	Name             string               `json:"name" db:"name"`
	ClientID         string               `json:"client_id" db:"client_id"`
	ClientSecretHash string               `json:"-" db:"client_secret_hash"`
	Role             ServiceAccountRole   `json:"role" db:"role"`
	Status           ServiceAccountStatus `json:"status" db:"status"`
	RateLimit        int                  `json:"rate_limit" db:"rate_limit"`
	SecretChangedAt  time.Time            `json:"secret_changed_at" db:"secret_changed_at"`
	SecretExpiresAt  time.Time            `json:"secret_expires_at" db:"secret_expires_at"`
	IsSystem         bool                 `json:"is_system" db:"is_system"`
	CreatedAt        time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at" db:"updated_at"`
}

// CanAuthenticate reports whether client-credential authentication may
// succeed for this account at the given instant.
func (sa *ServiceAccount) CanAuthenticate(now time.Time) bool {
	return sa.Status == SAStatusActive && now.Before(sa.SecretExpiresAt)
}

// JWTKey is one version of the RS256 signing key set
type JWTKey struct {
	Version       string    `json:"version" db:"version"`
	Algorithm     string    `json:"algorithm" db:"algorithm"`
	PrivateKeyPEM string    `json:"-" db:"private_key_pem"`
	PublicKeyPEM  string    `json:"public_key_pem" db:"public_key_pem"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	IsPrimary     bool      `json:"is_primary" db:"is_primary"`
}

// PrincipalType discriminates token subjects
type PrincipalType string

const (
	PrincipalServiceAccount PrincipalType = "service_account"
	PrincipalAdminUser      PrincipalType = "admin_user"
)

// Principal is the authenticated caller extracted from a bearer token and
// carried through request handling.
type Principal struct {
	Subject   string        `json:"sub"`
	Type      PrincipalType `json:"type"`
	Role      string        `json:"role"`
	ClientID  string        `json:"client_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	RateLimit int           `json:"rate_limit,omitempty"`
	Scopes    []string      `json:"scopes,omitempty"`
}

// HasScope reports whether the principal carries the named scope.
// Service accounts with role ADMIN implicitly hold every scope.
func (p *Principal) HasScope(scope string) bool {
	if p.IsServiceAdmin() {
		return true
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsServiceAdmin reports whether the principal is an ADMIN service account
func (p *Principal) IsServiceAdmin() bool {
	return p.Type == PrincipalServiceAccount && ServiceAccountRole(p.Role) == SARoleAdmin
}
