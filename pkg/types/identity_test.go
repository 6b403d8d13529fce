package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalHasScope(t *testing.T) {
	user := &Principal{
		Type:   PrincipalServiceAccount,
		Role:   string(SARoleUser),
		Scopes: []string{"file:create", "file:read"},
	}
	assert.True(t, user.HasScope("file:read"))
	assert.False(t, user.HasScope("file:delete"))

	// ADMIN service accounts implicitly carry every scope.
	admin := &Principal{Type: PrincipalServiceAccount, Role: string(SARoleAdmin)}
	assert.True(t, admin.HasScope("file:delete"))
	assert.True(t, admin.IsServiceAdmin())

	// An admin user with the admin role is not a service admin.
	human := &Principal{Type: PrincipalAdminUser, Role: "ADMIN"}
	assert.False(t, human.IsServiceAdmin())
}

func TestAdminUserCanLogin(t *testing.T) {
	now := time.Now()
	future := now.Add(10 * time.Minute)
	past := now.Add(-10 * time.Minute)

	u := &AdminUser{Enabled: true}
	assert.True(t, u.CanLogin(now))

	u = &AdminUser{Enabled: false}
	assert.False(t, u.CanLogin(now))

	u = &AdminUser{Enabled: true, LockedUntil: &future}
	assert.False(t, u.CanLogin(now))

	u = &AdminUser{Enabled: true, LockedUntil: &past}
	assert.True(t, u.CanLogin(now))
}

func TestServiceAccountCanAuthenticate(t *testing.T) {
	now := time.Now()

	sa := &ServiceAccount{Status: SAStatusActive, SecretExpiresAt: now.Add(time.Hour)}
	assert.True(t, sa.CanAuthenticate(now))

	sa = &ServiceAccount{Status: SAStatusActive, SecretExpiresAt: now.Add(-time.Hour)}
	assert.False(t, sa.CanAuthenticate(now))

	sa = &ServiceAccount{Status: SAStatusSuspended, SecretExpiresAt: now.Add(time.Hour)}
	assert.False(t, sa.CanAuthenticate(now))
}
