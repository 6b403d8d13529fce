package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/artstore/pkg/types"
)

func TestRoleRank(t *testing.T) {
	assert.Equal(t, 3, roleRank(types.AdminRoleSuperAdmin))
	assert.Equal(t, 2, roleRank(types.AdminRoleAdmin))
	assert.Equal(t, 1, roleRank(types.AdminRoleReadonly))
	assert.Equal(t, 0, roleRank(types.AdminRole("operator")))
	assert.Equal(t, 0, roleRank(types.AdminRole("")))

	// Rank ordering is what the route guards rely on.
	assert.Greater(t, roleRank(types.AdminRoleSuperAdmin), roleRank(types.AdminRoleAdmin))
	assert.Greater(t, roleRank(types.AdminRoleAdmin), roleRank(types.AdminRoleReadonly))
}
