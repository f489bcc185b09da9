package admin

import (
	"testing"

	"github.com/chessdao/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyToken(t *testing.T) {
	hash, err := HashToken("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, VerifyAdminToken(hash, "s3cret"))
	assert.False(t, VerifyAdminToken(hash, "wrong"))
	assert.False(t, VerifyAdminToken("not-a-hash", "s3cret"))
}

func TestHashTokenRejectsBlank(t *testing.T) {
	_, err := HashToken("   ")
	assert.Error(t, err)
}

func TestHasRole(t *testing.T) {
	acct := &models.AdminAccount{Name: "ops", Roles: []string{RoleOperator}}
	assert.True(t, HasRole(acct, RoleOperator))
	assert.False(t, HasRole(acct, RoleAuditor))
	assert.False(t, HasRole(nil, RoleOperator))
}
