package statelessauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/statelessauth/pkg/approach"
	"github.com/porthorian/statelessauth/pkg/authz"
)

func TestNewPrincipalNormalizesAuthorities(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	expires := now.Add(time.Hour)

	principal := newPrincipal(MethodToken, approach.Result{
		Subject:     "alice",
		Authorities: []string{"owner", "ROLE_OWNER", " ", "auditor"},
		Claims:      map[string]any{"sub": "alice"},
		ExpiresAt:   expires,
	}, now)

	assert.Equal(t, []string{authz.AuthorityOwner, "ROLE_AUDITOR"}, principal.Authorities)
	assert.Equal(t, authz.RoleOwner, principal.RoleMask)
	assert.True(t, principal.HasPermissions(authz.PermissionWrite|authz.PermissionDelete))
	assert.False(t, principal.HasPermissions(authz.PermissionAdmin))
	assert.True(t, principal.HasAuthority("auditor"))
	assert.False(t, principal.HasAuthority("user"))
	assert.Equal(t, now, principal.AuthenticatedAt)
	assert.Equal(t, expires, principal.ExpiresAt)
	assert.Equal(t, "alice", principal.Claims["sub"])
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, ok := PrincipalFromContext(ctx)
	assert.False(t, ok)
	_, ok = AuthoritiesFromContext(ctx)
	assert.False(t, ok)

	now := time.Now().UTC()
	attach := attachPrincipal(func() time.Time { return now })
	ctx = attach(ctx, string(MethodClassic), approach.Result{Subject: "bob", Authorities: []string{"user"}})

	principal, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "bob", principal.Subject)
	assert.Equal(t, MethodClassic, principal.Method)
	assert.Equal(t, now, principal.AuthenticatedAt)

	authorities, ok := AuthoritiesFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{authz.AuthorityUser}, authorities)
}
