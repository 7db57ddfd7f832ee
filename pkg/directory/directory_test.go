package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
)

func TestStaticDirectory(t *testing.T) {
	t.Parallel()

	hasher := ocrypto.NewPBKDF2Hasher(ocrypto.PBKDF2Options{Iterations: 1000})
	hash, err := hasher.Hash("api-token")
	require.NoError(t, err)

	dir := NewStatic(hasher, User{Name: "Alice", SecretHash: hash, Authorities: []string{"user", "ROLE_OWNER"}})
	ctx := context.Background()

	authorities, err := dir.Authorities(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER", "ROLE_OWNER"}, authorities)

	_, err = dir.Authorities(ctx, "bob")
	require.ErrorIs(t, err, ErrUnknownUser)

	authorities, err = dir.VerifyCredentials(ctx, "alice", "api-token")
	require.NoError(t, err)
	assert.Contains(t, authorities, "ROLE_USER")

	_, err = dir.VerifyCredentials(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = dir.VerifyCredentials(ctx, "bob", "api-token")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
