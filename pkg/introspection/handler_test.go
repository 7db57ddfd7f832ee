package introspection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/statelessauth/pkg/approach"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/protocol/oauth"
)

func TestOpaqueTokenHandlerBuildsResult(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t, activeFor(time.Hour), nil, time.Hour)
	dir := directory.NewStatic(nil, directory.User{Name: "alice", Authorities: []string{"ROLE_USER"}})

	handler, err := NewOpaqueTokenHandler(f.cache, dir, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, approach.NameOpaqueToken, handler.Name())

	result, err := handler.Validate(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Subject)
	assert.Equal(t, []string{"ROLE_USER"}, result.Authorities)
	assert.Equal(t, true, result.Claims[oauth.ClaimActive])
	assert.Equal(t, "alice", result.Claims[oauth.ClaimSubject])
	assert.Equal(t, f.clock.Now().Add(time.Hour), result.ExpiresAt)
}

func TestOpaqueTokenHandlerRejectsMissingSubject(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t, func(now time.Time) (oauth.IntrospectionResult, error) {
		exp := now.Add(time.Hour)
		return oauth.IntrospectionResult{Active: true, ExpiresAt: &exp}, nil
	}, nil, time.Hour)

	handler, err := NewOpaqueTokenHandler(f.cache, directory.NewStatic(nil), testLogger(t))
	require.NoError(t, err)

	_, err = handler.Validate(context.Background(), "token")
	require.Error(t, err)
	assert.True(t, oerrors.IsBadToken(err))
	assert.Equal(t, oerrors.MessageSubjectNullOrEmpty, err.Error())
}

func TestOpaqueTokenHandlerUnknownUser(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t, activeFor(time.Hour), nil, time.Hour)
	handler, err := NewOpaqueTokenHandler(f.cache, directory.NewStatic(nil), testLogger(t))
	require.NoError(t, err)

	_, err = handler.Validate(context.Background(), "token")
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeUnauthenticated))
	assert.ErrorIs(t, err, directory.ErrUnknownUser)
}

func TestOpaqueTokenHandlerBlankToken(t *testing.T) {
	t.Parallel()

	f := newCacheFixture(t, activeFor(time.Hour), nil, time.Hour)
	handler, err := NewOpaqueTokenHandler(f.cache, directory.NewStatic(nil), testLogger(t))
	require.NoError(t, err)

	_, err = handler.Validate(context.Background(), " ")
	require.Error(t, err)
	assert.True(t, oerrors.IsBadToken(err))
	assert.Equal(t, int32(0), f.introspector.calls.Load())
}
