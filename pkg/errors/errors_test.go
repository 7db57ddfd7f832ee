package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCodeThroughFmtWrapping(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := fmt.Errorf("authenticate: %w", Wrap(CodeIntrospectionTransport, MessageIntrospectionFailed, cause))

	assert.True(t, IsIntrospectionTransport(err))
	assert.True(t, IsInternalCode(err))
	assert.False(t, IsBadToken(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), MessageIntrospectionFailed)
}

func TestErrorMessageFallbacks(t *testing.T) {
	t.Parallel()

	var nilErr *Error
	assert.Equal(t, "", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())

	assert.Equal(t, "bad_token", (&Error{Code: CodeBadToken}).Error())
	assert.Equal(t, "inner", (&Error{Code: CodeUnknown, Err: errors.New("inner")}).Error())
}

func TestAuthenticationFailureClassification(t *testing.T) {
	t.Parallel()

	require.True(t, IsAuthenticationFailure(BadToken(MessageTokenNotActive)))
	require.True(t, IsAuthenticationFailure(New(CodeCryptoOperation, MessageDecryptFailed)))
	require.False(t, IsAuthenticationFailure(Configuration("secret key is required")))
	require.True(t, IsConfiguration(Configuration("secret key is required")))
}
