package resolver

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
)

const cookieName = "SECHUB_OAUTH2_ACCESS_TOKEN"

type countingCipher struct {
	inner     ocrypto.Cipher
	decrypted atomic.Int32
}

func (c *countingCipher) Encrypt(plaintext string) ([]byte, error) {
	return c.inner.Encrypt(plaintext)
}

func (c *countingCipher) Decrypt(ciphertext []byte) (string, error) {
	c.decrypted.Add(1)
	return c.inner.Decrypt(ciphertext)
}

func newCipher(t *testing.T) *countingCipher {
	t.Helper()

	key, err := ocrypto.NewSecretKey("test-test-test-test-test-test-32")
	require.NoError(t, err)
	c, err := ocrypto.NewCipher(key, ocrypto.CipherModeCompat)
	require.NoError(t, err)
	return &countingCipher{inner: c}
}

func encryptedCookie(t *testing.T, c ocrypto.Cipher, value string) *http.Cookie {
	t.Helper()

	encoded, err := ocrypto.EncryptToString(c, value)
	require.NoError(t, err)
	return &http.Cookie{Name: cookieName, Value: encoded}
}

func TestCookieResolver(t *testing.T) {
	t.Parallel()

	c := newCipher(t)
	resolver := NewCookieResolver(cookieName, c, testr.New(t))

	tests := []struct {
		name   string
		cookie *http.Cookie
		want   string
	}{
		{name: "no cookie", want: MissingToken},
		{name: "other cookie only", cookie: &http.Cookie{Name: "JSESSIONID", Value: "abc"}, want: MissingToken},
		{name: "invalid base64", cookie: &http.Cookie{Name: cookieName, Value: "!!!not-base64"}, want: MissingToken},
		{name: "undecryptable", cookie: &http.Cookie{Name: cookieName, Value: "AAAA"}, want: MissingToken},
		{name: "valid", cookie: encryptedCookie(t, c, "opaque-token"), want: "opaque-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			assert.Equal(t, tt.want, resolver.Resolve(req))
		})
	}
}

func TestDynamicResolverPrefersBearerHeader(t *testing.T) {
	t.Parallel()

	c := newCipher(t)
	resolver := NewDynamicResolver(cookieName, c, testr.New(t))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(encryptedCookie(t, c, "cookie-token"))

	token, ok := resolver.Resolve(req)
	require.True(t, ok)
	assert.Equal(t, "header-token", token)
	assert.Equal(t, int32(0), c.decrypted.Load(), "cookies must not be read when a bearer header is present")
}

func TestDynamicResolverFallsBackToCookie(t *testing.T) {
	t.Parallel()

	c := newCipher(t)
	resolver := NewDynamicResolver(cookieName, c, testr.New(t))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer ")
	req.AddCookie(encryptedCookie(t, c, "cookie-token"))

	token, ok := resolver.Resolve(req)
	require.True(t, ok)
	assert.Equal(t, "cookie-token", token)
	assert.Equal(t, int32(1), c.decrypted.Load())
}

func TestDynamicResolverReturnsNothingOnFailure(t *testing.T) {
	t.Parallel()

	c := newCipher(t)
	resolver := NewDynamicResolver(cookieName, c, testr.New(t))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Basic YWxpY2U6c2VjcmV0")
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "%%%"})

	token, ok := resolver.Resolve(req)
	assert.False(t, ok)
	assert.Empty(t, token)
	assert.NotEqual(t, MissingToken, token)

	token, ok = resolver.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
	assert.Empty(t, token)
}
