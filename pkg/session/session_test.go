package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
)

var fixedNow = time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

func newIssuer(t *testing.T, config IssuerConfig) *Issuer {
	t.Helper()

	key, err := ocrypto.NewSecretKey("test-test-test-test-test-test-32")
	require.NoError(t, err)
	config.Cipher, err = ocrypto.NewCipher(key, ocrypto.CipherModeCompat)
	require.NoError(t, err)
	config.Now = func() time.Time { return fixedNow }

	issuer, err := NewIssuer(config)
	require.NoError(t, err)
	return issuer
}

func cookieByName(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestIssueAccessTokenUsesTokenExpiry(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t, IssuerConfig{MinimumTokenValidity: time.Minute})
	rec := httptest.NewRecorder()

	expiresAt := fixedNow.Add(30 * time.Minute)
	require.NoError(t, issuer.IssueAccessToken(rec, "opaque-token", &expiresAt))

	cookie := cookieByName(t, rec, OAuth2AccessTokenCookie)
	assert.Equal(t, 1800, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, "/", cookie.Path)

	plaintext, err := ocrypto.DecryptString(issuer.cipher, cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", plaintext)
}

func TestIssueAccessTokenWithoutExpiryUsesDefaultOrMinimum(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t, IssuerConfig{DefaultTokenExpiresIn: time.Hour, MinimumTokenValidity: 25 * time.Hour})
	rec := httptest.NewRecorder()
	require.NoError(t, issuer.IssueAccessToken(rec, "opaque-token", nil))
	assert.Equal(t, int((25 * time.Hour).Seconds()), cookieByName(t, rec, OAuth2AccessTokenCookie).MaxAge)

	issuer = newIssuer(t, IssuerConfig{DefaultTokenExpiresIn: time.Hour, MinimumTokenValidity: 40 * time.Minute})
	rec = httptest.NewRecorder()
	require.NoError(t, issuer.IssueAccessToken(rec, "opaque-token", nil))
	assert.Equal(t, 3600, cookieByName(t, rec, OAuth2AccessTokenCookie).MaxAge)
}

func TestIssueClassicFloorsCookieAge(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t, IssuerConfig{ClassicCookieAge: time.Hour, MinimumTokenValidity: 2 * time.Hour, Cookies: CookieConfig{BasePath: "/app"}})
	assert.Equal(t, 2*time.Hour, issuer.ClassicCookieAge())

	rec := httptest.NewRecorder()
	require.NoError(t, issuer.IssueClassic(rec, "alice", "api-token"))

	cookie := cookieByName(t, rec, ClassicAuthCookie)
	assert.Equal(t, 7200, cookie.MaxAge)
	assert.Equal(t, "/app", cookie.Path)

	plaintext, err := ocrypto.DecryptString(issuer.cipher, cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice:api-token", plaintext)
}

func TestClearExpiresBothCookies(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t, IssuerConfig{})
	rec := httptest.NewRecorder()
	issuer.Clear(rec)

	for _, name := range []string{OAuth2AccessTokenCookie, ClassicAuthCookie} {
		cookie := cookieByName(t, rec, name)
		assert.Equal(t, -1, cookie.MaxAge)
		assert.Empty(t, cookie.Value)
	}
}

func TestCookieConfigInsecureAndMinimumAge(t *testing.T) {
	t.Parallel()

	cookie := CookieConfig{Insecure: true}.New("name", "value", 10*time.Millisecond)
	assert.False(t, cookie.Secure)
	assert.Equal(t, 1, cookie.MaxAge)
}

func TestIssuerUsesConfiguredCookieNames(t *testing.T) {
	t.Parallel()

	cookies := CookieConfig{AccessTokenName: "APP_TOKEN", ClassicAuthName: "APP_CLASSIC"}
	assert.Equal(t, AuthorizationRequestCookie, cookies.AuthorizationRequestCookieName())

	issuer := newIssuer(t, IssuerConfig{Cookies: cookies})
	rec := httptest.NewRecorder()
	require.NoError(t, issuer.IssueAccessToken(rec, "opaque-token", nil))
	require.NoError(t, issuer.IssueClassic(rec, "alice", "api-token"))
	cookieByName(t, rec, "APP_TOKEN")
	cookieByName(t, rec, "APP_CLASSIC")

	rec = httptest.NewRecorder()
	issuer.Clear(rec)
	assert.Equal(t, -1, cookieByName(t, rec, "APP_TOKEN").MaxAge)
	assert.Equal(t, -1, cookieByName(t, rec, "APP_CLASSIC").MaxAge)
	for _, c := range rec.Result().Cookies() {
		assert.NotEqual(t, OAuth2AccessTokenCookie, c.Name)
	}
}
