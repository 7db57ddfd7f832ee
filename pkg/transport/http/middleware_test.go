package httptransport

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/statelessauth/pkg/approach"
	"github.com/porthorian/statelessauth/pkg/authz"
	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/session"
)

type ctxKey struct{}

type stubValidator struct {
	tokens map[string]approach.Result
	err    error
	seen   []string
}

func (s *stubValidator) Validate(_ context.Context, token string) (approach.Result, error) {
	s.seen = append(s.seen, token)
	if s.err != nil {
		return approach.Result{}, s.err
	}
	result, ok := s.tokens[token]
	if !ok {
		return approach.Result{}, oerrors.BadToken(oerrors.MessageTokenNotActive)
	}
	return result, nil
}

func testCipher(t *testing.T) ocrypto.Cipher {
	t.Helper()

	key, err := ocrypto.NewSecretKey("test-test-test-test-test-test-32")
	require.NoError(t, err)
	c, err := ocrypto.NewCipher(key, ocrypto.CipherModeCompat)
	require.NoError(t, err)
	return c
}

func encrypted(t *testing.T, c ocrypto.Cipher, name string, value string) *http.Cookie {
	t.Helper()

	encoded, err := ocrypto.EncryptToString(c, value)
	require.NoError(t, err)
	return &http.Cookie{Name: name, Value: encoded}
}

func testDirectory(t *testing.T) *directory.Static {
	t.Helper()

	hasher := ocrypto.NewPBKDF2Hasher(ocrypto.PBKDF2Options{Iterations: 1000, SaltBytes: 16, KeyBytes: 32})
	hash, err := hasher.Hash("api-token")
	require.NoError(t, err)
	return directory.NewStatic(hasher, directory.User{Name: "alice", SecretHash: hash, Authorities: []string{"user"}})
}

type harness struct {
	handler   http.Handler
	validator *stubValidator
	cipher    ocrypto.Cipher
	reached   *approach.Result
	method    string
}

func newHarness(t *testing.T, withClassic bool) *harness {
	t.Helper()

	h := &harness{
		validator: &stubValidator{tokens: map[string]approach.Result{
			"good-token": {Subject: "bob", Authorities: []string{authz.AuthorityOwner}},
		}},
		cipher: testCipher(t),
	}

	config := DefaultConfig()
	config.Cipher = h.cipher
	config.Logger = testr.New(t)
	config.Attach = func(ctx context.Context, method string, result approach.Result) context.Context {
		h.method = method
		return context.WithValue(ctx, ctxKey{}, result)
	}
	if withClassic {
		config.Credentials = testDirectory(t)
	}

	h.handler = Middleware(h.validator, config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if result, ok := r.Context().Value(ctxKey{}).(approach.Result); ok {
			h.reached = &result
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	return h
}

func (h *harness) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewarePublicPathsBypassAuthentication(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	for _, path := range []string{"/login", "/login/oauth2/code", "/oauth2/authorization/keycloak"} {
		rec := h.serve(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
	}
	assert.Empty(t, h.validator.seen)

	rec := h.serve(httptest.NewRequest(http.MethodGet, "/loginx", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareBearerToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	rec := h.serve(req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, h.reached)
	assert.Equal(t, "bob", h.reached.Subject)
	assert.Equal(t, MethodToken, h.method)
}

func TestMiddlewareAccessTokenCookie(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.AddCookie(encrypted(t, h.cipher, session.OAuth2AccessTokenCookie, "good-token"))

	rec := h.serve(req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"good-token"}, h.validator.seen)
}

func TestMiddlewareRejectsInvalidTokenAndClearsCookie(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.AddCookie(encrypted(t, h.cipher, session.OAuth2AccessTokenCookie, "revoked-token"))

	rec := h.serve(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, h.reached)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.OAuth2AccessTokenCookie, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestMiddlewareMissingCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	rec := h.serve(httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.validator.seen)
}

func TestMiddlewareIntrospectionOutageIsServerFault(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.validator.err = oerrors.New(oerrors.CodeIntrospectionTransport, oerrors.MessageIntrospectionFailed)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	rec := h.serve(req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestMiddlewareBasicAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.SetBasicAuth("alice", "api-token")
	rec := h.serve(req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, h.reached)
	assert.Equal(t, "alice", h.reached.Subject)
	assert.Equal(t, []string{authz.AuthorityUser}, h.reached.Authorities)
	assert.Equal(t, MethodClassic, h.method)

	req = httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.SetBasicAuth("alice", "wrong")
	rec = h.serve(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareClassicCookie(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.AddCookie(encrypted(t, h.cipher, session.ClassicAuthCookie, "alice:api-token"))

	rec := h.serve(req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", h.reached.Subject)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestIsPublicPath(t *testing.T) {
	t.Parallel()

	patterns := []string{"/login/**", "/health"}
	assert.True(t, IsPublicPath("/login", patterns))
	assert.True(t, IsPublicPath("/login/classic", patterns))
	assert.True(t, IsPublicPath("/health", patterns))
	assert.False(t, IsPublicPath("/health/deep", patterns))
	assert.False(t, IsPublicPath("/logins", patterns))
	assert.False(t, IsPublicPath("/api", nil))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusUnauthorized, StatusFor(oerrors.BadToken(oerrors.MessageTokenNullOrEmpty)))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(directory.ErrInvalidCredentials))
	assert.Equal(t, http.StatusForbidden, StatusFor(oerrors.New(oerrors.CodePermissionDenied, "denied")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(oerrors.New(oerrors.CodeStorageUnavailable, "down")))
}

func basic(value string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(value))
}
