package login

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/porthorian/statelessauth/pkg/authrequest"
	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/session"
)

const fixedState = "3f1c2d0a-6d1b-4c55-9a55-1f0e2b7d9c11"

type fakeIDP struct {
	server *httptest.Server

	mu       sync.Mutex
	verifier string
	code     string
	basic    string
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()

	idp := &fakeIDP{}
	idp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if !assert.NoError(t, r.ParseForm()) {
			return
		}
		user, pass, _ := r.BasicAuth()
		idp.mu.Lock()
		idp.code = r.PostForm.Get("code")
		idp.verifier = r.PostForm.Get("code_verifier")
		idp.basic = user + ":" + pass
		idp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"opaque-abc","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(idp.server.Close)
	return idp
}

type fixture struct {
	routes http.Handler
	cipher ocrypto.Cipher
	idp    *fakeIDP
}

func newFixture(t *testing.T, modes ...string) *fixture {
	t.Helper()

	key, err := ocrypto.NewSecretKey("test-test-test-test-test-test-32")
	require.NoError(t, err)
	cipher, err := ocrypto.NewCipher(key, ocrypto.CipherModeSealed)
	require.NoError(t, err)

	cookies := session.CookieConfig{}
	issuer, err := session.NewIssuer(session.IssuerConfig{Cipher: cipher, Cookies: cookies})
	require.NoError(t, err)
	requests, err := authrequest.NewStore(cipher, cookies, testr.New(t))
	require.NoError(t, err)

	hasher := ocrypto.NewPBKDF2Hasher(ocrypto.PBKDF2Options{Iterations: 1000})
	hash, err := hasher.Hash("api-token")
	require.NoError(t, err)

	idp := newFakeIDP(t)
	routes, err := NewRoutes(Config{
		Modes:       modes,
		RedirectURI: "/app",
		Provider:    "keycloak",
		OAuth2: &oauth2.Config{
			ClientID:     "web-ui",
			ClientSecret: "web-ui-secret",
			RedirectURL:  "https://app.example.com/login/oauth2/code",
			Scopes:       []string{"openid"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   idp.server.URL + "/authorize",
				TokenURL:  idp.server.URL + "/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		Requests:    requests,
		Credentials: directory.NewStatic(hasher, directory.User{Name: "alice", SecretHash: hash}),
		Issuer:      issuer,
		HTTPClient:  idp.server.Client(),
		NewState:    func() string { return fixedState },
		Logger:      testr.New(t),
	})
	require.NoError(t, err)

	return &fixture{routes: routes.Handler(), cipher: cipher, idp: idp}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	return rec
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (f *fixture) start(t *testing.T) *http.Cookie {
	t.Helper()

	rec := f.do(httptest.NewRequest(http.MethodGet, PathOAuth2, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	cookie := findCookie(rec, session.AuthorizationRequestCookie)
	require.NotNil(t, cookie)
	return cookie
}

func TestOAuth2LoginRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ModeOAuth2)

	rec := f.do(httptest.NewRequest(http.MethodGet, PathOAuth2, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", location.Path)
	assert.Equal(t, fixedState, location.Query().Get("state"))
	assert.Equal(t, "web-ui", location.Query().Get("client_id"))
	assert.Equal(t, "S256", location.Query().Get("code_challenge_method"))
	assert.NotEmpty(t, location.Query().Get("code_challenge"))

	stored := findCookie(rec, session.AuthorizationRequestCookie)
	require.NotNil(t, stored)
	assert.Equal(t, 60, stored.MaxAge)

	callback := httptest.NewRequest(http.MethodGet, PathOAuth2Code+"?code=auth-code-1&state="+fixedState, nil)
	callback.AddCookie(stored)
	rec = f.do(callback)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/app", rec.Header().Get("Location"))

	f.idp.mu.Lock()
	assert.Equal(t, "auth-code-1", f.idp.code)
	assert.NotEmpty(t, f.idp.verifier)
	assert.Equal(t, "web-ui:web-ui-secret", f.idp.basic)
	f.idp.mu.Unlock()

	access := findCookie(rec, session.OAuth2AccessTokenCookie)
	require.NotNil(t, access)
	assert.InDelta(t, 3600, access.MaxAge, 5)
	token, err := ocrypto.DecryptString(f.cipher, access.Value)
	require.NoError(t, err)
	assert.Equal(t, "opaque-abc", token)

	cleared := findCookie(rec, session.AuthorizationRequestCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestOAuth2CallbackRejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ModeOAuth2)

	tests := []struct {
		name       string
		query      string
		withCookie bool
		want       int
	}{
		{name: "no stored request", query: "?code=c&state=" + fixedState, want: http.StatusBadRequest},
		{name: "state mismatch", query: "?code=c&state=forged", withCookie: true, want: http.StatusBadRequest},
		{name: "missing code", query: "?state=" + fixedState, withCookie: true, want: http.StatusBadRequest},
		{name: "idp error", query: "?error=access_denied", withCookie: true, want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, PathOAuth2Code+tt.query, nil)
			if tt.withCookie {
				req.AddCookie(f.start(t))
			}
			rec := f.do(req)
			assert.Equal(t, tt.want, rec.Code)
			assert.Nil(t, findCookie(rec, session.OAuth2AccessTokenCookie))
		})
	}
}

func TestClassicLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ModeClassic)

	form := url.Values{"username": {"alice"}, "password": {"api-token"}}
	req := httptest.NewRequest(http.MethodPost, PathClassic, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := f.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	cookie := findCookie(rec, session.ClassicAuthCookie)
	require.NotNil(t, cookie)
	credentials, err := ocrypto.DecryptString(f.cipher, cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice:api-token", credentials)

	form.Set("password", "guess")
	req = httptest.NewRequest(http.MethodPost, PathClassic, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, findCookie(rec, session.ClassicAuthCookie))
}

func TestIndexAndDisabledModes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ModeClassic)

	rec := f.do(httptest.NewRequest(http.MethodGet, PathIndex, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []any{ModeClassic}, body["modes"])
	assert.Equal(t, PathClassic, body["classic"])
	assert.NotContains(t, body, "oauth2")

	rec = f.do(httptest.NewRequest(http.MethodGet, PathOAuth2, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingVerifier struct{ err error }

func (v failingVerifier) VerifyCredentials(context.Context, string, string) ([]string, error) {
	return nil, v.err
}

func TestClassicLoginStatusFollowsVerifierError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid credentials", directory.ErrInvalidCredentials, http.StatusUnauthorized},
		{"unknown user", directory.ErrUnknownUser, http.StatusUnauthorized},
		{"storage unavailable", oerrors.New(oerrors.CodeStorageUnavailable, "directory unreachable"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			issuer, err := session.NewIssuer(session.IssuerConfig{Cipher: stubCipher{}})
			require.NoError(t, err)
			routes, err := NewRoutes(Config{
				Modes:       []string{ModeClassic},
				Credentials: failingVerifier{err: tt.err},
				Issuer:      issuer,
				Logger:      testr.New(t),
			})
			require.NoError(t, err)

			form := url.Values{"username": {"alice"}, "password": {"api-token"}}
			req := httptest.NewRequest(http.MethodPost, PathClassic, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			routes.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Nil(t, findCookie(rec, session.ClassicAuthCookie))
		})
	}
}

func TestIndexAdvertisesLoginPage(t *testing.T) {
	t.Parallel()

	issuer, err := session.NewIssuer(session.IssuerConfig{Cipher: stubCipher{}})
	require.NoError(t, err)
	routes, err := NewRoutes(Config{
		Modes:       []string{ModeClassic},
		LoginPage:   "/signin",
		Credentials: failingVerifier{err: directory.ErrInvalidCredentials},
		Issuer:      issuer,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	routes.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathIndex, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/signin", body["loginPage"])
}

func TestLogoutClearsSessionCookies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ModeOAuth2, ModeClassic)
	rec := f.do(httptest.NewRequest(http.MethodGet, PathLogout, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	for _, name := range []string{session.OAuth2AccessTokenCookie, session.ClassicAuthCookie} {
		cookie := findCookie(rec, name)
		require.NotNil(t, cookie, name)
		assert.Equal(t, -1, cookie.MaxAge)
	}
}

func TestNewRoutesValidatesModes(t *testing.T) {
	t.Parallel()

	issuer, err := session.NewIssuer(session.IssuerConfig{Cipher: stubCipher{}})
	require.NoError(t, err)

	_, err = NewRoutes(Config{Issuer: issuer})
	assert.ErrorIs(t, err, ErrNoModes)
	_, err = NewRoutes(Config{Issuer: issuer, Modes: []string{"saml"}})
	assert.ErrorIs(t, err, ErrUnknownMode)
	_, err = NewRoutes(Config{Issuer: issuer, Modes: []string{ModeOAuth2}})
	assert.ErrorIs(t, err, ErrMissingOAuth2)
	_, err = NewRoutes(Config{Issuer: issuer, Modes: []string{ModeClassic}})
	assert.ErrorIs(t, err, ErrMissingVerifier)
	_, err = NewRoutes(Config{Modes: []string{ModeClassic}})
	assert.ErrorIs(t, err, ErrMissingIssuer)
}

type stubCipher struct{}

func (stubCipher) Encrypt(plaintext string) ([]byte, error)  { return []byte(plaintext), nil }
func (stubCipher) Decrypt(ciphertext []byte) (string, error) { return string(ciphertext), nil }
