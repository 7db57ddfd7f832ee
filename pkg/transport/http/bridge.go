package httptransport

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/resolver"
	"github.com/porthorian/statelessauth/pkg/session"
)

// ClassicAuthBridge turns a classic-auth credential cookie into a Basic
// Authorization header for downstream handlers.
func ClassicAuthBridge(cipher ocrypto.Cipher, cookies session.CookieConfig, logger logr.Logger) func(http.Handler) http.Handler {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	classic := resolver.NewCookieResolver(cookies.ClassicAuthCookieName(), cipher, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, bridgeClassicAuth(w, r, classic, cookies, logger))
		})
	}
}

// bridgeClassicAuth never mutates r. It returns r itself unless a wrapped
// copy carrying the synthesized header is needed.
func bridgeClassicAuth(w http.ResponseWriter, r *http.Request, classic *resolver.CookieResolver, cookies session.CookieConfig, logger logr.Logger) *http.Request {
	if _, ok := cookieValue(r, cookies.ClassicAuthCookieName()); !ok {
		return r
	}

	if _, hasOAuth2 := cookieValue(r, cookies.AccessTokenCookieName()); hasOAuth2 {
		http.SetCookie(w, cookies.Expire(cookies.ClassicAuthCookieName()))
		return r
	}

	credentials := classic.Resolve(r)
	if credentials == resolver.MissingToken {
		return r
	}
	if !strings.Contains(credentials, ":") {
		logger.V(1).Info("ignoring malformed classic auth cookie")
		return r
	}

	wrapped := r.Clone(r.Context())
	wrapped.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
	return wrapped
}

func cookieValue(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
