package httptransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/porthorian/statelessauth/pkg/approach"
	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/directory"
	"github.com/porthorian/statelessauth/pkg/resolver"
	"github.com/porthorian/statelessauth/pkg/session"
)

// DefaultPublicPaths bypass authentication. A trailing "/**" matches the
// path itself and everything below it.
var DefaultPublicPaths = []string{"/login/**", "/oauth2/**"}

type TokenValidator interface {
	Validate(ctx context.Context, token string) (approach.Result, error)
}

// Attach stores an authenticated result in the request context.
type Attach func(ctx context.Context, method string, result approach.Result) context.Context

const (
	MethodClassic = "classic"
	MethodToken   = "token"
)

type MiddlewareConfig struct {
	Cipher      ocrypto.Cipher
	Cookies     session.CookieConfig
	Credentials directory.CredentialVerifier
	PublicPaths []string
	Attach      Attach
	Logger      logr.Logger
}

func DefaultConfig() MiddlewareConfig {
	return MiddlewareConfig{
		PublicPaths: append([]string(nil), DefaultPublicPaths...),
	}
}

// Middleware authenticates every non-public request. Basic credentials are
// checked against config.Credentials, anything else goes through the bearer
// header or the encrypted access-token cookie and validator. A nil validator
// or nil Credentials disables that login mode.
func Middleware(validator TokenValidator, config MiddlewareConfig) func(http.Handler) http.Handler {
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	tokens := resolver.NewDynamicResolver(config.Cookies.AccessTokenCookieName(), config.Cipher, logger)
	classic := resolver.NewCookieResolver(config.Cookies.ClassicAuthCookieName(), config.Cipher, logger)
	unauthorized := UnauthorizedEntryPoint(config.Cookies)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path, config.PublicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			if config.Cipher != nil && config.Credentials != nil {
				r = bridgeClassicAuth(w, r, classic, config.Cookies, logger)
			}

			var (
				method string
				result approach.Result
				err    error
			)

			if username, secret, ok := r.BasicAuth(); ok && config.Credentials != nil {
				method = MethodClassic
				result, err = verifyClassic(r.Context(), config.Credentials, username, secret)
			} else if validator != nil {
				token, found := tokens.Resolve(r)
				if !found {
					unauthorized(w, r, nil)
					return
				}
				method = MethodToken
				result, err = validator.Validate(r.Context(), token)
			} else {
				unauthorized(w, r, nil)
				return
			}

			if err != nil {
				status := StatusFor(err)
				if status == http.StatusUnauthorized {
					logger.V(1).Info("authentication rejected", "method", method, "path", r.URL.Path, "error", err.Error())
					unauthorized(w, r, err)
					return
				}
				logger.Error(err, "authentication failed", "method", method, "path", r.URL.Path)
				writeError(w, status, "authentication_unavailable", "")
				return
			}

			ctx := r.Context()
			if config.Attach != nil {
				ctx = config.Attach(ctx, method, result)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyClassic(ctx context.Context, verifier directory.CredentialVerifier, username string, secret string) (approach.Result, error) {
	authorities, err := verifier.VerifyCredentials(ctx, username, secret)
	if err != nil {
		return approach.Result{}, err
	}
	return approach.Result{
		Subject:     username,
		Authorities: authorities,
		Claims:      map[string]any{"sub": username},
	}, nil
}

func IsPublicPath(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if path == pattern {
			return true
		}
	}
	return false
}
