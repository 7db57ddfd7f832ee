// Package resolver locates the credential of an inbound request.
//
// The two resolvers report "nothing found" differently: CookieResolver
// returns the MissingToken sentinel, DynamicResolver returns ok=false.
// Callers depend on both behaviours, so they are kept apart.
package resolver

import (
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
)

// MissingToken is returned by CookieResolver when no usable cookie exists.
const MissingToken = "missing-token"

const bearerPrefix = "Bearer "

// CookieResolver reads a token from one encrypted cookie.
type CookieResolver struct {
	cookieName string
	cipher     ocrypto.Cipher
	logger     logr.Logger
}

func NewCookieResolver(cookieName string, cipher ocrypto.Cipher, logger logr.Logger) *CookieResolver {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &CookieResolver{cookieName: cookieName, cipher: cipher, logger: logger}
}

// Resolve never fails: absent, undecodable or undecryptable cookies all
// yield MissingToken.
func (r *CookieResolver) Resolve(req *http.Request) string {
	token, ok := decryptCookie(req, r.cookieName, r.cipher, r.logger)
	if !ok {
		return MissingToken
	}
	return token
}

// DynamicResolver prefers a bearer Authorization header and falls back to an
// encrypted cookie.
type DynamicResolver struct {
	cookieName string
	cipher     ocrypto.Cipher
	logger     logr.Logger
}

func NewDynamicResolver(cookieName string, cipher ocrypto.Cipher, logger logr.Logger) *DynamicResolver {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &DynamicResolver{cookieName: cookieName, cipher: cipher, logger: logger}
}

func (r *DynamicResolver) Resolve(req *http.Request) (string, bool) {
	if token, ok := BearerToken(req); ok {
		return token, true
	}
	return decryptCookie(req, r.cookieName, r.cipher, r.logger)
}

// BearerToken extracts a non-empty token from "Authorization: Bearer <token>".
func BearerToken(req *http.Request) (string, bool) {
	header := req.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func decryptCookie(req *http.Request, name string, cipher ocrypto.Cipher, logger logr.Logger) (string, bool) {
	cookie, err := req.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	value, err := ocrypto.DecryptString(cipher, cookie.Value)
	if err != nil {
		logger.V(1).Info("ignoring unreadable cookie", "cookie", name, "error", err.Error())
		return "", false
	}
	return value, true
}
