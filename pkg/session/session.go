// Package session writes the client-side session cookies. Nothing about a
// session is kept on the server.
package session

import (
	"errors"
	"net/http"
	"time"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/expiration"
)

// Default cookie names, used when CookieConfig leaves a name empty.
const (
	OAuth2AccessTokenCookie    = "SECHUB_OAUTH2_ACCESS_TOKEN"
	AuthorizationRequestCookie = "SECHUB_OAUTH2_AUTHORIZATION_REQUEST"
	ClassicAuthCookie          = "SECHUB_CLASSIC_AUTH_CREDENTIALS"

	DefaultBasePath         = "/"
	DefaultClassicCookieAge = 24 * time.Hour
)

type CookieConfig struct {
	BasePath string
	// Insecure drops the Secure attribute, for plain-http development only.
	Insecure bool

	AccessTokenName          string
	AuthorizationRequestName string
	ClassicAuthName          string
}

func (c CookieConfig) AccessTokenCookieName() string {
	return nameOr(c.AccessTokenName, OAuth2AccessTokenCookie)
}

func (c CookieConfig) AuthorizationRequestCookieName() string {
	return nameOr(c.AuthorizationRequestName, AuthorizationRequestCookie)
}

func (c CookieConfig) ClassicAuthCookieName() string {
	return nameOr(c.ClassicAuthName, ClassicAuthCookie)
}

func nameOr(name string, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func (c CookieConfig) path() string {
	if c.BasePath == "" {
		return DefaultBasePath
	}
	return c.BasePath
}

// New builds an HttpOnly cookie living for maxAge (rounded down to seconds,
// at least one second).
func (c CookieConfig) New(name string, value string, maxAge time.Duration) *http.Cookie {
	seconds := int(maxAge / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.path(),
		MaxAge:   seconds,
		HttpOnly: true,
		Secure:   !c.Insecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Expire builds a cookie that makes the browser drop name immediately.
func (c CookieConfig) Expire(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     c.path(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !c.Insecure,
		SameSite: http.SameSiteLaxMode,
	}
}

type IssuerConfig struct {
	Cipher                ocrypto.Cipher
	Cookies               CookieConfig
	DefaultTokenExpiresIn time.Duration
	MinimumTokenValidity  time.Duration
	ClassicCookieAge      time.Duration
	Now                   func() time.Time
}

// Issuer writes and clears the encrypted access-token and classic cookies.
type Issuer struct {
	cipher     ocrypto.Cipher
	cookies    CookieConfig
	calculator expiration.Calculator
	classicAge time.Duration
}

func NewIssuer(config IssuerConfig) (*Issuer, error) {
	if config.Cipher == nil {
		return nil, errors.New("session issuer: cipher is required")
	}

	classicAge := config.ClassicCookieAge
	if classicAge <= 0 {
		classicAge = DefaultClassicCookieAge
	}
	classicAge = max(classicAge, config.MinimumTokenValidity)

	return &Issuer{
		cipher:  config.Cipher,
		cookies: config.Cookies,
		calculator: expiration.Calculator{
			DefaultTokenExpiresIn: config.DefaultTokenExpiresIn,
			MinimumTokenValidity:  config.MinimumTokenValidity,
			Now:                   config.Now,
		},
		classicAge: classicAge,
	}, nil
}

func (i *Issuer) Cookies() CookieConfig {
	return i.cookies
}

// ClassicCookieAge is the configured age floored at the minimum token validity.
func (i *Issuer) ClassicCookieAge() time.Duration {
	return i.classicAge
}

// IssueAccessToken stores accessToken in the OAuth2 cookie. Its max-age runs
// until the token expiry, or the default/minimum validity when expiresAt is nil.
func (i *Issuer) IssueAccessToken(w http.ResponseWriter, accessToken string, expiresAt *time.Time) error {
	value, err := ocrypto.EncryptToString(i.cipher, accessToken)
	if err != nil {
		return err
	}

	now := i.calculator.CurrentTime()
	defaultDuration := i.calculator.DefaultTokenExpiresIn
	if defaultDuration <= 0 {
		defaultDuration = expiration.DefaultTokenExpiresIn
	}
	until := expiration.CalculateAccessTokenDuration(now, defaultDuration, expiresAt, i.calculator.MinimumTokenValidity)

	http.SetCookie(w, i.cookies.New(i.cookies.AccessTokenCookieName(), value, until.Sub(now)))
	return nil
}

// IssueClassic stores "username:secret" in the classic-auth cookie.
func (i *Issuer) IssueClassic(w http.ResponseWriter, username string, secret string) error {
	value, err := ocrypto.EncryptToString(i.cipher, username+":"+secret)
	if err != nil {
		return err
	}

	http.SetCookie(w, i.cookies.New(i.cookies.ClassicAuthCookieName(), value, i.classicAge))
	return nil
}

// Clear expires both session cookies.
func (i *Issuer) Clear(w http.ResponseWriter) {
	http.SetCookie(w, i.cookies.Expire(i.cookies.AccessTokenCookieName()))
	http.SetCookie(w, i.cookies.Expire(i.cookies.ClassicAuthCookieName()))
}
