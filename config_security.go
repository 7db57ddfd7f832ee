package statelessauth

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/expiration"
	"github.com/porthorian/statelessauth/pkg/introspection"
	"github.com/porthorian/statelessauth/pkg/jwtauth"
	"github.com/porthorian/statelessauth/pkg/session"
)

type Mode string

const (
	ModeOAuth2  Mode = "oauth2"
	ModeClassic Mode = "classic"
)

type OAuth2Mode string

const (
	OAuth2ModeJWT         OAuth2Mode = "jwt"
	OAuth2ModeOpaqueToken OAuth2Mode = "opaque-token"
)

const DefaultOAuth2Provider = "oauth2"

// SecurityConfig is the complete security setup of a service. It is checked
// once by New and never changes afterwards.
type SecurityConfig struct {
	Server     ServerConfig
	Login      LoginConfig
	Encryption EncryptionConfig
	Cookies    CookieConfig
	// MinimumTokenValidity is the floor for cookie lifetimes and cached
	// introspection results.
	MinimumTokenValidity time.Duration
}

type ServerConfig struct {
	Modes  []Mode
	OAuth2 ServerOAuth2Config
}

type ServerOAuth2Config struct {
	Mode        OAuth2Mode
	JWT         JWTConfig
	OpaqueToken OpaqueTokenConfig
}

type JWTConfig struct {
	JWKSetURI       string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

type OpaqueTokenConfig struct {
	IntrospectionURI      string
	ClientID              string
	ClientSecret          string
	DefaultTokenExpiresIn time.Duration
	MaxCacheDuration      time.Duration
	PreCacheDuration      time.Duration
}

type LoginConfig struct {
	Enabled bool
	// LoginPage is advertised to clients that need to start a login.
	LoginPage string
	// RedirectURI is where the browser lands after login and logout.
	RedirectURI string
	Modes       []Mode
	OAuth2      LoginOAuth2Config
	Classic     ClassicLoginConfig
}

type LoginOAuth2Config struct {
	ClientID     string
	ClientSecret string
	Provider     string
	RedirectURI  string
	// IssuerURI, when set, supplies the authorization and token endpoints
	// left empty through OpenID provider discovery.
	IssuerURI        string
	AuthorizationURI string
	TokenURI         string
	Scopes           []string
	DisablePKCE      bool
}

type ClassicLoginConfig struct {
	CookieAge time.Duration
}

type EncryptionConfig struct {
	SecretKey  string
	CipherMode ocrypto.CipherMode
}

type CookieConfig struct {
	BasePath string
	Insecure bool
	// Cookie names; empty names fall back to the session package defaults.
	AccessTokenName          string
	AuthorizationRequestName string
	ClassicAuthName          string
}

func (c CookieConfig) session() session.CookieConfig {
	return session.CookieConfig{
		BasePath:                 c.BasePath,
		Insecure:                 c.Insecure,
		AccessTokenName:          c.AccessTokenName,
		AuthorizationRequestName: c.AuthorizationRequestName,
		ClassicAuthName:          c.ClassicAuthName,
	}
}

func (s SecurityConfig) serverMode(mode Mode) bool {
	return slices.Contains(s.Server.Modes, mode)
}

func (s SecurityConfig) loginMode(mode Mode) bool {
	return s.Login.Enabled && slices.Contains(s.Login.Modes, mode)
}

// needsCipher reports whether any configured component reads or writes
// encrypted material.
func (s SecurityConfig) needsCipher(runtime RuntimeConfig) bool {
	if s.Login.Enabled || s.serverMode(ModeOAuth2) {
		return true
	}
	switch runtime.Cache.Backend {
	case CacheBackendRedis, CacheBackendPostgres:
		return true
	}
	return false
}

// normalize validates s and fills in defaults. Every problem is reported as
// a configuration error.
func (s SecurityConfig) normalize() (SecurityConfig, error) {
	if s.MinimumTokenValidity < 0 {
		return SecurityConfig{}, oerrors.Configuration("security.minimum-token-validity must not be negative")
	}

	server, err := normalizeServer(s.Server)
	if err != nil {
		return SecurityConfig{}, err
	}
	s.Server = server

	login, err := normalizeLogin(s.Login)
	if err != nil {
		return SecurityConfig{}, err
	}
	s.Login = login

	if s.Encryption.CipherMode == "" {
		s.Encryption.CipherMode = ocrypto.CipherModeCompat
	}
	if s.Cookies.BasePath == "" {
		s.Cookies.BasePath = session.DefaultBasePath
	}
	if !strings.HasPrefix(s.Cookies.BasePath, "/") {
		return SecurityConfig{}, oerrors.Configuration("security.cookies.base-path must start with /")
	}
	if err := validateCookieNames(s.Cookies.session()); err != nil {
		return SecurityConfig{}, err
	}

	return s, nil
}

func validateCookieNames(cookies session.CookieConfig) error {
	names := []string{
		cookies.AccessTokenCookieName(),
		cookies.AuthorizationRequestCookieName(),
		cookies.ClassicAuthCookieName(),
	}
	for i, name := range names {
		if strings.ContainsAny(name, " \t;,=\"") {
			return oerrors.Configuration(fmt.Sprintf("security.cookies name %q is not a valid cookie name", name))
		}
		if slices.Contains(names[:i], name) {
			return oerrors.Configuration(fmt.Sprintf("security.cookies name %q is used twice", name))
		}
	}
	return nil
}

func normalizeModes(field string, modes []Mode) ([]Mode, error) {
	if len(modes) == 0 {
		return nil, oerrors.Configuration(field + " must name at least one of oauth2, classic")
	}

	out := make([]Mode, 0, len(modes))
	for _, mode := range modes {
		mode = Mode(strings.ToLower(strings.TrimSpace(string(mode))))
		switch mode {
		case ModeOAuth2, ModeClassic:
		default:
			return nil, oerrors.Configuration(fmt.Sprintf("%s contains unsupported mode %q", field, mode))
		}
		if !slices.Contains(out, mode) {
			out = append(out, mode)
		}
	}
	return out, nil
}

func normalizeServer(server ServerConfig) (ServerConfig, error) {
	modes, err := normalizeModes("security.server.modes", server.Modes)
	if err != nil {
		return ServerConfig{}, err
	}
	server.Modes = modes

	if !slices.Contains(modes, ModeOAuth2) {
		return server, nil
	}

	oauth2 := server.OAuth2
	switch oauth2.Mode {
	case OAuth2ModeJWT:
		if strings.TrimSpace(oauth2.JWT.JWKSetURI) == "" {
			return ServerConfig{}, oerrors.Configuration("security.server.oauth2.jwt.jwk-set-uri is required")
		}
		if oauth2.JWT.RefreshInterval <= 0 {
			oauth2.JWT.RefreshInterval = jwtauth.DefaultRefreshInterval
		}
	case OAuth2ModeOpaqueToken:
		opaque := oauth2.OpaqueToken
		if opaque.DefaultTokenExpiresIn <= 0 {
			opaque.DefaultTokenExpiresIn = expiration.DefaultTokenExpiresIn
		}
		if opaque.MaxCacheDuration <= 0 {
			opaque.MaxCacheDuration = expiration.DefaultTokenExpiresIn
		}
		if opaque.PreCacheDuration <= 0 {
			opaque.PreCacheDuration = introspection.DefaultPreCacheDuration
		}
		oauth2.OpaqueToken = opaque
	case "":
		return ServerConfig{}, oerrors.Configuration("security.server.oauth2.mode is required when oauth2 is enabled")
	default:
		return ServerConfig{}, oerrors.Configuration(fmt.Sprintf("unsupported security.server.oauth2.mode %q", oauth2.Mode))
	}
	server.OAuth2 = oauth2

	return server, nil
}

func normalizeLogin(login LoginConfig) (LoginConfig, error) {
	if !login.Enabled {
		return login, nil
	}

	modes, err := normalizeModes("security.login.modes", login.Modes)
	if err != nil {
		return LoginConfig{}, err
	}
	login.Modes = modes

	if login.RedirectURI == "" {
		login.RedirectURI = "/"
	}
	if login.Classic.CookieAge <= 0 {
		login.Classic.CookieAge = session.DefaultClassicCookieAge
	}

	if !slices.Contains(modes, ModeOAuth2) {
		return login, nil
	}

	oauth2 := login.OAuth2
	type field struct{ name, value string }
	required := []field{
		{"client-id", oauth2.ClientID},
		{"client-secret", oauth2.ClientSecret},
		{"redirect-uri", oauth2.RedirectURI},
	}
	if oauth2.IssuerURI == "" {
		required = append(required,
			field{"authorization-uri", oauth2.AuthorizationURI},
			field{"token-uri", oauth2.TokenURI},
		)
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return LoginConfig{}, oerrors.Configuration("security.login.oauth2." + r.name + " is required")
		}
	}
	for _, uri := range []string{oauth2.IssuerURI, oauth2.AuthorizationURI, oauth2.TokenURI} {
		if uri == "" {
			continue
		}
		if _, err := url.ParseRequestURI(uri); err != nil {
			return LoginConfig{}, oerrors.Wrap(oerrors.CodeConfiguration, fmt.Sprintf("security.login.oauth2 uri %q is invalid", uri), err)
		}
	}
	if oauth2.Provider == "" {
		oauth2.Provider = DefaultOAuth2Provider
	}
	if len(oauth2.Scopes) == 0 {
		oauth2.Scopes = []string{"openid"}
	}
	login.OAuth2 = oauth2

	return login, nil
}
