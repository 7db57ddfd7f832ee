// Package statelessauth authenticates HTTP requests without server-side
// session state. Login state, access tokens and classic credentials travel in
// encrypted cookies; opaque tokens are introspected at the IDP and cached.
package statelessauth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"

	"github.com/porthorian/statelessauth/pkg/approach"
	"github.com/porthorian/statelessauth/pkg/authrequest"
	ocache "github.com/porthorian/statelessauth/pkg/cache"
	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/expiration"
	"github.com/porthorian/statelessauth/pkg/introspection"
	"github.com/porthorian/statelessauth/pkg/jwtauth"
	"github.com/porthorian/statelessauth/pkg/login"
	"github.com/porthorian/statelessauth/pkg/session"
	httptransport "github.com/porthorian/statelessauth/pkg/transport/http"
)

type Config struct {
	Security SecurityConfig
	Runtime  RuntimeConfig
	// Directory supplies authorities for token subjects. Required for
	// opaque-token mode unless the postgres storage backend provides one.
	Directory directory.Directory
	// Credentials verifies classic logins. Defaults to Directory when it can
	// verify credentials.
	Credentials directory.CredentialVerifier
	Hasher      ocrypto.Hasher
	// Cipher overrides the cipher built from Security.Encryption.
	Cipher     ocrypto.Cipher
	CacheStore ocache.Dependencies
	HTTPClient *http.Client
	Registerer prometheus.Registerer
	Now        func() time.Time
	Logger     logr.Logger
}

type Client struct {
	auth       Authenticator
	security   SecurityConfig
	cipher     ocrypto.Cipher
	issuer     *session.Issuer
	login      *login.Routes
	middleware func(http.Handler) http.Handler
	logger     logr.Logger

	closeResource func() error
}

// New validates config, connects the configured backends and assembles the
// request pipeline. The returned client must be closed.
func New(config Config) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())

	closeResource, resolved, err := config.initialize(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	closeAll := joinClosers(closeResource, func() error {
		cancel()
		return nil
	})

	client, err := assemble(ctx, resolved)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	client.closeResource = closeAll

	resolved.Logger.V(1).Info("statelessauth client ready",
		"server_modes", resolved.Security.Server.Modes,
		"oauth2_mode", resolved.Security.Server.OAuth2.Mode,
		"login_enabled", resolved.Security.Login.Enabled,
	)
	return client, nil
}

func assemble(ctx context.Context, config Config) (*Client, error) {
	security := config.Security

	var validator approach.Handler
	if security.serverMode(ModeOAuth2) {
		registry, err := newRegistry(ctx, config)
		if err != nil {
			return nil, err
		}
		handler, ok := registry.Handler(string(security.Server.OAuth2.Mode))
		if !ok {
			return nil, oerrors.Configuration("no token handler for security.server.oauth2.mode " + string(security.Server.OAuth2.Mode))
		}
		validator = handler
	}

	credentials := config.Credentials
	if credentials == nil {
		credentials, _ = config.Directory.(directory.CredentialVerifier)
	}
	needsCredentials := security.serverMode(ModeClassic) || security.loginMode(ModeClassic)
	if needsCredentials && credentials == nil {
		return nil, oerrors.Configuration("classic mode requires a credential verifier")
	}

	client := &Client{
		security: security,
		cipher:   config.Cipher,
		logger:   config.Logger,
	}

	var serverCredentials directory.CredentialVerifier
	if security.serverMode(ModeClassic) {
		serverCredentials = credentials
	}
	client.auth = NewAuthService(validator, serverCredentials, config.Now, config.Logger)

	if config.Cipher != nil {
		issuer, err := session.NewIssuer(session.IssuerConfig{
			Cipher:                config.Cipher,
			Cookies:               security.Cookies.session(),
			DefaultTokenExpiresIn: security.Server.OAuth2.OpaqueToken.DefaultTokenExpiresIn,
			MinimumTokenValidity:  security.MinimumTokenValidity,
			ClassicCookieAge:      security.Login.Classic.CookieAge,
			Now:                   config.Now,
		})
		if err != nil {
			return nil, err
		}
		client.issuer = issuer
	}

	if security.Login.Enabled {
		routes, err := newLoginRoutes(ctx, config, client.issuer, credentials)
		if err != nil {
			return nil, err
		}
		client.login = routes
	}

	middlewareConfig := httptransport.DefaultConfig()
	if security.Login.Enabled && strings.HasPrefix(security.Login.LoginPage, "/") {
		middlewareConfig.PublicPaths = append(middlewareConfig.PublicPaths, security.Login.LoginPage)
	}
	middlewareConfig.Cipher = config.Cipher
	middlewareConfig.Cookies = security.Cookies.session()
	middlewareConfig.Credentials = serverCredentials
	middlewareConfig.Attach = attachPrincipal(config.Now)
	middlewareConfig.Logger = config.Logger

	var tokens httptransport.TokenValidator
	if validator != nil {
		tokens = validator
	}
	client.middleware = httptransport.Middleware(tokens, middlewareConfig)

	return client, nil
}

func newRegistry(ctx context.Context, config Config) (*approach.Registry, error) {
	server := config.Security.Server.OAuth2

	switch server.Mode {
	case OAuth2ModeJWT:
		handler, err := jwtauth.NewHandler(ctx, jwtauth.Config{
			JWKSetURI:       server.JWT.JWKSetURI,
			Issuer:          server.JWT.Issuer,
			Audience:        server.JWT.Audience,
			RefreshInterval: server.JWT.RefreshInterval,
			HTTPClient:      config.HTTPClient,
			Directory:       config.Directory,
			Now:             config.Now,
			Logger:          config.Logger,
		})
		if err != nil {
			return nil, oerrors.Wrap(oerrors.CodeConfiguration, "failed to initialize jwt handler", err)
		}
		return approach.NewRegistry(handler)
	default:
		handler, err := newOpaqueTokenHandler(config)
		if err != nil {
			return nil, err
		}
		return approach.NewRegistry(handler)
	}
}

func newOpaqueTokenHandler(config Config) (*introspection.OpaqueTokenHandler, error) {
	opaque := config.Security.Server.OAuth2.OpaqueToken
	if config.Directory == nil {
		return nil, oerrors.Configuration("opaque-token mode requires a user directory")
	}

	client, err := introspection.NewClient(introspection.ClientConfig{
		IntrospectionURI: opaque.IntrospectionURI,
		ClientID:         opaque.ClientID,
		ClientSecret:     opaque.ClientSecret,
		HTTPClient:       config.HTTPClient,
		Logger:           config.Logger,
	})
	if err != nil {
		return nil, err
	}

	metrics, err := introspection.NewMetrics(config.Registerer)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeConfiguration, "failed to register introspection metrics", err)
	}

	cache, err := introspection.NewCache(introspection.CacheConfig{
		Introspector: client,
		Memory:       config.CacheStore.Token,
		Cluster:      config.CacheStore.Cluster,
		Calculator: expiration.Calculator{
			DefaultTokenExpiresIn: opaque.DefaultTokenExpiresIn,
			MinimumTokenValidity:  config.Security.MinimumTokenValidity,
			MaxCacheDuration:      opaque.MaxCacheDuration,
			Now:                   config.Now,
		},
		PreCacheDuration: opaque.PreCacheDuration,
		Metrics:          metrics,
		Logger:           config.Logger,
	})
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeConfiguration, "failed to initialize introspection cache", err)
	}

	return introspection.NewOpaqueTokenHandler(cache, config.Directory, config.Logger)
}

func newLoginRoutes(ctx context.Context, config Config, issuer *session.Issuer, credentials directory.CredentialVerifier) (*login.Routes, error) {
	security := config.Security
	loginConfig := login.Config{
		LoginPage:   security.Login.LoginPage,
		RedirectURI: security.Login.RedirectURI,
		Issuer:      issuer,
		HTTPClient:  config.HTTPClient,
		Logger:      config.Logger,
	}

	for _, mode := range security.Login.Modes {
		loginConfig.Modes = append(loginConfig.Modes, string(mode))
	}

	if security.loginMode(ModeOAuth2) {
		requests, err := authrequest.NewStore(config.Cipher, security.Cookies.session(), config.Logger)
		if err != nil {
			return nil, err
		}

		provider, err := discoverProvider(ctx, config, security.Login.OAuth2)
		if err != nil {
			return nil, err
		}
		loginConfig.Provider = provider.Provider
		loginConfig.DisablePKCE = provider.DisablePKCE
		loginConfig.Requests = requests
		loginConfig.OAuth2 = &oauth2.Config{
			ClientID:     provider.ClientID,
			ClientSecret: provider.ClientSecret,
			RedirectURL:  provider.RedirectURI,
			Scopes:       provider.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   provider.AuthorizationURI,
				TokenURL:  provider.TokenURI,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}
	}
	if security.loginMode(ModeClassic) {
		loginConfig.Credentials = credentials
	}

	routes, err := login.NewRoutes(loginConfig)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeConfiguration, "failed to initialize login routes", err)
	}
	return routes, nil
}

// Authenticate validates a bearer token and returns its principal.
func (c *Client) Authenticate(ctx context.Context, token string) (Principal, error) {
	if c == nil || c.auth == nil {
		return Principal{}, oerrors.ErrMissingAuthenticator
	}
	return c.auth.ValidateToken(ctx, token)
}

// AuthenticateCredentials checks classic username and secret.
func (c *Client) AuthenticateCredentials(ctx context.Context, username string, secret string) (Principal, error) {
	if c == nil || c.auth == nil {
		return Principal{}, oerrors.ErrMissingAuthenticator
	}
	return c.auth.VerifyCredentials(ctx, username, secret)
}

// Middleware authenticates every request outside the public paths and
// attaches the Principal to its context.
func (c *Client) Middleware() func(http.Handler) http.Handler {
	return c.middleware
}

// RequireAuthorities rejects principals holding none of required.
func (c *Client) RequireAuthorities(required ...string) func(http.Handler) http.Handler {
	return httptransport.RequireAuthorities(AuthoritiesFromContext, required...)
}

// Register mounts the login endpoints when login is enabled.
func (c *Client) Register(r chi.Router) {
	if c.login != nil {
		c.login.Register(r)
	}
}

func (c *Client) Cipher() ocrypto.Cipher {
	return c.cipher
}

// Issuer writes session cookies; nil when no cipher is configured.
func (c *Client) Issuer() *session.Issuer {
	return c.issuer
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	err := c.closeResource()
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	c.auth = nil
	return nil
}

// discoverProvider fills the endpoints provider leaves empty from the
// discovery document of its issuer.
func discoverProvider(ctx context.Context, config Config, provider LoginOAuth2Config) (LoginOAuth2Config, error) {
	if provider.IssuerURI == "" || (provider.AuthorizationURI != "" && provider.TokenURI != "") {
		return provider, nil
	}

	metadata, err := login.Discover(ctx, config.HTTPClient, provider.IssuerURI)
	if err != nil {
		return LoginOAuth2Config{}, oerrors.Wrap(oerrors.CodeConfiguration, "failed to discover security.login.oauth2 endpoints", err)
	}
	if provider.AuthorizationURI == "" {
		provider.AuthorizationURI = metadata.AuthorizationEndpoint
	}
	if provider.TokenURI == "" {
		provider.TokenURI = metadata.TokenEndpoint
	}
	config.Logger.V(1).Info("discovered login provider endpoints",
		"issuer", metadata.Issuer,
		"authorization_uri", provider.AuthorizationURI,
		"token_uri", provider.TokenURI,
	)
	return provider, nil
}
