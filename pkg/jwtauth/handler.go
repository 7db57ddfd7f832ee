// Package jwtauth validates self-contained JWT access tokens against the
// signing keys published by the IDP.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/porthorian/statelessauth/pkg/approach"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
)

// ClaimAuthorities lists the token's authorities when no directory is
// configured.
const ClaimAuthorities = "authorities"

const DefaultRefreshInterval = 15 * time.Minute

var ErrMissingJWKSetURI = errors.New("jwt handler: jwk set uri is required")

type Config struct {
	JWKSetURI       string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
	HTTPClient      *http.Client
	// Directory supplies authorities for the token subject. When nil the
	// authorities claim of the token is used.
	Directory directory.Directory
	Now       func() time.Time
	Logger    logr.Logger
}

type Handler struct {
	keys      *jwk.Cache
	uri       string
	issuer    string
	audience  string
	directory directory.Directory
	now       func() time.Time
	logger    logr.Logger
}

var _ approach.Handler = (*Handler)(nil)

// NewHandler registers the JWK set with a background-refreshing cache bound
// to ctx. Keys are fetched on first use.
func NewHandler(ctx context.Context, config Config) (*Handler, error) {
	if strings.TrimSpace(config.JWKSetURI) == "" {
		return nil, ErrMissingJWKSetURI
	}

	refresh := config.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	keys := jwk.NewCache(ctx)
	if err := keys.Register(config.JWKSetURI, jwk.WithMinRefreshInterval(refresh), jwk.WithHTTPClient(client)); err != nil {
		return nil, fmt.Errorf("register jwk set: %w", err)
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return &Handler{
		keys:      keys,
		uri:       config.JWKSetURI,
		issuer:    config.Issuer,
		audience:  config.Audience,
		directory: config.Directory,
		now:       now,
		logger:    logger,
	}, nil
}

func (h *Handler) Name() string {
	return approach.NameJWT
}

func (h *Handler) Validate(ctx context.Context, token string) (approach.Result, error) {
	if strings.TrimSpace(token) == "" {
		return approach.Result{}, oerrors.BadToken(oerrors.MessageTokenNullOrEmpty)
	}

	set, err := h.keys.Get(ctx, h.uri)
	if err != nil {
		return approach.Result{}, oerrors.Wrap(oerrors.CodeIntrospectionTransport, "failed to fetch jwk set", err)
	}

	options := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(h.now)),
	}
	if h.issuer != "" {
		options = append(options, jwt.WithIssuer(h.issuer))
	}
	if h.audience != "" {
		options = append(options, jwt.WithAudience(h.audience))
	}

	parsed, err := jwt.Parse([]byte(token), options...)
	if err != nil {
		h.logger.V(1).Info("rejected jwt", "error", err.Error())
		return approach.Result{}, oerrors.Wrap(oerrors.CodeBadToken, "Token is not valid", err)
	}
	if parsed.Subject() == "" {
		return approach.Result{}, oerrors.BadToken(oerrors.MessageSubjectNullOrEmpty)
	}

	authorities, err := h.authorities(ctx, parsed)
	if err != nil {
		return approach.Result{}, err
	}

	claims, err := parsed.AsMap(ctx)
	if err != nil {
		return approach.Result{}, oerrors.Wrap(oerrors.CodeBadToken, "Token is not valid", err)
	}

	return approach.Result{
		Subject:     parsed.Subject(),
		Authorities: authorities,
		Claims:      claims,
		ExpiresAt:   parsed.Expiration(),
	}, nil
}

func (h *Handler) authorities(ctx context.Context, token jwt.Token) ([]string, error) {
	if h.directory != nil {
		authorities, err := h.directory.Authorities(ctx, token.Subject())
		if err != nil {
			if errors.Is(err, directory.ErrUnknownUser) {
				return nil, oerrors.Wrap(oerrors.CodeUnauthenticated, "unknown user", err)
			}
			return nil, oerrors.Wrap(oerrors.CodeStorageUnavailable, "failed to resolve authorities", err)
		}
		return authorities, nil
	}

	raw, ok := token.Get(ClaimAuthorities)
	if !ok {
		return nil, nil
	}
	values, ok := raw.([]any)
	if !ok {
		return nil, nil
	}

	authorities := make([]string, 0, len(values))
	for _, value := range values {
		if s, ok := value.(string); ok && s != "" {
			authorities = append(authorities, s)
		}
	}
	return authorities, nil
}
