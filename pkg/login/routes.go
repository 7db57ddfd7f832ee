// Package login serves the browser login endpoints. All state of a login
// attempt travels in encrypted cookies.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/porthorian/statelessauth/pkg/authrequest"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/protocol/oauth"
	"github.com/porthorian/statelessauth/pkg/session"
)

const (
	ModeOAuth2  = "oauth2"
	ModeClassic = "classic"
)

const (
	PathIndex      = "/login"
	PathOAuth2     = "/login/oauth2"
	PathOAuth2Code = "/login/oauth2/code"
	PathClassic    = "/login/classic"
	PathLogout     = "/logout"
)

const (
	attributeProvider = "registration_id"
	attributeVerifier = "code_verifier"
)

var (
	ErrNoModes         = errors.New("login: at least one login mode is required")
	ErrUnknownMode     = errors.New("login: unknown login mode")
	ErrMissingOAuth2   = errors.New("login: oauth2 mode requires an oauth2 client config")
	ErrMissingRequests = errors.New("login: oauth2 mode requires an authorization request store")
	ErrMissingVerifier = errors.New("login: classic mode requires a credential verifier")
	ErrMissingIssuer   = errors.New("login: session issuer is required")

	errRequestNotFound = errors.New("authorization request not found")
	errStateMismatch   = errors.New("authorization state mismatch")
	errMissingCode     = errors.New("authorization code missing")
	errExchangeFailed  = errors.New("authorization code exchange failed")
	errNoAccessToken   = errors.New("token response carries no access token")
)

type Config struct {
	Modes []string
	// LoginPage is the application page that starts a login, if any.
	LoginPage string
	// RedirectURI is where the browser lands after login and logout.
	RedirectURI string
	Provider    string
	OAuth2      *oauth2.Config
	DisablePKCE bool
	Requests    *authrequest.Store
	Credentials directory.CredentialVerifier
	Issuer      *session.Issuer
	// HTTPClient is used for the code exchange.
	HTTPClient *http.Client
	NewState   func() string
	Logger     logr.Logger
}

type Routes struct {
	config Config
	logger logr.Logger
}

func NewRoutes(config Config) (*Routes, error) {
	if len(config.Modes) == 0 {
		return nil, ErrNoModes
	}
	if config.Issuer == nil {
		return nil, ErrMissingIssuer
	}
	for _, mode := range config.Modes {
		switch mode {
		case ModeOAuth2:
			if config.OAuth2 == nil {
				return nil, ErrMissingOAuth2
			}
			if config.Requests == nil {
				return nil, ErrMissingRequests
			}
		case ModeClassic:
			if config.Credentials == nil {
				return nil, ErrMissingVerifier
			}
		default:
			return nil, ErrUnknownMode
		}
	}

	if config.RedirectURI == "" {
		config.RedirectURI = "/"
	}
	if config.NewState == nil {
		config.NewState = uuid.NewString
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return &Routes{config: config, logger: logger}, nil
}

func (rt *Routes) enabled(mode string) bool {
	return slices.Contains(rt.config.Modes, mode)
}

// Register mounts the login endpoints of the enabled modes on r.
func (rt *Routes) Register(r chi.Router) {
	r.Get(PathIndex, rt.index)
	r.Get(PathLogout, rt.logout)

	if rt.enabled(ModeOAuth2) {
		r.Get(PathOAuth2, rt.startOAuth2)
		r.Get(PathOAuth2Code, rt.oauth2Callback)
	}
	if rt.enabled(ModeClassic) {
		r.Post(PathClassic, rt.classic)
	}
}

func (rt *Routes) Handler() http.Handler {
	r := chi.NewRouter()
	rt.Register(r)
	return r
}

type indexResponse struct {
	Modes     []string `json:"modes"`
	LoginPage string   `json:"loginPage,omitempty"`
	OAuth2    string   `json:"oauth2,omitempty"`
	Classic   string   `json:"classic,omitempty"`
}

func (rt *Routes) index(w http.ResponseWriter, _ *http.Request) {
	body := indexResponse{Modes: rt.config.Modes, LoginPage: rt.config.LoginPage}
	if rt.enabled(ModeOAuth2) {
		body.OAuth2 = PathOAuth2
	}
	if rt.enabled(ModeClassic) {
		body.Classic = PathClassic
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (rt *Routes) startOAuth2(w http.ResponseWriter, r *http.Request) {
	cfg := rt.config.OAuth2
	state := rt.config.NewState()

	var options []oauth2.AuthCodeOption
	attributes := map[string]any{}
	if rt.config.Provider != "" {
		attributes[attributeProvider] = rt.config.Provider
	}
	if !rt.config.DisablePKCE {
		verifier := oauth2.GenerateVerifier()
		attributes[attributeVerifier] = verifier
		options = append(options, oauth2.S256ChallengeOption(verifier))
	}

	authURL := cfg.AuthCodeURL(state, options...)
	request := &oauth.AuthorizationRequest{
		AuthorizationURI:        cfg.Endpoint.AuthURL,
		GrantType:               oauth.GrantTypeAuthorizationCode,
		ResponseType:            oauth.ResponseTypeCode,
		ClientID:                cfg.ClientID,
		RedirectURI:             cfg.RedirectURL,
		Scopes:                  cfg.Scopes,
		State:                   state,
		AdditionalParameters:    map[string]any{},
		AuthorizationRequestURI: authURL,
		Attributes:              attributes,
	}

	if err := rt.config.Requests.Save(request, w, r); err != nil {
		rt.logger.Error(err, "failed to store authorization request")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (rt *Routes) oauth2Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		rt.logger.Info("identity provider rejected login", "error", errParam, "description", query.Get("error_description"))
		_, _ = rt.config.Requests.Remove(w, r)
		rt.fail(w, http.StatusUnauthorized, errors.New(errParam))
		return
	}

	request, err := rt.config.Requests.Remove(w, r)
	switch {
	case err != nil:
		rt.fail(w, http.StatusBadRequest, err)
		return
	case request == nil:
		rt.fail(w, http.StatusBadRequest, errRequestNotFound)
		return
	case request.State == "" || request.State != query.Get("state"):
		rt.fail(w, http.StatusBadRequest, errStateMismatch)
		return
	}

	code := query.Get("code")
	if code == "" {
		rt.fail(w, http.StatusBadRequest, errMissingCode)
		return
	}

	var options []oauth2.AuthCodeOption
	if verifier, ok := request.Attributes[attributeVerifier].(string); ok && verifier != "" {
		options = append(options, oauth2.VerifierOption(verifier))
	}

	token, err := rt.config.OAuth2.Exchange(rt.exchangeContext(r.Context()), code, options...)
	if err != nil {
		rt.logger.Error(err, "authorization code exchange failed")
		rt.fail(w, http.StatusUnauthorized, errExchangeFailed)
		return
	}
	if token.AccessToken == "" {
		rt.fail(w, http.StatusUnauthorized, errNoAccessToken)
		return
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		expiresAt = &expiry
	}

	if err := rt.config.Issuer.IssueAccessToken(w, token.AccessToken, expiresAt); err != nil {
		rt.logger.Error(err, "failed to issue access token cookie")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, rt.config.RedirectURI, http.StatusFound)
}

func (rt *Routes) exchangeContext(ctx context.Context) context.Context {
	if rt.config.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, rt.config.HTTPClient)
}

func (rt *Routes) classic(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		rt.fail(w, http.StatusBadRequest, err)
		return
	}

	username := strings.TrimSpace(r.PostForm.Get("username"))
	secret := r.PostForm.Get("password")
	if username == "" || secret == "" {
		rt.fail(w, http.StatusUnauthorized, directory.ErrInvalidCredentials)
		return
	}

	if _, err := rt.config.Credentials.VerifyCredentials(r.Context(), username, secret); err != nil {
		if credentialFault(err) {
			rt.logger.Error(err, "credential verification failed", "username", username)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		rt.logger.V(1).Info("classic login rejected", "username", username)
		rt.fail(w, http.StatusUnauthorized, directory.ErrInvalidCredentials)
		return
	}

	if err := rt.config.Issuer.IssueClassic(w, username, secret); err != nil {
		rt.logger.Error(err, "failed to issue classic auth cookie")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, rt.config.RedirectURI, http.StatusSeeOther)
}

// credentialFault reports verifier errors caused by the server side, such as
// an unreachable directory, as opposed to a rejected username or password.
func credentialFault(err error) bool {
	if errors.Is(err, directory.ErrInvalidCredentials) || errors.Is(err, directory.ErrUnknownUser) {
		return false
	}
	return oerrors.IsInternalCode(err)
}

func (rt *Routes) logout(w http.ResponseWriter, r *http.Request) {
	rt.config.Issuer.Clear(w)
	http.Redirect(w, r, rt.config.RedirectURI, http.StatusFound)
}

func (rt *Routes) fail(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
