// Package authrequest keeps an in-flight OAuth2 authorization request in an
// encrypted, short-lived cookie instead of a server-side session.
package authrequest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/protocol/oauth"
	"github.com/porthorian/statelessauth/pkg/session"
)

// CookieAge bounds how long a login round-trip may take.
const CookieAge = time.Minute

var ErrNilRequest = errors.New("authorization request is nil")

type Store struct {
	cipher  ocrypto.Cipher
	cookies session.CookieConfig
	logger  logr.Logger
}

func NewStore(cipher ocrypto.Cipher, cookies session.CookieConfig, logger logr.Logger) (*Store, error) {
	if cipher == nil {
		return nil, oerrors.Configuration("authorization request store requires a cipher")
	}
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Store{cipher: cipher, cookies: cookies, logger: logger}, nil
}

// Save serializes req, encrypts it and sets it as a one-minute cookie.
func (s *Store) Save(req *oauth.AuthorizationRequest, w http.ResponseWriter, r *http.Request) error {
	if req == nil {
		return ErrNilRequest
	}

	payload, err := json.Marshal(toWire(req))
	if err != nil {
		return oerrors.Wrap(oerrors.CodeCryptoOperation, oerrors.MessageEncryptFailed, err)
	}

	value, err := ocrypto.EncryptToString(s.cipher, string(payload))
	if err != nil {
		return err
	}

	http.SetCookie(w, s.cookies.New(s.cookies.AuthorizationRequestCookieName(), value, CookieAge))
	return nil
}

// Load returns (nil, nil) when the request carries no authorization-request
// cookie.
func (s *Store) Load(r *http.Request) (*oauth.AuthorizationRequest, error) {
	cookie, err := r.Cookie(s.cookies.AuthorizationRequestCookieName())
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	payload, err := ocrypto.DecryptString(s.cipher, cookie.Value)
	if err != nil {
		return nil, err
	}

	var wire wireRequest
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, oerrors.Wrap(oerrors.CodeCryptoOperation, oerrors.MessageDecryptFailed, err)
	}
	return wire.toRequest(), nil
}

// Remove loads the stored request and expires its cookie. It returns nil when
// nothing was stored.
func (s *Store) Remove(w http.ResponseWriter, r *http.Request) (*oauth.AuthorizationRequest, error) {
	req, err := s.Load(r)
	if req == nil && err == nil {
		return nil, nil
	}

	http.SetCookie(w, s.cookies.Expire(s.cookies.AuthorizationRequestCookieName()))
	if err != nil {
		s.logger.V(1).Info("dropped unreadable authorization request cookie", "error", err.Error())
		return nil, err
	}
	return req, nil
}

type wireValue struct {
	Value string `json:"value"`
}

type wireRequest struct {
	AuthorizationURI        string         `json:"authorizationUri"`
	ResponseType            *wireValue     `json:"responseType,omitempty"`
	ClientID                string         `json:"clientId"`
	RedirectURI             string         `json:"redirectUri"`
	Scopes                  []string       `json:"scopes"`
	State                   string         `json:"state"`
	AdditionalParameters    map[string]any `json:"additionalParameters"`
	AuthorizationRequestURI string         `json:"authorizationRequestUri"`
	Attributes              map[string]any `json:"attributes"`
	GrantType               *wireValue     `json:"grantType,omitempty"`
}

func toWire(req *oauth.AuthorizationRequest) wireRequest {
	wire := wireRequest{
		AuthorizationURI:        req.AuthorizationURI,
		ClientID:                req.ClientID,
		RedirectURI:             req.RedirectURI,
		Scopes:                  req.Scopes,
		State:                   req.State,
		AdditionalParameters:    req.AdditionalParameters,
		AuthorizationRequestURI: req.AuthorizationRequestURI,
		Attributes:              req.Attributes,
	}
	if req.ResponseType != "" {
		wire.ResponseType = &wireValue{Value: string(req.ResponseType)}
	}
	if req.GrantType != "" {
		wire.GrantType = &wireValue{Value: string(req.GrantType)}
	}
	return wire
}

func (w wireRequest) toRequest() *oauth.AuthorizationRequest {
	req := &oauth.AuthorizationRequest{
		AuthorizationURI:        w.AuthorizationURI,
		ClientID:                w.ClientID,
		RedirectURI:             w.RedirectURI,
		Scopes:                  w.Scopes,
		State:                   w.State,
		AdditionalParameters:    w.AdditionalParameters,
		AuthorizationRequestURI: w.AuthorizationRequestURI,
		Attributes:              w.Attributes,
	}
	if w.ResponseType != nil {
		req.ResponseType = oauth.ResponseType(w.ResponseType.Value)
	}
	if w.GrantType != nil {
		req.GrantType = oauth.GrantType(w.GrantType.Value)
	}
	return req
}
