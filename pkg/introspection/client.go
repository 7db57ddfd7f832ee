package introspection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/protocol/oauth"
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
)

type ClientConfig struct {
	IntrospectionURI string
	ClientID         string
	ClientSecret     string
	HTTPClient       *http.Client
	Logger           logr.Logger
}

// Client calls the IDP introspection endpoint. It holds no state between calls.
type Client struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       logr.Logger
}

var _ oauth.Introspector = (*Client)(nil)

func NewClient(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.IntrospectionURI) == "" {
		return nil, oerrors.Configuration("security.server.oauth2.opaque-token.introspection-uri is required")
	}
	if _, err := url.ParseRequestURI(config.IntrospectionURI); err != nil {
		return nil, oerrors.Wrap(oerrors.CodeConfiguration, "security.server.oauth2.opaque-token.introspection-uri is invalid", err)
	}
	if config.ClientID == "" {
		return nil, oerrors.Configuration("security.server.oauth2.opaque-token.client-id is required")
	}
	if config.ClientSecret == "" {
		return nil, oerrors.Configuration("security.server.oauth2.opaque-token.client-secret is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return &Client{
		endpoint:     config.IntrospectionURI,
		clientID:     config.ClientID,
		clientSecret: config.ClientSecret,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// Introspect asks the IDP about token. Blank tokens are rejected without a
// network call; inactive tokens are reported as bad tokens.
func (c *Client) Introspect(ctx context.Context, token string) (oauth.IntrospectionResult, error) {
	if strings.TrimSpace(token) == "" {
		return oauth.IntrospectionResult{}, oerrors.BadToken(oerrors.MessageTokenNullOrEmpty)
	}

	body, err := c.post(ctx, token)
	if err != nil {
		c.logger.Error(err, "token introspection failed", "endpoint", c.endpoint)
		return oauth.IntrospectionResult{}, oerrors.Wrap(oerrors.CodeIntrospectionTransport, oerrors.MessageIntrospectionFailed, err)
	}

	result, err := parseResponse(body)
	if err != nil {
		c.logger.Error(err, "token introspection response rejected", "endpoint", c.endpoint)
		return oauth.IntrospectionResult{}, oerrors.Wrap(oerrors.CodeIntrospectionTransport, oerrors.MessageIntrospectionFailed, err)
	}

	if !result.Active {
		c.logger.V(1).Info("introspected token is not active")
		return oauth.IntrospectionResult{}, oerrors.BadToken(oerrors.MessageTokenNotActive)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, token string) ([]byte, error) {
	form := url.Values{"token": {token}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read introspection response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspection endpoint returned status %d", resp.StatusCode)
	}
	return body, nil
}

type wireResponse struct {
	Active     bool         `json:"active"`
	Scope      string       `json:"scope,omitempty"`
	ClientID   string       `json:"client_id,omitempty"`
	ClientType string       `json:"client_type,omitempty"`
	Username   string       `json:"username,omitempty"`
	Subject    string       `json:"sub,omitempty"`
	TokenType  string       `json:"token_type,omitempty"`
	IssuedAt   *numericDate `json:"iat,omitempty"`
	ExpiresAt  *numericDate `json:"exp,omitempty"`
	Audience   audience     `json:"aud,omitempty"`
	GroupType  string       `json:"group_type,omitempty"`
}

var errNullResponse = errors.New(oerrors.MessageIntrospectionNullBody)

func parseResponse(body []byte) (oauth.IntrospectionResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return oauth.IntrospectionResult{}, errNullResponse
	}

	var wire wireResponse
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return oauth.IntrospectionResult{}, fmt.Errorf("decode introspection response: %w", err)
	}

	subject := strings.TrimSpace(wire.Subject)
	if subject == "" {
		subject = strings.TrimSpace(wire.Username)
	}

	return oauth.IntrospectionResult{
		Active:     wire.Active,
		Subject:    subject,
		Username:   strings.TrimSpace(wire.Username),
		Scope:      strings.TrimSpace(wire.Scope),
		ClientID:   wire.ClientID,
		ClientType: wire.ClientType,
		TokenType:  wire.TokenType,
		IssuedAt:   wire.IssuedAt.value(),
		ExpiresAt:  wire.ExpiresAt.value(),
		Audience:   []string(wire.Audience),
		GroupType:  wire.GroupType,
	}, nil
}

// numericDate is seconds since the epoch, sent as a JSON number or string.
type numericDate struct {
	t time.Time
}

func (n *numericDate) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return nil
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric date %q: %w", raw, err)
	}
	whole, frac := math.Modf(seconds)
	n.t = time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	return nil
}

func (n *numericDate) value() *time.Time {
	if n == nil || n.t.IsZero() {
		return nil
	}
	t := n.t
	return &t
}

// audience accepts a single string or an array of strings.
type audience []string

func (a *audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single != "" {
			*a = audience{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("invalid aud claim: %w", err)
	}
	*a = many
	return nil
}
