package login

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WellKnownOpenIDConfiguration is appended to an issuer to locate its
// discovery document.
const WellKnownOpenIDConfiguration = "/.well-known/openid-configuration"

const maxDiscoveryDocumentSize = 1 << 20

// ProviderMetadata is the subset of an OpenID provider discovery document
// the login flow needs.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// Discover fetches the discovery document of issuer. The document must name
// the same issuer and carry absolute authorization and token endpoints.
func Discover(ctx context.Context, client *http.Client, issuer string) (ProviderMetadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")
	if _, err := url.ParseRequestURI(issuer); err != nil {
		return ProviderMetadata{}, fmt.Errorf("login: invalid issuer %q: %w", issuer, err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	wellKnown := issuer + WellKnownOpenIDConfiguration
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return ProviderMetadata{}, fmt.Errorf("login: build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return ProviderMetadata{}, fmt.Errorf("login: GET %s: %w", wellKnown, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ProviderMetadata{}, fmt.Errorf("login: %s: HTTP %d", wellKnown, resp.StatusCode)
	}

	var metadata ProviderMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscoveryDocumentSize)).Decode(&metadata); err != nil {
		return ProviderMetadata{}, fmt.Errorf("login: %s: unexpected response: %w", wellKnown, err)
	}
	if err := metadata.validate(issuer); err != nil {
		return ProviderMetadata{}, fmt.Errorf("login: %s: invalid metadata: %w", wellKnown, err)
	}
	return metadata, nil
}

func (m ProviderMetadata) validate(expectedIssuer string) error {
	if strings.TrimSuffix(m.Issuer, "/") != expectedIssuer {
		return fmt.Errorf("issuer mismatch: expected %s, got %s", expectedIssuer, m.Issuer)
	}
	endpoints := []struct {
		name  string
		value string
	}{
		{"authorization_endpoint", m.AuthorizationEndpoint},
		{"token_endpoint", m.TokenEndpoint},
	}
	for _, endpoint := range endpoints {
		if endpoint.value == "" {
			return fmt.Errorf("missing %s", endpoint.name)
		}
		parsed, err := url.Parse(endpoint.value)
		if err != nil || !parsed.IsAbs() {
			return fmt.Errorf("invalid %s %q", endpoint.name, endpoint.value)
		}
	}
	return nil
}
