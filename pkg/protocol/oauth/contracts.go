package oauth

import (
	"context"
	"time"
)

// Claim names attached to an authenticated opaque-token principal.
const (
	ClaimActive    = "active"
	ClaimScope     = "scope"
	ClaimClientID  = "client_id"
	ClaimUsername  = "username"
	ClaimTokenType = "token_type"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
	ClaimSubject   = "sub"
	ClaimAudience  = "aud"
)

// IntrospectionResult is the parsed answer of the IDP for one token. Only
// Active and Subject are required.
type IntrospectionResult struct {
	Active     bool       `json:"active"`
	Subject    string     `json:"subject"`
	Username   string     `json:"username,omitempty"`
	Scope      string     `json:"scope,omitempty"`
	ClientID   string     `json:"client_id,omitempty"`
	ClientType string     `json:"client_type,omitempty"`
	TokenType  string     `json:"token_type,omitempty"`
	IssuedAt   *time.Time `json:"issued_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Audience   []string   `json:"audience,omitempty"`
	GroupType  string     `json:"group_type,omitempty"`
}

// Claims renders the result with the standard claim names.
func (r IntrospectionResult) Claims() map[string]any {
	claims := map[string]any{
		ClaimActive:  r.Active,
		ClaimSubject: r.Subject,
	}
	if r.Scope != "" {
		claims[ClaimScope] = r.Scope
	}
	if r.ClientID != "" {
		claims[ClaimClientID] = r.ClientID
	}
	if r.Username != "" {
		claims[ClaimUsername] = r.Username
	}
	if r.TokenType != "" {
		claims[ClaimTokenType] = r.TokenType
	}
	if r.IssuedAt != nil {
		claims[ClaimIssuedAt] = *r.IssuedAt
	}
	if r.ExpiresAt != nil {
		claims[ClaimExpiresAt] = *r.ExpiresAt
	}
	if len(r.Audience) > 0 {
		claims[ClaimAudience] = append([]string(nil), r.Audience...)
	}
	return claims
}

type Introspector interface {
	Introspect(ctx context.Context, token string) (IntrospectionResult, error)
}

type GrantType string

const GrantTypeAuthorizationCode GrantType = "authorization_code"

type ResponseType string

const ResponseTypeCode ResponseType = "code"

// AuthorizationRequest holds the parameters of an in-flight authorization
// code flow between the redirect to the IDP and its callback.
type AuthorizationRequest struct {
	AuthorizationURI        string
	GrantType               GrantType
	ResponseType            ResponseType
	ClientID                string
	RedirectURI             string
	Scopes                  []string
	State                   string
	AdditionalParameters    map[string]any
	AuthorizationRequestURI string
	Attributes              map[string]any
}
