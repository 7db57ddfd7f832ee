package statelessauth

import (
	"context"
	"slices"
	"time"

	"github.com/porthorian/statelessauth/pkg/approach"
	"github.com/porthorian/statelessauth/pkg/authz"
	httptransport "github.com/porthorian/statelessauth/pkg/transport/http"
)

type Claims map[string]any

// Method tells how a principal proved its identity.
type Method string

const (
	MethodToken   Method = httptransport.MethodToken
	MethodClassic Method = httptransport.MethodClassic
)

type Principal struct {
	Subject         string
	Method          Method
	Authorities     []string
	RoleMask        authz.RoleMask
	PermissionMask  authz.PermissionMask
	Claims          Claims
	ExpiresAt       time.Time // zero for classic credentials
	AuthenticatedAt time.Time
}

func newPrincipal(method Method, result approach.Result, now time.Time) Principal {
	authorities := make([]string, 0, len(result.Authorities))
	for _, authority := range result.Authorities {
		if normalized := authz.NormalizeAuthority(authority); normalized != "" && !slices.Contains(authorities, normalized) {
			authorities = append(authorities, normalized)
		}
	}

	roleMask := authz.RoleMaskFromAuthorities(authorities)
	return Principal{
		Subject:         result.Subject,
		Method:          method,
		Authorities:     authorities,
		RoleMask:        roleMask,
		PermissionMask:  authz.EffectivePermissions(roleMask, 0),
		Claims:          Claims(result.Claims),
		ExpiresAt:       result.ExpiresAt,
		AuthenticatedAt: now,
	}
}

func (p Principal) HasAuthority(authority string) bool {
	return slices.Contains(p.Authorities, authz.NormalizeAuthority(authority))
}

func (p Principal) HasPermissions(required authz.PermissionMask) bool {
	return authz.HasAllPermissions(p.PermissionMask, required)
}

// Authenticator validates the two kinds of credentials a caller can present.
type Authenticator interface {
	ValidateToken(ctx context.Context, token string) (Principal, error)
	VerifyCredentials(ctx context.Context, username string, secret string) (Principal, error)
}
