package statelessauth

import (
	"context"
	"time"

	"github.com/porthorian/statelessauth/pkg/approach"
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the principal attached by the middleware. ok is
// false for anonymous requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(Principal)
	return principal, ok
}

// AuthoritiesFromContext adapts PrincipalFromContext for authority guards.
func AuthoritiesFromContext(ctx context.Context) ([]string, bool) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, false
	}
	return principal.Authorities, true
}

func attachPrincipal(now func() time.Time) func(ctx context.Context, method string, result approach.Result) context.Context {
	return func(ctx context.Context, method string, result approach.Result) context.Context {
		return WithPrincipal(ctx, newPrincipal(Method(method), result, now()))
	}
}
