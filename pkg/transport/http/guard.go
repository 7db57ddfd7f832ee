package httptransport

import (
	"context"
	"net/http"

	"github.com/porthorian/statelessauth/pkg/authz"
)

// AuthoritiesFunc reads the authorities of the authenticated caller from ctx.
// ok is false for anonymous requests.
type AuthoritiesFunc func(ctx context.Context) (authorities []string, ok bool)

// RequireAuthorities lets a request through when the caller holds any of the
// required authorities.
func RequireAuthorities(lookup AuthoritiesFunc, required ...string) func(http.Handler) http.Handler {
	requiredMask := authz.RoleMaskFromAuthorities(required)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorities, ok := lookup(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "")
				return
			}
			if requiredMask != 0 && !authz.HasAnyRole(authz.RoleMaskFromAuthorities(authorities), requiredMask) {
				writeError(w, http.StatusForbidden, "forbidden", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
