package httptransport

import (
	"encoding/json"
	"net/http"

	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/session"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// UnauthorizedEntryPoint answers a failed authentication. It drops the OAuth2
// access-token cookie so the browser stops replaying a rejected token.
func UnauthorizedEntryPoint(cookies session.CookieConfig) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		http.SetCookie(w, cookies.Expire(cookies.AccessTokenCookieName()))
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
	}
}

// StatusFor maps an authentication error onto the response status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case oerrors.IsCode(err, oerrors.CodePermissionDenied):
		return http.StatusForbidden
	case oerrors.IsInternalCode(err):
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}
