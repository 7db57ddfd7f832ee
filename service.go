package statelessauth

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"

	"github.com/porthorian/statelessauth/pkg/approach"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
)

// AuthService turns validated tokens and classic credentials into principals.
// A nil validator or verifier disables that kind of credential.
type AuthService struct {
	validator   approach.Handler
	credentials directory.CredentialVerifier
	now         func() time.Time
	logger      logr.Logger
}

var _ Authenticator = (*AuthService)(nil)

func NewAuthService(validator approach.Handler, credentials directory.CredentialVerifier, now func() time.Time, logger logr.Logger) *AuthService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &AuthService{
		validator:   validator,
		credentials: credentials,
		now:         now,
		logger:      resolveLogger(logger),
	}
}

func (s *AuthService) ValidateToken(ctx context.Context, token string) (Principal, error) {
	if s.validator == nil {
		return Principal{}, oerrors.New(oerrors.CodeNotImplemented, "token authentication is not enabled")
	}

	result, err := s.validator.Validate(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	return newPrincipal(MethodToken, result, s.now()), nil
}

func (s *AuthService) VerifyCredentials(ctx context.Context, username string, secret string) (Principal, error) {
	if s.credentials == nil {
		return Principal{}, oerrors.New(oerrors.CodeNotImplemented, "classic authentication is not enabled")
	}

	authorities, err := s.credentials.VerifyCredentials(ctx, username, secret)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidCredentials) {
			return Principal{}, oerrors.Wrap(oerrors.CodeUnauthenticated, "invalid credentials", err)
		}
		return Principal{}, err
	}

	s.logger.V(1).Info("classic credentials accepted", "user", username)
	return newPrincipal(MethodClassic, approach.Result{
		Subject:     username,
		Authorities: authorities,
		Claims:      map[string]any{"sub": username},
	}, s.now()), nil
}
