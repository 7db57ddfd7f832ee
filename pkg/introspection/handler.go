package introspection

import (
	"context"
	"errors"
	"strings"

	"github.com/go-logr/logr"

	"github.com/porthorian/statelessauth/pkg/approach"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
)

// OpaqueTokenHandler turns a cached introspection result into an
// authenticated subject with its directory authorities.
type OpaqueTokenHandler struct {
	cache     *Cache
	directory directory.Directory
	logger    logr.Logger
}

var _ approach.Handler = (*OpaqueTokenHandler)(nil)

func NewOpaqueTokenHandler(cache *Cache, dir directory.Directory, logger logr.Logger) (*OpaqueTokenHandler, error) {
	if cache == nil {
		return nil, errors.New("opaque token handler: cache is required")
	}
	if dir == nil {
		return nil, errors.New("opaque token handler: directory is required")
	}
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &OpaqueTokenHandler{cache: cache, directory: dir, logger: logger}, nil
}

func (h *OpaqueTokenHandler) Name() string {
	return approach.NameOpaqueToken
}

func (h *OpaqueTokenHandler) Validate(ctx context.Context, token string) (approach.Result, error) {
	if strings.TrimSpace(token) == "" {
		return approach.Result{}, oerrors.BadToken(oerrors.MessageTokenNullOrEmpty)
	}

	result, err := h.cache.GetOrIntrospect(ctx, token)
	if err != nil {
		return approach.Result{}, err
	}
	if result.Subject == "" {
		return approach.Result{}, oerrors.BadToken(oerrors.MessageSubjectNullOrEmpty)
	}

	authorities, err := h.directory.Authorities(ctx, result.Subject)
	if err != nil {
		if errors.Is(err, directory.ErrUnknownUser) {
			h.logger.V(1).Info("introspected subject is not a known user", "subject", result.Subject)
			return approach.Result{}, oerrors.Wrap(oerrors.CodeUnauthenticated, "unknown user", err)
		}
		return approach.Result{}, oerrors.Wrap(oerrors.CodeStorageUnavailable, "failed to resolve authorities", err)
	}

	out := approach.Result{
		Subject:     result.Subject,
		Authorities: authorities,
		Claims:      result.Claims(),
	}
	if result.ExpiresAt != nil {
		out.ExpiresAt = *result.ExpiresAt
	}
	return out, nil
}
