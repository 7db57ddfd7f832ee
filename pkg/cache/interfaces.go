package cache

import (
	"context"
	"time"

	"github.com/porthorian/statelessauth/pkg/protocol/oauth"
)

// Entry is a cached introspection result, honoured while now < ValidUntil.
type Entry struct {
	Result     oauth.IntrospectionResult `json:"result"`
	ValidUntil time.Time                 `json:"valid_until"`
}

func (e Entry) ValidAt(now time.Time) bool {
	return now.Before(e.ValidUntil)
}

type TokenCache interface {
	SetToken(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	GetToken(ctx context.Context, key string) (Entry, bool, error)
	DeleteToken(ctx context.Context, key string) error
}

// ClusterStore persists opaque values shared between service instances.
type ClusterStore interface {
	PutValue(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetValue(ctx context.Context, key string) ([]byte, bool, error)
	DeleteValue(ctx context.Context, key string) error
}

// Dependencies are the cache layers of the introspection cache. Cluster is
// optional.
type Dependencies struct {
	Token   TokenCache
	Cluster TokenCache
}

func CloneEntry(entry Entry) Entry {
	entry.Result = cloneResult(entry.Result)
	return entry
}

func cloneResult(result oauth.IntrospectionResult) oauth.IntrospectionResult {
	if result.IssuedAt != nil {
		t := *result.IssuedAt
		result.IssuedAt = &t
	}
	if result.ExpiresAt != nil {
		t := *result.ExpiresAt
		result.ExpiresAt = &t
	}
	if result.Audience != nil {
		result.Audience = append([]string(nil), result.Audience...)
	}
	return result
}
