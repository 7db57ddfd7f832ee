package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: record not found")

// TokenCacheRecord is one cluster-shared introspection entry. Key is a token
// fingerprint and Value the encrypted entry, never the token itself.
type TokenCacheRecord struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	Duration  time.Duration
	ExpiresAt time.Time
}

type UserRecord struct {
	Name         string
	SecretHash   string
	Authorities  []string
	DateAdded    time.Time
	DateModified *time.Time
}

type TokenCacheStore interface {
	// PutTokenCache upserts record and derives ExpiresAt from CreatedAt and Duration.
	PutTokenCache(ctx context.Context, record TokenCacheRecord) error
	// GetTokenCache returns ErrNotFound for missing and expired keys.
	GetTokenCache(ctx context.Context, key string) (TokenCacheRecord, error)
	DeleteTokenCache(ctx context.Context, key string) error
	DeleteOutdatedTokenCache(ctx context.Context, now time.Time) (int64, error)
}

type UserStore interface {
	PutUser(ctx context.Context, record UserRecord) error
	GetUser(ctx context.Context, name string) (UserRecord, error)
	DeleteUser(ctx context.Context, name string) error
}

type Store interface {
	TokenCacheStore
	UserStore
}
