package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/porthorian/statelessauth/pkg/cache"
	"github.com/porthorian/statelessauth/pkg/storage"
)

const (
	putTokenCacheQuery = `
INSERT INTO statelessauth.token_cache (
  key, value, created_at, duration_ms, expires_at
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key) DO UPDATE
SET
  value = EXCLUDED.value,
  created_at = EXCLUDED.created_at,
  duration_ms = EXCLUDED.duration_ms,
  expires_at = EXCLUDED.expires_at
`

	getTokenCacheQuery = `
SELECT
  key, value, created_at, duration_ms, expires_at
FROM statelessauth.token_cache
WHERE key = $1 AND expires_at > $2
`

	deleteTokenCacheQuery = `DELETE FROM statelessauth.token_cache WHERE key = $1`

	deleteOutdatedTokenCacheQuery = `DELETE FROM statelessauth.token_cache WHERE expires_at <= $1`
)

var _ cache.ClusterStore = (*Adapter)(nil)

func (a *Adapter) PutTokenCache(ctx context.Context, record storage.TokenCacheRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}
	if record.Key == "" {
		return ErrEmptyKey
	}
	if record.Duration <= 0 {
		return ErrInvalidTTL
	}

	createdAt := record.CreatedAt.UTC()
	if record.CreatedAt.IsZero() {
		createdAt = a.currentTime()
	}

	_, err := a.stmts.putTokenCache.ExecContext(
		ctx,
		record.Key,
		record.Value,
		createdAt,
		record.Duration.Milliseconds(),
		createdAt.Add(record.Duration),
	)
	return err
}

func (a *Adapter) GetTokenCache(ctx context.Context, key string) (storage.TokenCacheRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.TokenCacheRecord{}, err
	}

	row := a.stmts.getTokenCache.QueryRowContext(ctx, key, a.currentTime())
	record, err := scanTokenCache(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TokenCacheRecord{}, storage.ErrNotFound
	}
	return record, err
}

func (a *Adapter) DeleteTokenCache(ctx context.Context, key string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.deleteTokenCache.ExecContext(ctx, key)
	return err
}

// DeleteOutdatedTokenCache removes every entry expired at now and reports how
// many rows were dropped.
func (a *Adapter) DeleteOutdatedTokenCache(ctx context.Context, now time.Time) (int64, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return 0, err
	}

	result, err := a.stmts.deleteOutdatedTokenCache.ExecContext(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (a *Adapter) PutValue(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.PutTokenCache(ctx, storage.TokenCacheRecord{
		Key:      key,
		Value:    value,
		Duration: ttl,
	})
}

func (a *Adapter) GetValue(ctx context.Context, key string) ([]byte, bool, error) {
	record, err := a.GetTokenCache(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record.Value, true, nil
}

func (a *Adapter) DeleteValue(ctx context.Context, key string) error {
	return a.DeleteTokenCache(ctx, key)
}

func scanTokenCache(s scanner) (storage.TokenCacheRecord, error) {
	var (
		record     storage.TokenCacheRecord
		durationMS int64
	)

	if err := s.Scan(
		&record.Key,
		&record.Value,
		&record.CreatedAt,
		&durationMS,
		&record.ExpiresAt,
	); err != nil {
		return storage.TokenCacheRecord{}, err
	}

	record.CreatedAt = record.CreatedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.Duration = time.Duration(durationMS) * time.Millisecond
	return record, nil
}
