package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/porthorian/statelessauth/pkg/cache"
)

const (
	DefaultDialTimeout = 5 * time.Second
	keySegment         = "introspection:"
)

var (
	ErrInvalidTTL = errors.New("redis cache: ttl must be greater than zero")
	ErrEmptyKey   = errors.New("redis cache: key is required")
)

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

// Adapter is the redis-backed cluster store shared by all service instances.
type Adapter struct {
	client    redis.UniversalClient
	namespace string
}

var _ cache.ClusterStore = (*Adapter)(nil)

func NewAdapter(ctx context.Context, config Config) (*Adapter, error) {
	if config.Address == "" {
		return nil, errors.New("redis cache: address is required")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: failed to connect: %w", err)
	}

	return NewAdapterWithClient(client, config.Namespace), nil
}

// NewAdapterWithClient wraps an existing client, e.g. one pointed at miniredis.
func NewAdapterWithClient(client redis.UniversalClient, namespace string) *Adapter {
	return &Adapter{
		client:    client,
		namespace: namespace,
	}
}

func (a *Adapter) key(key string) string {
	if a.namespace == "" {
		return keySegment + key
	}
	return a.namespace + ":" + keySegment + key
}

func (a *Adapter) PutValue(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	if err := a.client.Set(ctx, a.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set: %w", err)
	}
	return nil
}

func (a *Adapter) GetValue(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	value, err := a.client.Get(ctx, a.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache: get: %w", err)
	}
	return value, true, nil
}

func (a *Adapter) DeleteValue(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if err := a.client.Del(ctx, a.key(key)).Err(); err != nil {
		return fmt.Errorf("redis cache: delete: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}
