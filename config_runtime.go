package statelessauth

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	ocache "github.com/porthorian/statelessauth/pkg/cache"
	memorycache "github.com/porthorian/statelessauth/pkg/cache/memory"
	rediscache "github.com/porthorian/statelessauth/pkg/cache/redis"
	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/storage/postgres"
)

type StorageBackend string

const (
	StorageBackendNone     StorageBackend = "none"
	StorageBackendPostgres StorageBackend = "postgres"
)

// CacheBackend selects the cluster layer of the introspection cache. The
// in-memory layer always exists; "none" and "memory" both mean no cluster.
type CacheBackend string

const (
	CacheBackendNone     CacheBackend = "none"
	CacheBackendMemory   CacheBackend = "memory"
	CacheBackendRedis    CacheBackend = "redis"
	CacheBackendPostgres CacheBackend = "postgres"
)

type RuntimeConfig struct {
	Storage StorageConfig
	Cache   CacheConfig
}

type StorageConfig struct {
	Backend  StorageBackend
	Postgres PostgresConfig
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

type CacheConfig struct {
	Backend CacheBackend
	Memory  MemoryCacheConfig
	Redis   RedisCacheConfig
}

type MemoryCacheConfig struct {
	CleanupInterval time.Duration
}

type RedisCacheConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	security, err := config.Security.normalize()
	if err != nil {
		return nil, Config{}, err
	}
	config.Security = security

	if config.Cipher == nil && security.needsCipher(config.Runtime) {
		key, err := ocrypto.NewSecretKey(security.Encryption.SecretKey)
		if err != nil {
			return nil, Config{}, err
		}
		cipher, err := ocrypto.NewCipher(key, security.Encryption.CipherMode)
		if err != nil {
			return nil, Config{}, err
		}
		config.Cipher = cipher
	}

	closeStorage, config, store, err := initializeStorage(ctx, config)
	if err != nil {
		return nil, Config{}, err
	}

	closeCache, config, err := initializeCache(ctx, config, store)
	if err != nil {
		_ = closeStorage()
		return nil, Config{}, err
	}

	return joinClosers(closeStorage, closeCache), config, nil
}

func initializeStorage(ctx context.Context, config Config) (func() error, Config, *postgres.Adapter, error) {
	backend := config.Runtime.Storage.Backend
	if backend == "" {
		backend = StorageBackendNone
	}

	switch backend {
	case StorageBackendNone:
		return noopCloser, config, nil, nil
	case StorageBackendPostgres:
		return initializePostgres(ctx, config)
	default:
		return nil, Config{}, nil, fmt.Errorf("statelessauth config: unsupported runtime.storage.backend %q", backend)
	}
}

func initializeCache(ctx context.Context, config Config, store *postgres.Adapter) (func() error, Config, error) {
	backend := config.Runtime.Cache.Backend
	if backend == "" {
		backend = CacheBackendNone
	}

	closeMemory, config := initializeMemoryCache(config)

	var (
		closeCluster func() error
		err          error
	)
	switch backend {
	case CacheBackendNone, CacheBackendMemory:
		return closeMemory, config, nil
	case CacheBackendRedis:
		closeCluster, config, err = initializeRedisCache(ctx, config)
	case CacheBackendPostgres:
		closeCluster, config, err = initializePostgresCache(config, store)
	default:
		err = fmt.Errorf("statelessauth config: unsupported runtime.cache.backend %q", backend)
	}
	if err != nil {
		_ = closeMemory()
		return nil, Config{}, err
	}

	return joinClosers(closeMemory, closeCluster), config, nil
}

func initializeMemoryCache(config Config) (func() error, Config) {
	if config.CacheStore.Token != nil {
		return noopCloser, config
	}

	adapter := memorycache.NewAdapter(memorycache.Config{
		CleanupInterval: config.Runtime.Cache.Memory.CleanupInterval,
		Now:             config.Now,
	})
	config.CacheStore.Token = adapter

	config.Logger.V(1).Info("initialized memory cache backend")
	return adapter.Close, config
}

func initializeRedisCache(ctx context.Context, config Config) (func() error, Config, error) {
	redisConfig := config.Runtime.Cache.Redis
	if redisConfig.Address == "" {
		return nil, Config{}, fmt.Errorf("statelessauth config: runtime.cache.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = rediscache.DefaultDialTimeout
	}

	adapter, err := rediscache.NewAdapter(ctx, rediscache.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
	})
	if err != nil {
		return nil, Config{}, fmt.Errorf("statelessauth config: %w", err)
	}

	if err := setClusterStore(&config, adapter); err != nil {
		_ = adapter.Close()
		return nil, Config{}, err
	}

	config.Runtime.Cache.Redis = redisConfig
	config.Logger.V(1).Info("initialized redis cache backend", "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter.Close, config, nil
}

func initializePostgresCache(config Config, store *postgres.Adapter) (func() error, Config, error) {
	if store == nil {
		return nil, Config{}, fmt.Errorf("statelessauth config: runtime.cache.backend %q requires runtime.storage.backend %q", CacheBackendPostgres, StorageBackendPostgres)
	}
	if err := setClusterStore(&config, store); err != nil {
		return nil, Config{}, err
	}

	config.Logger.V(1).Info("initialized postgres cache backend")
	return noopCloser, config, nil
}

func setClusterStore(config *Config, store ocache.ClusterStore) error {
	if config.CacheStore.Cluster != nil {
		return nil
	}

	encrypted, err := ocache.NewEncrypted(store, config.Cipher)
	if err != nil {
		return fmt.Errorf("statelessauth config: %w", err)
	}
	config.CacheStore.Cluster = encrypted
	return nil
}

func initializePostgres(ctx context.Context, config Config) (func() error, Config, *postgres.Adapter, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pgConfig := config.Runtime.Storage.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, nil, fmt.Errorf("statelessauth config: runtime.storage.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = postgres.DriverName
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, nil, fmt.Errorf("statelessauth config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, nil, fmt.Errorf("statelessauth config: failed to ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, Config{}, nil, fmt.Errorf("statelessauth config: failed to initialize postgres adapter: %w", err)
	}

	users := postgres.NewDirectory(adapter, config.Hasher)
	if config.Directory == nil {
		config.Directory = users
	}
	if config.Credentials == nil {
		config.Credentials = users
	}

	closeResource := func() error {
		return stderrors.Join(adapter.Close(), db.Close())
	}

	config.Runtime.Storage.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres storage backend", "driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns)
	return closeResource, config, adapter, nil
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}
