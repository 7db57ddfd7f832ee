package introspection

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/porthorian/statelessauth/pkg/cache"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/expiration"
	"github.com/porthorian/statelessauth/pkg/protocol/oauth"
)

const (
	DefaultPreCacheDuration     = time.Minute
	DefaultClusterWriteAttempts = 3
	defaultRetryInterval        = 50 * time.Millisecond
)

type CacheConfig struct {
	Introspector oauth.Introspector
	Memory       cache.TokenCache
	// Cluster is optional; when set, entries are shared between instances and
	// the memory layer only keeps them for PreCacheDuration.
	Cluster              cache.TokenCache
	Calculator           expiration.Calculator
	PreCacheDuration     time.Duration
	ClusterWriteAttempts uint
	RetryInterval        time.Duration
	Metrics              *Metrics
	Logger               logr.Logger
}

// Cache memoizes introspection results per opaque token.
type Cache struct {
	introspector     oauth.Introspector
	memory           cache.TokenCache
	cluster          cache.TokenCache
	calculator       expiration.Calculator
	preCacheDuration time.Duration
	writeAttempts    uint
	retryInterval    time.Duration
	metrics          *Metrics
	logger           logr.Logger

	group singleflight.Group
}

func NewCache(config CacheConfig) (*Cache, error) {
	if config.Introspector == nil {
		return nil, errors.New("introspection cache: introspector is required")
	}
	if config.Memory == nil {
		return nil, errors.New("introspection cache: memory cache is required")
	}
	if config.PreCacheDuration <= 0 {
		config.PreCacheDuration = DefaultPreCacheDuration
	}
	if config.ClusterWriteAttempts == 0 {
		config.ClusterWriteAttempts = DefaultClusterWriteAttempts
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaultRetryInterval
	}
	if config.Logger.GetSink() == nil {
		config.Logger = logr.Discard()
	}

	return &Cache{
		introspector:     config.Introspector,
		memory:           config.Memory,
		cluster:          config.Cluster,
		calculator:       config.Calculator,
		preCacheDuration: config.PreCacheDuration,
		writeAttempts:    config.ClusterWriteAttempts,
		retryInterval:    config.RetryInterval,
		metrics:          config.Metrics,
		logger:           config.Logger,
	}, nil
}

// GetOrIntrospect returns the cached result for token while it is valid and
// otherwise introspects it. Concurrent misses for one token share a single
// IDP call, which is detached from the cancellation of the caller that
// started it; each caller still stops waiting when its own ctx is done. The
// returned result always carries a resolved ExpiresAt.
func (c *Cache) GetOrIntrospect(ctx context.Context, token string) (oauth.IntrospectionResult, error) {
	if token == "" {
		return oauth.IntrospectionResult{}, oerrors.BadToken(oerrors.MessageTokenNullOrEmpty)
	}

	if result, ok := c.fromMemory(ctx, token); ok {
		return result, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(token, func() (any, error) {
		return c.load(shared, token)
	})

	select {
	case <-ctx.Done():
		return oauth.IntrospectionResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return oauth.IntrospectionResult{}, res.Err
		}
		return res.Val.(oauth.IntrospectionResult), nil
	}
}

// Evict drops token from every layer.
func (c *Cache) Evict(ctx context.Context, token string) error {
	var errs []error
	if err := c.memory.DeleteToken(ctx, token); err != nil {
		errs = append(errs, err)
	}
	if c.cluster != nil {
		if err := c.cluster.DeleteToken(ctx, token); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) fromMemory(ctx context.Context, token string) (oauth.IntrospectionResult, bool) {
	result, hit := c.peekMemory(ctx, token)
	c.metrics.lookup(layerMemory, hit)
	return result, hit
}

// peekMemory is fromMemory without recording a lookup.
func (c *Cache) peekMemory(ctx context.Context, token string) (oauth.IntrospectionResult, bool) {
	entry, ok, err := c.memory.GetToken(ctx, token)
	if err != nil {
		c.logger.Error(err, "memory cache lookup failed", "token", cache.Fingerprint(token)[:12])
		return oauth.IntrospectionResult{}, false
	}

	if !ok || !entry.ValidAt(c.calculator.CurrentTime()) {
		return oauth.IntrospectionResult{}, false
	}
	return entry.Result, true
}

func (c *Cache) fromCluster(ctx context.Context, token string) (cache.Entry, bool) {
	if c.cluster == nil {
		return cache.Entry{}, false
	}

	entry, ok, err := c.cluster.GetToken(ctx, token)
	if err != nil {
		c.logger.Error(err, "cluster cache lookup failed", "token", cache.Fingerprint(token)[:12])
		return cache.Entry{}, false
	}

	hit := ok && entry.ValidAt(c.calculator.CurrentTime())
	c.metrics.lookup(layerCluster, hit)
	return entry, hit
}

func (c *Cache) load(ctx context.Context, token string) (oauth.IntrospectionResult, error) {
	if result, ok := c.peekMemory(ctx, token); ok {
		return result, nil
	}

	if entry, ok := c.fromCluster(ctx, token); ok {
		ttl := min(c.preCacheDuration, entry.ValidUntil.Sub(c.calculator.CurrentTime()))
		c.storeMemory(ctx, token, entry, ttl)
		return entry.Result, nil
	}

	result, err := c.introspector.Introspect(ctx, token)
	if err != nil {
		if oerrors.IsIntrospectionTransport(err) {
			c.metrics.request(outcomeTransport)
		} else {
			c.metrics.request(outcomeRejected)
		}
		return oauth.IntrospectionResult{}, err
	}
	c.metrics.request(outcomeActive)

	resolved := c.calculator.Resolve(result)
	if c.calculator.Expired(resolved) {
		if err := c.Evict(ctx, token); err != nil {
			c.logger.Error(err, "failed to evict expired token", "token", cache.Fingerprint(token)[:12])
		}
		return oauth.IntrospectionResult{}, oerrors.BadToken(oerrors.MessageOpaqueTokenExpired)
	}

	validUntil := c.calculator.ValidUntil(resolved)
	ttl := validUntil.Sub(c.calculator.CurrentTime())
	if ttl <= 0 {
		return resolved, nil
	}

	entry := cache.Entry{Result: resolved, ValidUntil: validUntil}
	if c.cluster != nil {
		c.storeCluster(ctx, token, entry, ttl)
		ttl = min(c.preCacheDuration, ttl)
	}
	c.storeMemory(ctx, token, entry, ttl)

	c.logger.V(1).Info("cached introspection result", "token", cache.Fingerprint(token)[:12], "validUntil", validUntil)
	return resolved, nil
}

func (c *Cache) storeMemory(ctx context.Context, token string, entry cache.Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.memory.SetToken(ctx, token, entry, ttl); err != nil {
		c.logger.Error(err, "memory cache write failed", "token", cache.Fingerprint(token)[:12])
	}
}

func (c *Cache) storeCluster(ctx context.Context, token string, entry cache.Entry, ttl time.Duration) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.retryInterval
	expBackoff.MaxInterval = 10 * c.retryInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, c.cluster.SetToken(ctx, token, entry, ttl)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.writeAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.V(1).Info("retrying cluster cache write", "attempt", attempt, "next", next, "error", err.Error())
		}),
	)
	if err != nil {
		c.logger.Error(err, "cluster cache write failed", "attempts", attempt, "token", cache.Fingerprint(token)[:12])
	}
}
