// Package expiration decides how long an introspected token stays valid.
package expiration

import (
	"errors"
	"time"

	"github.com/porthorian/statelessauth/pkg/protocol/oauth"
)

// DefaultTokenExpiresIn applies to tokens whose introspection response has no exp.
const DefaultTokenExpiresIn = 24 * time.Hour

var (
	ErrNilResult = errors.New("expiration: introspection result is required")
	ErrZeroNow   = errors.New("expiration: now is required")
)

// IsExpired is true when the result carries no expiry or it is not after now.
func IsExpired(result *oauth.IntrospectionResult, now time.Time) (bool, error) {
	if result == nil {
		return false, ErrNilResult
	}
	if now.IsZero() {
		return false, ErrZeroNow
	}
	if result.ExpiresAt == nil {
		return true, nil
	}
	return !result.ExpiresAt.After(now), nil
}

// CalculateAccessTokenDuration returns the instant until which an access
// token is honoured.
//
// Without a token expiry the result is now + max(defaultDuration, minimum).
// A token expiry is authoritative unless it falls short of now + minimum, in
// which case it is clamped up to that floor.
func CalculateAccessTokenDuration(now time.Time, defaultDuration time.Duration, tokenExpiresAt *time.Time, minimumTokenValidity time.Duration) time.Time {
	floor := now.Add(minimumTokenValidity)

	if tokenExpiresAt == nil {
		if defaultDuration > minimumTokenValidity {
			return now.Add(defaultDuration)
		}
		return floor
	}

	if minimumTokenValidity > 0 && tokenExpiresAt.Before(floor) {
		return floor
	}
	return *tokenExpiresAt
}

// Calculator binds the configured durations and clock.
type Calculator struct {
	DefaultTokenExpiresIn time.Duration
	MinimumTokenValidity  time.Duration
	MaxCacheDuration      time.Duration
	Now                   func() time.Time
}

// CurrentTime reads the injected clock, defaulting to time.Now in UTC.
func (c Calculator) CurrentTime() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now()
}

func (c Calculator) defaultDuration() time.Duration {
	if c.DefaultTokenExpiresIn <= 0 {
		return DefaultTokenExpiresIn
	}
	return c.DefaultTokenExpiresIn
}

// Resolve returns a copy of result whose ExpiresAt is always set. A missing
// exp is replaced by issuedAt + default (or now + default without iat) and
// then the minimum validity floor is applied.
func (c Calculator) Resolve(result oauth.IntrospectionResult) oauth.IntrospectionResult {
	now := c.CurrentTime()

	var expiresAt *time.Time
	switch {
	case result.ExpiresAt != nil:
		t := *result.ExpiresAt
		expiresAt = &t
	case result.IssuedAt != nil:
		t := result.IssuedAt.Add(c.defaultDuration())
		expiresAt = &t
	}

	resolved := CalculateAccessTokenDuration(now, c.defaultDuration(), expiresAt, c.MinimumTokenValidity)
	result.ExpiresAt = &resolved
	return result
}

// ValidUntil caps the resolved expiry at now + MaxCacheDuration.
func (c Calculator) ValidUntil(result oauth.IntrospectionResult) time.Time {
	now := c.CurrentTime()

	validUntil := now
	if result.ExpiresAt != nil {
		validUntil = *result.ExpiresAt
	}
	if c.MaxCacheDuration > 0 {
		if limit := now.Add(c.MaxCacheDuration); limit.Before(validUntil) {
			validUntil = limit
		}
	}
	return validUntil
}

// Expired reports whether result is expired at the calculator's now.
func (c Calculator) Expired(result oauth.IntrospectionResult) bool {
	expired, err := IsExpired(&result, c.CurrentTime())
	return err != nil || expired
}
