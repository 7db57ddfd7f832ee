package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/porthorian/statelessauth/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("memory cache: ttl must be greater than zero")
	ErrEmptyKey   = errors.New("memory cache: key is required")
)

const DefaultCleanupInterval = time.Minute

type Config struct {
	// CleanupInterval between janitor sweeps; zero selects DefaultCleanupInterval,
	// a negative value disables the janitor.
	CleanupInterval time.Duration
	Now             func() time.Time
}

type tokenEntry struct {
	entry   cache.Entry
	expires time.Time
}

// Adapter is a process-local token cache that evicts expired entries on read
// and periodically in the background until Close is called.
type Adapter struct {
	mu           sync.RWMutex
	tokenEntries map[string]tokenEntry
	now          func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ cache.TokenCache = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	now := config.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	a := &Adapter{
		tokenEntries: map[string]tokenEntry{},
		now:          now,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	interval := config.CleanupInterval
	if interval == 0 {
		interval = DefaultCleanupInterval
	}
	if interval > 0 {
		go a.janitor(interval)
	} else {
		close(a.done)
	}
	return a
}

func (a *Adapter) SetToken(ctx context.Context, key string, entry cache.Entry, ttl time.Duration) error {
	if err := validateSetInput(key, ttl); err != nil {
		return err
	}

	a.mu.Lock()
	a.tokenEntries[key] = tokenEntry{
		entry:   cache.CloneEntry(entry),
		expires: a.now().Add(ttl),
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) GetToken(ctx context.Context, key string) (cache.Entry, bool, error) {
	if key == "" {
		return cache.Entry{}, false, ErrEmptyKey
	}

	now := a.now()

	a.mu.RLock()
	stored, ok := a.tokenEntries[key]
	a.mu.RUnlock()
	if !ok {
		return cache.Entry{}, false, nil
	}

	if !now.Before(stored.expires) {
		a.mu.Lock()
		if current, still := a.tokenEntries[key]; still && current.expires.Equal(stored.expires) {
			delete(a.tokenEntries, key)
		}
		a.mu.Unlock()
		return cache.Entry{}, false, nil
	}

	return cache.CloneEntry(stored.entry), true, nil
}

func (a *Adapter) DeleteToken(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	a.mu.Lock()
	delete(a.tokenEntries, key)
	a.mu.Unlock()
	return nil
}

// Len counts stored entries, expired ones included until they are swept.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tokenEntries)
}

// Sweep removes every expired entry and returns how many were dropped.
func (a *Adapter) Sweep() int {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key, stored := range a.tokenEntries {
		if !now.Before(stored.expires) {
			delete(a.tokenEntries, key)
			removed++
		}
	}
	return removed
}

func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.stop)
	})
	<-a.done
	return nil
}

func (a *Adapter) janitor(interval time.Duration) {
	defer close(a.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Sweep()
		case <-a.stop:
			return
		}
	}
}

func validateSetInput(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
