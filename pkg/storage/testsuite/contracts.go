// Package testsuite holds behavioural contracts every storage.Store backend
// must satisfy.
package testsuite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/statelessauth/pkg/storage"
)

// RunStoreContract exercises store against the token cache and user
// contracts. The store must start empty.
func RunStoreContract(t *testing.T, store storage.Store) {
	t.Helper()

	t.Run("token cache put get delete", func(t *testing.T) {
		ctx := context.Background()
		record := storage.TokenCacheRecord{
			Key:      "fingerprint-a",
			Value:    []byte("encrypted-entry"),
			Duration: time.Minute,
		}

		require.NoError(t, store.PutTokenCache(ctx, record))

		got, err := store.GetTokenCache(ctx, record.Key)
		require.NoError(t, err)
		assert.Equal(t, record.Value, got.Value)
		assert.Equal(t, time.Minute, got.Duration)
		assert.WithinDuration(t, got.CreatedAt.Add(time.Minute), got.ExpiresAt, time.Millisecond)

		record.Value = []byte("replaced-entry")
		require.NoError(t, store.PutTokenCache(ctx, record))
		got, err = store.GetTokenCache(ctx, record.Key)
		require.NoError(t, err)
		assert.Equal(t, []byte("replaced-entry"), got.Value)

		require.NoError(t, store.DeleteTokenCache(ctx, record.Key))
		_, err = store.GetTokenCache(ctx, record.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("token cache hides and purges expired rows", func(t *testing.T) {
		ctx := context.Background()
		past := time.Now().UTC().Add(-time.Hour)

		require.NoError(t, store.PutTokenCache(ctx, storage.TokenCacheRecord{
			Key:       "fingerprint-expired",
			Value:     []byte("stale"),
			CreatedAt: past,
			Duration:  time.Minute,
		}))
		require.NoError(t, store.PutTokenCache(ctx, storage.TokenCacheRecord{
			Key:      "fingerprint-live",
			Value:    []byte("fresh"),
			Duration: time.Hour,
		}))

		_, err := store.GetTokenCache(ctx, "fingerprint-expired")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		removed, err := store.DeleteOutdatedTokenCache(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		_, err = store.GetTokenCache(ctx, "fingerprint-live")
		assert.NoError(t, err)
		require.NoError(t, store.DeleteTokenCache(ctx, "fingerprint-live"))
	})

	t.Run("users", func(t *testing.T) {
		ctx := context.Background()

		require.NoError(t, store.PutUser(ctx, storage.UserRecord{
			Name:        "Alice",
			SecretHash:  "pbkdf2$sha256$1000$c2FsdA$a2V5",
			Authorities: []string{"owner", "ROLE_USER", "user"},
		}))

		user, err := store.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Name)
		assert.Equal(t, []string{"ROLE_OWNER", "ROLE_USER"}, user.Authorities)

		require.NoError(t, store.PutUser(ctx, storage.UserRecord{Name: "alice", Authorities: []string{"superadmin"}}))
		user, err = store.GetUser(ctx, "ALICE")
		require.NoError(t, err)
		assert.Equal(t, []string{"ROLE_SUPERADMIN"}, user.Authorities)
		assert.Empty(t, user.SecretHash)

		require.NoError(t, store.DeleteUser(ctx, "alice"))
		_, err = store.GetUser(ctx, "alice")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
