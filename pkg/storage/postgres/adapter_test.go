package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/statelessauth/pkg/cache"
	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/storage"
	"github.com/porthorian/statelessauth/pkg/storage/testsuite"
)

const dsnEnv = "STATELESSAUTH_TEST_POSTGRES_DSN"

type fakeUsers struct {
	users map[string]storage.UserRecord
	err   error
}

func (f *fakeUsers) PutUser(_ context.Context, record storage.UserRecord) error {
	f.users[record.Name] = record
	return nil
}

func (f *fakeUsers) GetUser(_ context.Context, name string) (storage.UserRecord, error) {
	if f.err != nil {
		return storage.UserRecord{}, f.err
	}
	user, ok := f.users[name]
	if !ok {
		return storage.UserRecord{}, storage.ErrNotFound
	}
	return user, nil
}

func (f *fakeUsers) DeleteUser(_ context.Context, name string) error {
	delete(f.users, name)
	return nil
}

func TestDirectory(t *testing.T) {
	t.Parallel()

	hasher := ocrypto.NewPBKDF2Hasher(ocrypto.PBKDF2Options{Iterations: 1000})
	hash, err := hasher.Hash("api-token")
	require.NoError(t, err)

	users := &fakeUsers{users: map[string]storage.UserRecord{
		"alice": {Name: "alice", SecretHash: hash, Authorities: []string{"ROLE_USER"}},
		"bot":   {Name: "bot", Authorities: []string{"ROLE_USER"}},
	}}
	dir := NewDirectory(users, hasher)
	ctx := context.Background()

	authorities, err := dir.Authorities(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER"}, authorities)

	_, err = dir.Authorities(ctx, "mallory")
	assert.ErrorIs(t, err, directory.ErrUnknownUser)

	authorities, err = dir.VerifyCredentials(ctx, "alice", "api-token")
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER"}, authorities)

	_, err = dir.VerifyCredentials(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, directory.ErrInvalidCredentials)
	_, err = dir.VerifyCredentials(ctx, "bot", "")
	assert.ErrorIs(t, err, directory.ErrInvalidCredentials)
	_, err = dir.VerifyCredentials(ctx, "mallory", "api-token")
	assert.ErrorIs(t, err, directory.ErrInvalidCredentials)

	users.err = errors.New("connection refused")
	_, err = dir.VerifyCredentials(ctx, "alice", "api-token")
	assert.True(t, oerrors.IsCode(err, oerrors.CodeStorageUnavailable))
}

func TestNewAdapterRequiresDB(t *testing.T) {
	t.Parallel()

	_, err := NewAdapter(nil)
	assert.ErrorIs(t, err, ErrNilDB)

	var adapter *Adapter
	assert.NoError(t, adapter.Close())
	assert.ErrorIs(t, adapter.DeleteTokenCache(context.Background(), "key"), ErrNilDB)

	_, err = NewMigrator(nil, "")
	assert.ErrorIs(t, err, ErrNilDB)
}

func TestIsUndefinedTable(t *testing.T) {
	t.Parallel()

	missing := fmt.Errorf("prepare: %w", &pgconn.PgError{Code: pgerrcode.UndefinedTable, Message: `relation "statelessauth_token_cache" does not exist`})
	assert.True(t, isUndefinedTable(missing))
	assert.False(t, isUndefinedTable(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	assert.False(t, isUndefinedTable(errors.New("connection refused")))
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	names, err := fs.Glob(Migrations, MigrationsDir+"/*.sql")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"migrations/000001_init.up.sql",
		"migrations/000001_init.down.sql",
	}, names)

	src, err := NewMigrationSource()
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestNormalizeAuthorities(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"ROLE_OWNER", "ROLE_USER"}, normalizeAuthorities([]string{"user", " owner", "ROLE_USER", ""}))
	assert.Nil(t, normalizeAuthorities(nil))
}

// openTestAdapter migrates a fresh schema into the database named by
// STATELESSAUTH_TEST_POSTGRES_DSN.
func openTestAdapter(t *testing.T) *Adapter {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	ctx := context.Background()
	migrationDB, err := Open(ctx, dsn)
	require.NoError(t, err)
	runner, err := NewMigrator(migrationDB, "statelessauth_test_migrations")
	require.NoError(t, err)
	if err := runner.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	adapter, err := NewAdapter(db)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = adapter.Close()
		_ = runner.Down()
		_, _ = runner.Close()
		_ = db.Close()
	})
	return adapter
}

func TestAdapterContract(t *testing.T) {
	adapter := openTestAdapter(t)
	testsuite.RunStoreContract(t, adapter)
}

func TestAdapterAsEncryptedClusterStore(t *testing.T) {
	adapter := openTestAdapter(t)

	key, err := ocrypto.NewSecretKey("test-test-test-test-test-test-32")
	require.NoError(t, err)
	cipher, err := ocrypto.NewCipher(key, ocrypto.CipherModeSealed)
	require.NoError(t, err)

	cluster, err := cache.NewEncrypted(adapter, cipher)
	require.NoError(t, err)

	ctx := context.Background()
	entry := cache.Entry{ValidUntil: time.Now().Add(time.Minute).UTC().Truncate(time.Second)}
	entry.Result.Active = true
	entry.Result.Subject = "alice"

	require.NoError(t, cluster.SetToken(ctx, "opaque-token", entry, time.Minute))

	got, ok, err := cluster.GetToken(ctx, "opaque-token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Result.Subject)

	_, err = adapter.GetTokenCache(ctx, "opaque-token")
	assert.ErrorIs(t, err, storage.ErrNotFound, "raw tokens must never be used as keys")

	require.NoError(t, cluster.DeleteToken(ctx, "opaque-token"))
	_, ok, err = cluster.GetToken(ctx, "opaque-token")
	require.NoError(t, err)
	assert.False(t, ok)
}
