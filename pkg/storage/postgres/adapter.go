package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/porthorian/statelessauth/pkg/storage"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

type Adapter struct {
	db  *sql.DB
	now func() time.Time

	stmts preparedStatements
}

type preparedStatements struct {
	putTokenCache            *sql.Stmt
	getTokenCache            *sql.Stmt
	deleteTokenCache         *sql.Stmt
	deleteOutdatedTokenCache *sql.Stmt

	putUser             *sql.Stmt
	getUser             *sql.Stmt
	deleteUser          *sql.Stmt
	deleteUserAuthority *sql.Stmt
	putUserAuthority    *sql.Stmt
	listUserAuthorities *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{
		label: "put token cache",
		query: putTokenCacheQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putTokenCache = stmt
		},
	},
	{
		label: "get token cache",
		query: getTokenCacheQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getTokenCache = stmt
		},
	},
	{
		label: "delete token cache",
		query: deleteTokenCacheQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteTokenCache = stmt
		},
	},
	{
		label: "delete outdated token cache",
		query: deleteOutdatedTokenCacheQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteOutdatedTokenCache = stmt
		},
	},
	{
		label: "put user",
		query: putUserQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putUser = stmt
		},
	},
	{
		label: "get user",
		query: getUserQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getUser = stmt
		},
	},
	{
		label: "delete user",
		query: deleteUserQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteUser = stmt
		},
	},
	{
		label: "delete user authorities",
		query: deleteUserAuthoritiesQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteUserAuthority = stmt
		},
	},
	{
		label: "put user authority",
		query: putUserAuthorityQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putUserAuthority = stmt
		},
	},
	{
		label: "list user authorities",
		query: listUserAuthoritiesQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.listUserAuthorities = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
	ErrEmptyKey              = errors.New("postgres adapter: key is required")
	ErrInvalidTTL            = errors.New("postgres adapter: ttl must be greater than zero")
	// ErrSchemaNotMigrated means the adapter tables are missing; run
	// "statelessauth migrate up" first.
	ErrSchemaNotMigrated = errors.New("postgres adapter: schema not migrated")
)

var _ storage.Store = (*Adapter)(nil)

// Open connects through the pgx database/sql driver and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres adapter: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres adapter: ping: %w", err)
	}
	return db, nil
}

func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{
		db:  db,
		now: time.Now,
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

// Close releases the prepared statements. The *sql.DB stays owned by the caller.
func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	return closeStatements(
		a.stmts.putTokenCache,
		a.stmts.getTokenCache,
		a.stmts.deleteTokenCache,
		a.stmts.deleteOutdatedTokenCache,
		a.stmts.putUser,
		a.stmts.getUser,
		a.stmts.deleteUser,
		a.stmts.deleteUserAuthority,
		a.stmts.putUserAuthority,
		a.stmts.listUserAuthorities,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
		}
	}()

	for _, spec := range fixedPrepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			if isUndefinedTable(prepErr) {
				err = fmt.Errorf("%w: prepare %s statement: %w", ErrSchemaNotMigrated, spec.label, prepErr)
				return err
			}
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.putTokenCache == nil || a.stmts.getTokenCache == nil || a.stmts.deleteTokenCache == nil || a.stmts.deleteOutdatedTokenCache == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.putUser == nil || a.stmts.getUser == nil || a.stmts.deleteUser == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.deleteUserAuthority == nil || a.stmts.putUserAuthority == nil || a.stmts.listUserAuthorities == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

func (a *Adapter) currentTime() time.Time {
	if a.now == nil {
		return time.Now().UTC()
	}
	return a.now().UTC()
}

type scanner interface {
	Scan(dest ...any) error
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
