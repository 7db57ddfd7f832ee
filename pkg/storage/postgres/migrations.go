package postgres

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrations holds the golang-migrate files of the postgres schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const (
	MigrationsDir = "migrations"
	// MigrationSourceName is the source name to pass to
	// migrate.NewWithSourceInstance for the embedded files.
	MigrationSourceName = "iofs"
)

func NewMigrationSource() (source.Driver, error) {
	src, err := iofs.New(Migrations, MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("postgres adapter: open embedded migrations: %w", err)
	}
	return src, nil
}

// NewMigrator runs the embedded migrations over db. Closing the returned
// migrator closes db as well.
func NewMigrator(db *sql.DB, migrationsTable string) (*migrate.Migrate, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	src, err := NewMigrationSource()
	if err != nil {
		return nil, err
	}

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("postgres adapter: migration driver: %w", err)
	}

	runner, err := migrate.NewWithInstance(MigrationSourceName, src, "pgx5", driver)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("postgres adapter: create migrator: %w", err)
	}
	return runner, nil
}
