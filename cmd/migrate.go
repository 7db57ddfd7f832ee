package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/porthorian/statelessauth/pkg/storage/postgres"
)

const defaultMigrationsTable = "statelessauth_schema_migrations"

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	var (
		databaseURL     string
		migrationsTable string
	)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the embedded postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	migrateCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres connection URL. Defaults to runtime.storage.postgres.dsn from --config.")
	migrateCmd.PersistentFlags().StringVar(&migrationsTable, "migrations-table", defaultMigrationsTable, "Table that records the applied migration version.")

	open := func(cmd *cobra.Command) (*migrate.Migrate, func(), error) {
		return openMigrator(cmd, databaseURL, migrationsTable)
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations, or at most steps of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				var err error
				if steps, err = parseMigrationSteps(args[0]); err != nil {
					return err
				}
			}

			runner, closeRunner, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeRunner()

			if steps == 0 {
				err = runner.Up()
			} else {
				err = runner.Steps(steps)
			}
			applied, err := countSteps(steps, err)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			reportSteps(cmd, "Applied", applied)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back the given number of migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseMigrationSteps(args[0])
			if err != nil {
				return err
			}

			runner, closeRunner, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeRunner()

			rolledBack, err := countSteps(steps, runner.Steps(-steps))
			if err != nil {
				return fmt.Errorf("roll back migrations: %w", err)
			}
			reportSteps(cmd, "Rolled back", rolledBack)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeRunner, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeRunner()

			version, dirty, err := runner.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				cmd.Println("No migrations applied.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read migration version: %w", err)
			}
			cmd.Println(formatVersion(version, dirty))
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Record version as applied without running it (-1 clears the version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || version < -1 {
				return fmt.Errorf("invalid version %q: expected an integer >= -1", args[0])
			}

			runner, closeRunner, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeRunner()

			if err := runner.Force(version); err != nil {
				return fmt.Errorf("force migration version: %w", err)
			}
			cmd.Printf("Forced migration version to %d.\n", version)
			return nil
		},
	})

	return migrateCmd
}

// openMigrator connects to databaseURL, or to the DSN of the loaded config
// when the flag is empty. Closing the migrator closes the connection.
func openMigrator(cmd *cobra.Command, databaseURL string, migrationsTable string) (*migrate.Migrate, func(), error) {
	dsn := strings.TrimSpace(databaseURL)
	if dsn == "" {
		config, err := loadConfig(viper.GetString("config"))
		if err != nil {
			return nil, nil, err
		}
		dsn = config.Runtime.Storage.Postgres.DSN
	}
	if dsn == "" {
		return nil, nil, errors.New("missing database URL: set --database-url or runtime.storage.postgres.dsn")
	}

	db, err := postgres.Open(cmd.Context(), dsn)
	if err != nil {
		return nil, nil, err
	}
	runner, err := postgres.NewMigrator(db, migrationsTable)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return runner, func() {
		sourceErr, databaseErr := runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}, nil
}

func parseMigrationSteps(arg string) (int, error) {
	steps, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid migration steps %q: expected a positive integer", arg)
	}
	return steps, nil
}

// countSteps turns the result of Up or Steps into the number of migrations
// that ran. requested is 0 for an unbounded Up, reported as -1 on success.
func countSteps(requested int, err error) (int, error) {
	var shortLimit migrate.ErrShortLimit
	switch {
	case err == nil && requested == 0:
		return -1, nil
	case err == nil:
		return requested, nil
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, os.ErrNotExist):
		// Steps reports a bare os.ErrNotExist at the first or last version.
		return 0, nil
	case errors.As(err, &shortLimit):
		return max(requested-int(shortLimit.Short), 0), nil
	default:
		return 0, err
	}
}

func reportSteps(cmd *cobra.Command, verb string, steps int) {
	switch steps {
	case 0:
		cmd.Println("No schema changes.")
	case -1:
		cmd.Printf("%s all pending migrations.\n", verb)
	default:
		cmd.Printf("%s %d migration%s.\n", verb, steps, pluralSuffix(int64(steps), "", "s"))
	}
}

func formatVersion(version uint, dirty bool) string {
	if dirty {
		return fmt.Sprintf("%d (dirty)", version)
	}
	return strconv.FormatUint(uint64(version), 10)
}
