package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/porthorian/statelessauth/pkg/storage/postgres"
)

func init() {
	rootCmd.AddCommand(newCacheCommand())
}

func newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the postgres cluster cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired introspection cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, closeDB, err := openPostgresAdapter(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			removed, err := adapter.DeleteOutdatedTokenCache(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("purge token cache: %w", err)
			}
			cmd.Printf("Removed %d expired cache entr%s.\n", removed, pluralSuffix(removed, "y", "ies"))
			return nil
		},
	})

	return cacheCmd
}

// openPostgresAdapter connects to runtime.storage.postgres.dsn.
func openPostgresAdapter(cmd *cobra.Command) (*postgres.Adapter, func(), error) {
	config, err := loadConfig(viper.GetString("config"))
	if err != nil {
		return nil, nil, err
	}

	dsn := config.Runtime.Storage.Postgres.DSN
	if dsn == "" {
		return nil, nil, errors.New("missing runtime.storage.postgres.dsn: set it in --config or STATELESSAUTH_RUNTIME_STORAGE_POSTGRES_DSN")
	}

	db, err := postgres.Open(cmd.Context(), dsn)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return adapter, func() {
		if closeErr := errors.Join(adapter.Close(), db.Close()); closeErr != nil {
			cmd.PrintErrf("warning: failed to close database cleanly: %v\n", closeErr)
		}
	}, nil
}

func pluralSuffix(n int64, one string, many string) string {
	if n == 1 {
		return one
	}
	return many
}
