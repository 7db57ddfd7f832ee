package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/storage"
)

func init() {
	rootCmd.AddCommand(newUserCommand())
}

func newUserCommand() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage classic-auth users in the postgres directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		secret      string
		authorities []string
	)
	putCmd := &cobra.Command{
		Use:   "put <name>",
		Short: "Create or replace a user and its authorities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := newUserRecord(args[0], secret, authorities, ocrypto.NewPBKDF2Hasher(ocrypto.DefaultPBKDF2Options()))
			if err != nil {
				return err
			}

			adapter, closeDB, err := openPostgresAdapter(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := adapter.PutUser(cmd.Context(), record); err != nil {
				return fmt.Errorf("put user %q: %w", record.Name, err)
			}
			cmd.Printf("Stored user %q.\n", record.Name)
			return nil
		},
	}
	putCmd.Flags().StringVar(&secret, "secret", "", "Classic-auth secret. Leave empty for token-only users.")
	putCmd.Flags().StringSliceVar(&authorities, "authority", []string{"ROLE_USER"}, "Authorities granted to the user (repeatable).")
	userCmd.AddCommand(putCmd)

	userCmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, closeDB, err := openPostgresAdapter(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := adapter.DeleteUser(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete user %q: %w", args[0], err)
			}
			cmd.Printf("Deleted user %q.\n", args[0])
			return nil
		},
	})

	userCmd.AddCommand(&cobra.Command{
		Use:   "hash <secret>",
		Short: "Print the PBKDF2 hash of a secret for the users section of a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := ocrypto.NewPBKDF2Hasher(ocrypto.DefaultPBKDF2Options()).Hash(args[0])
			if err != nil {
				return err
			}
			cmd.Println(hash)
			return nil
		},
	})

	return userCmd
}

func newUserRecord(name string, secret string, authorities []string, hasher ocrypto.Hasher) (storage.UserRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.UserRecord{}, errors.New("user name is required")
	}

	record := storage.UserRecord{Name: name, Authorities: authorities}
	if secret != "" {
		hash, err := hasher.Hash(secret)
		if err != nil {
			return storage.UserRecord{}, fmt.Errorf("hash secret: %w", err)
		}
		record.SecretHash = hash
	}
	return record, nil
}
