package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
)

func init() {
	rootCmd.AddCommand(newCookieCommand())
}

func newCookieCommand() *cobra.Command {
	cookieCmd := &cobra.Command{
		Use:   "cookie",
		Short: "Encrypt or decrypt session cookie values with the configured key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cookieCmd.AddCommand(&cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt a value the way session cookies are written",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cipher, err := configuredCipher()
			if err != nil {
				return err
			}
			value, err := ocrypto.EncryptToString(cipher, args[0])
			if err != nil {
				return err
			}
			cmd.Println(value)
			return nil
		},
	})

	cookieCmd.AddCommand(&cobra.Command{
		Use:   "decrypt <cookie-value>",
		Short: "Decrypt a session cookie value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cipher, err := configuredCipher()
			if err != nil {
				return err
			}
			value, err := ocrypto.DecryptString(cipher, args[0])
			if err != nil {
				return err
			}
			cmd.Println(value)
			return nil
		},
	})

	return cookieCmd
}

func configuredCipher() (ocrypto.Cipher, error) {
	config, err := loadConfig(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	return newCipher(config.Security.Encryption.SecretKey, config.Security.Encryption.CipherMode)
}

func newCipher(secretKey string, mode ocrypto.CipherMode) (ocrypto.Cipher, error) {
	key, err := ocrypto.NewSecretKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("cookie: %w", err)
	}
	return ocrypto.NewCipher(key, mode)
}
