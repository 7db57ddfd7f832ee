package cmd

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var BuildVersion = "dev"

var rootCmd = &cobra.Command{
	Use:          "statelessauth",
	Short:        "statelessauth CLI",
	Long:         "CLI for running and operating the statelessauth authentication service.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file. Can also be set via STATELESSAUTH_CONFIG.")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable development logging with debug output.")
	cobra.CheckErr(viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")))
	cobra.CheckErr(viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")))
	cobra.CheckErr(viper.BindEnv("config", "STATELESSAUTH_CONFIG"))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of statelessauth CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

// newLogger builds the zap-backed logr logger shared by all commands. The
// returned function flushes buffered entries.
func newLogger(debug bool) (logr.Logger, func(), error) {
	var (
		zapLogger *zap.Logger
		err       error
	)
	if debug {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Discard(), func() {}, err
	}

	return zapr.NewLogger(zapLogger), func() { _ = zapLogger.Sync() }, nil
}

func Execute() error {
	return rootCmd.Execute()
}
