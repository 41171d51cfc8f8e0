package main

import (
	"github.com/spf13/cobra"

	"authgate.org/internal/config"
	"authgate.org/internal/obs"
)

func newRootCommand() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "authgate",
		Short:         "Administrative commands for authgate",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return obs.Configure(logLevel, "text", cmd.ErrOrStderr())
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	cmd.AddCommand(
		newKeysCommand(),
		newMigrateCommand(),
	)
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg := config.Config{}
	if err := config.ParseEnv(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
