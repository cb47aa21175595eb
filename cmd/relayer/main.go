package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/permephem/null-sub005/internal/config"
	"github.com/permephem/null-sub005/internal/infra/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:          "relayer",
		Short:        "Null Protocol relayer",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.New()
			if configFile == "" {
				configFile = os.Getenv("NULL_CONFIG_FILE")
			}
			if configFile != "" {
				v.SetConfigFile(configFile)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			log.WithFields(logrus.Fields{
				"addr":    cfg.HTTPAddr,
				"storage": app.storageMode,
				"account": app.account.Hex(),
			}).Info("relayer starting")
			return app.server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "optional config file (yaml, json or toml); environment variables take precedence")
	return cmd
}
