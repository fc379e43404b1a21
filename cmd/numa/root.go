package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/numa/internal/config"
	"github.com/rsclarke/numa/internal/logging"
	"github.com/rsclarke/numa/internal/messages"
	"github.com/rsclarke/numa/internal/metering"
	"github.com/rsclarke/numa/internal/token"
)

var logger *zap.Logger

var envFile string

var rootCmd = &cobra.Command{
	Use:   "numa",
	Short: "USSD prepaid meter top-up service",
	Long: `numa serves the USSD callbacks of a prepaid electricity top-up dialog.
It looks up meters and buys tokens from the LAPIS metering back-end, then
reports each purchase to the subscriber by SMS and to the payment gateway.

Settings are read from defaults, the env file, the environment and flags,
in increasing order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to read settings from")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(envFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newMeteringClient builds the gateway client shared by serve and the
// operator commands. Without a root key the client can look up customers but
// not purchase.
func newMeteringClient(cfg *config.Config) (*metering.Client, *messages.Catalog, error) {
	var codec *token.Codec
	if cfg.RootKey != "" {
		var err error
		if codec, err = token.NewCodec(cfg.RootKey); err != nil {
			return nil, nil, err
		}
	}
	catalog, err := messages.New(cfg.Language, cfg.CustomerCare)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	client := metering.New(metering.Config{
		BaseURL:    cfg.LaisonURL,
		Connection: cfg.Connection,
		PlatformID: cfg.PlatformID,
		Timeout:    cfg.HTTPTimeout,
	}, codec, catalog, logger)
	return client, catalog, nil
}
