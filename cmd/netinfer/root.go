package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/config"
	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/irfndi/celebrum-netinfer/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	envFile    string
	logLevel   string
)

// app holds what PersistentPreRunE set up for the subcommands.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	provider *telemetry.Provider
}

var current app

var rootCmd = &cobra.Command{
	Use:           "netinfer",
	Short:         "Transfer entropy network inference for asset returns",
	Long:          `Builds correlation and transfer entropy networks over hourly price series and reports influence edges and asset groups.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setup(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		return teardown()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./configs/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
}

func setup(ctx context.Context) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.SetOutput(os.Stderr)

	if ctx == nil {
		ctx = context.Background()
	}
	provider, err := telemetry.Init(ctx, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Environment,
		SampleRatio:  cfg.Telemetry.SampleRatio,
		Writer:       os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	current = app{cfg: cfg, logger: logger, provider: provider}
	return nil
}

func teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := current.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown telemetry: %w", err)
	}
	return nil
}
