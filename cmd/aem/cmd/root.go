package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/solatis/aem/internal/core/config"
	"github.com/solatis/aem/internal/logger"
)

// Version is stamped into logs and metrics.
const Version = "0.1.0"

var (
	configFile string
	storageURL string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "aem",
	Short: "Aggregated Event Measurement reporter",
	Long: `aem attributes in-app conversion events to ad campaign invocations and
reports them in signed, throttled aggregation batches.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&storageURL, "storage-url", "", "state store URL (sqlite://path, postgres://..., redis://..., memory://)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("storage-url") {
		cfg.Storage.URL = storageURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logger.NewWithWriter(logger.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "aem",
		Version: Version,
	}, cmd.ErrOrStderr())
}
