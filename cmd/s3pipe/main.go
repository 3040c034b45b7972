// Package main is the entry point for s3pipe, which streams data into
// object storage as single objects.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bleepstore/s3pipe/internal/config"
	"github.com/bleepstore/s3pipe/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

var global globalFlags

var rootCmd = &cobra.Command{
	Use:           "s3pipe",
	Short:         "Stream data into object storage",
	Long:          "s3pipe reshapes a byte stream into parts and writes it as one object to S3, GCS, Azure Blob Storage or the local filesystem.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&global.configPath, "config", "", "path to configuration file (default: built-in defaults)")
	pf.StringVar(&global.logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	pf.StringVar(&global.logFormat, "log-format", "", "log format: text, json (default: from config or text)")

	rootCmd.AddCommand(newPutCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newHistoryCommand())
}

// loadConfig reads the configuration file, applies the global flag
// overrides and installs the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(global.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Command-line flags override config file values.
	if global.logLevel != "" {
		cfg.Logging.Level = global.logLevel
	}
	if global.logFormat != "" {
		cfg.Logging.Format = global.logFormat
	}

	logger := logging.Setup(cfg.Logging)
	return cfg, logger, nil
}
