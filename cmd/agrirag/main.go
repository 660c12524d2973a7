package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agrirag/internal/app"
	"agrirag/internal/config"
	"agrirag/internal/logging"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:          "agrirag",
	Short:        "Question answering over agricultural market price sheets",
	SilenceUsage: true,
	Long: `agrirag turns CSV and Excel price sheets into an indexed store of
row statements and answers natural-language questions about them.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (uses ~/.config/agrirag/config.yaml if not provided)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, chatCmd, statsCmd)
}

func main() {
	config.LoadEnv()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// setup loads config, builds the logger and assembles the app. quiet drops
// console logging for commands that own the terminal.
func setup(ctx context.Context, quiet bool) (*app.App, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := zap.NewNop()
	if !quiet || cfg.Log.File != "" {
		if logger, err = logging.New(cfg.Log); err != nil {
			return nil, nil, err
		}
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}
