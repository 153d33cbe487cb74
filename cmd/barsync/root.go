package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"barsync/internal/app"
	"barsync/internal/config"
	"barsync/internal/util"
)

var (
	cfgPath  string
	envFile  string
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "barsync",
	Short: "Minute-bar ingestion, backfill, gap repair and quality checks",
	Long: `barsync keeps a store of one-minute OHLCV bars in sync with the upstream
market-data API: it backfills missing years, resumes interrupted jobs from
their checkpoints, repairs recent gaps and grades data quality per symbol.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	defaultCfg := "config/barsync.yaml"
	if p := os.Getenv("BARSYNC_CONFIG"); p != "" {
		defaultCfg = p
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "path to the YAML config (env BARSYNC_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}

	c, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	cfg = c

	logger = util.NewLoggerWithOptions(util.LogOptions{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}).With("cmd", cmd.Name())
	util.SetDefault(logger)
	return nil
}

// withApp wires the application, runs fn under a signal-aware context and
// releases everything afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing app", "error", err)
		}
	}()
	return fn(ctx, a)
}

// symbolsOrDefault returns the --symbols flag value or the configured list.
func symbolsOrDefault(flagValue string) []string {
	if flagValue != "" {
		return config.SplitSymbols(flagValue)
	}
	return cfg.Ingest.Symbols
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}
