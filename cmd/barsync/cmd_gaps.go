package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"barsync/internal/app"
	"barsync/internal/pipeline"
)

var (
	gapsSymbols     string
	gapsDays        []string
	gapsLookback    time.Duration
	gapsMaxMinutes  int
	gapsMarketHours bool
)

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Detect and fill missing minutes",
	Long: `Gaps scans the lookback window of each symbol for missing minutes, keeps
the fillable ones and fetches exactly the missing range. With --days it
instead reloads whole market days for a single symbol.`,
	Example: `  barsync gaps
  barsync gaps --symbols AAPL --lookback 72h --market-hours
  barsync gaps --symbols AAPL --days 2024-03-04,2024-03-05`,
	RunE: runGaps,
}

func init() {
	rootCmd.AddCommand(gapsCmd)
	gapsCmd.Flags().StringVar(&gapsSymbols, "symbols", "", "comma-separated symbols (default: ingest.symbols)")
	gapsCmd.Flags().StringSliceVar(&gapsDays, "days", nil, "market days to reload, YYYY-MM-DD (single symbol only)")
	gapsCmd.Flags().DurationVar(&gapsLookback, "lookback", 0, "detection window (default: ingest.gap_lookback)")
	gapsCmd.Flags().IntVar(&gapsMaxMinutes, "max-gap", 0, "largest gap to fill in minutes (default: ingest.max_gap_minutes)")
	gapsCmd.Flags().BoolVar(&gapsMarketHours, "market-hours", false, "only fill gaps inside one regular session")
}

func runGaps(cmd *cobra.Command, _ []string) error {
	symbols := symbolsOrDefault(gapsSymbols)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols: pass --symbols or set ingest.symbols")
	}

	if len(gapsDays) > 0 {
		if len(symbols) != 1 {
			return fmt.Errorf("--days needs exactly one symbol, got %d", len(symbols))
		}
		days := make([]time.Time, 0, len(gapsDays))
		for _, d := range gapsDays {
			t, err := parseDay(d)
			if err != nil {
				return err
			}
			days = append(days, t)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			n, err := a.Orchestrator.FillMissingDays(ctx, symbols[0], days)
			return printResults(cmd.OutOrStdout(), map[string]pipeline.Result{
				symbols[0]: resultOf(n, err),
			})
		})
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		opts := a.Orchestrator.GapOptions()
		if gapsLookback > 0 {
			opts.Lookback = gapsLookback
		}
		if gapsMaxMinutes > 0 {
			opts.MaxGapMinutes = gapsMaxMinutes
		}
		if cmd.Flags().Changed("market-hours") {
			opts.MarketHoursOnly = gapsMarketHours
		}
		return printResults(cmd.OutOrStdout(), a.Orchestrator.CheckAndFillGaps(ctx, symbols, opts))
	})
}

func resultOf(n int, err error) pipeline.Result {
	r := pipeline.Result{Bars: n, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
