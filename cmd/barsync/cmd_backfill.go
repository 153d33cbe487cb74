package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"barsync/internal/app"
	"barsync/internal/domain"
	"barsync/internal/pipeline"
	"barsync/internal/util"
)

var (
	backfillSymbols string
	backfillStart   string
	backfillEnd     string
	backfillResume  bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load missing years of minute bars",
	Long: `Backfill analyses per-year coverage for each symbol and loads every year
with no stored bars. Years with an unfinished job are resumed from the job's
checkpoint; completed years are skipped, so the command is safe to rerun.`,
	Example: `  barsync backfill
  barsync backfill --symbols AAPL,MSFT --start 2019-01-01
  barsync backfill --resume`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillCmd.Flags().StringVar(&backfillSymbols, "symbols", "", "comma-separated symbols (default: ingest.symbols)")
	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "first date, YYYY-MM-DD (default: ingest.start_date)")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "last date, YYYY-MM-DD (default: today)")
	backfillCmd.Flags().BoolVar(&backfillResume, "resume", false, "resume every unfinished job before backfilling")
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	start := cfg.StartDate()
	if backfillStart != "" {
		t, err := parseDay(backfillStart)
		if err != nil {
			return err
		}
		start = t
	}
	today := util.MarketDate(time.Now())
	end := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if backfillEnd != "" {
		t, err := parseDay(backfillEnd)
		if err != nil {
			return err
		}
		end = t
	}
	if end.Before(start) {
		return fmt.Errorf("end %s is before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	symbols := symbolsOrDefault(backfillSymbols)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols: pass --symbols or set ingest.symbols")
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		results := make(map[string]pipeline.Result)
		if backfillResume {
			resumed, err := a.Orchestrator.ResumeIncomplete(ctx)
			if err != nil {
				return err
			}
			for sym, r := range resumed {
				results[sym] = r
			}
		}
		for sym, r := range a.Orchestrator.Backfill(ctx, symbols, domain.DateRange{Start: start, End: end}) {
			if prev, ok := results[sym]; ok {
				r.Bars += prev.Bars
				if r.Err == nil {
					r.Err, r.Error = prev.Err, prev.Error
				}
			}
			results[sym] = r
		}
		return printResults(cmd.OutOrStdout(), results)
	})
}
