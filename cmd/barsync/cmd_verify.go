package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"barsync/internal/app"
	"barsync/internal/domain"
	"barsync/internal/quality"
)

var (
	verifySymbols string
	verifyJSON    bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Grade stored data quality per symbol",
	Long: `Verify runs the range, OHLC, duplicate, gap and coverage checks for each
symbol and prints a pass/warn/fail verdict. The command exits non-zero when
any symbol fails.`,
	Example: `  barsync verify
  barsync verify --symbols AAPL --json`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifySymbols, "symbols", "", "comma-separated symbols (default: ingest.symbols)")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "print the full reports as JSON")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	symbols := symbolsOrDefault(verifySymbols)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols: pass --symbols or set ingest.symbols")
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		s := a.Orchestrator.Verify(ctx, symbols)
		out := cmd.OutOrStdout()
		if verifyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(s); err != nil {
				return err
			}
		} else {
			printSummary(out, s)
		}
		if s.Overall == domain.StatusFail {
			return fmt.Errorf("%d of %d symbols failed verification", s.Fail, len(s.Reports))
		}
		return nil
	})
}

func printSummary(w io.Writer, s quality.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSTATUS\tBARS\tCOVERAGE\tOHLC\tDUPES\tGAPS\tISSUES")
	for _, r := range s.Reports {
		cov := "n/a"
		if r.CoveragePct != nil {
			cov = fmt.Sprintf("%.2f%%", *r.CoveragePct)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%d\t%d\t%s\n",
			r.Symbol, r.Status, r.TotalBars, cov, r.OHLCViolations, r.DuplicateCount, r.GapCount,
			strings.Join(r.Issues, "; "))
	}
	tw.Flush()
	fmt.Fprintf(w, "\npass %d, warn %d, fail %d: overall %s\n", s.Pass, s.Warn, s.Fail, s.Overall)
}
