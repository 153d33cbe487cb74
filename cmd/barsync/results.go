package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"barsync/internal/pipeline"
)

// printResults writes one line per symbol and returns an error naming the
// failed symbols, if any.
func printResults(w io.Writer, results map[string]pipeline.Result) error {
	symbols := make([]string, 0, len(results))
	for sym := range results {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tBARS\tERROR")
	for _, sym := range symbols {
		r := results[sym]
		fmt.Fprintf(tw, "%s\t%d\t%s\n", sym, r.Bars, r.Error)
	}
	tw.Flush()

	failed := pipeline.Failed(results)
	fmt.Fprintf(w, "\n%d symbols, %d bars, %d failed\n", len(results), pipeline.TotalBars(results), len(failed))
	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("%d symbols failed: %v", len(failed), failed)
	}
	return nil
}
