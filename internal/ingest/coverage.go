// Package ingest loads minute bars from an upstream Fetcher into a BarStore:
// coverage analysis, job checkpointing, batched loading, and gap repair.
package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"barsync/internal/domain"
	"barsync/internal/store"
	"barsync/internal/util"
)

// Coverage describes which calendar years of a range hold any bars.
type Coverage struct {
	Symbol        string  `json:"symbol"`
	YearsWithData []int   `json:"years_with_data"`
	MissingYears  []int   `json:"missing_years"`
	TotalBars     int64   `json:"total_bars"`
	CoveragePct   float64 `json:"coverage_pct"`
}

// CoverageAnalyzer reports per-year data presence. It never writes.
type CoverageAnalyzer struct {
	bars store.BarStore
}

// NewCoverageAnalyzer creates a CoverageAnalyzer over bars.
func NewCoverageAnalyzer(bars store.BarStore) *CoverageAnalyzer {
	return &CoverageAnalyzer{bars: bars}
}

// Analyze counts the bars stored for symbol in each calendar year of
// [start, end] (dates, inclusive).
func (a *CoverageAnalyzer) Analyze(ctx context.Context, symbol string, start, end time.Time) (Coverage, error) {
	cov := Coverage{Symbol: symbol, YearsWithData: []int{}, MissingYears: []int{}}
	chunks := YearChunks(start, end)
	for _, c := range chunks {
		from := util.MarketDay(c.Start)
		to := util.MarketDay(c.End).AddDate(0, 0, 1)
		n, err := a.bars.CountRange(ctx, symbol, from, to)
		if err != nil {
			return Coverage{}, fmt.Errorf("coverage %s %d: %w", symbol, c.Start.Year(), err)
		}
		cov.TotalBars += n
		if n > 0 {
			cov.YearsWithData = append(cov.YearsWithData, c.Start.Year())
		} else {
			cov.MissingYears = append(cov.MissingYears, c.Start.Year())
		}
	}
	if len(chunks) > 0 {
		cov.CoveragePct = round2(float64(len(cov.YearsWithData)) / float64(len(chunks)) * 100)
	}
	return cov, nil
}

// YearChunks splits the inclusive date range [start, end] at calendar-year
// boundaries. Dates are returned as UTC midnights.
func YearChunks(start, end time.Time) []domain.DateRange {
	s, e := dateOnly(start), dateOnly(end)
	if e.Before(s) {
		return nil
	}
	var out []domain.DateRange
	for y := s.Year(); y <= e.Year(); y++ {
		cs := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
		ce := time.Date(y, 12, 31, 0, 0, 0, 0, time.UTC)
		if cs.Before(s) {
			cs = s
		}
		if ce.After(e) {
			ce = e
		}
		out = append(out, domain.DateRange{Start: cs, End: ce})
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
