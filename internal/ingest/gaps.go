package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"barsync/internal/calendar"
	"barsync/internal/domain"
	"barsync/internal/metrics"
	"barsync/internal/store"
	"barsync/internal/util"
)

// GapOptions controls gap detection and filtering.
type GapOptions struct {
	Lookback time.Duration
	// MaxGapMinutes drops larger gaps when MarketHoursOnly is off. Zero
	// disables the ceiling.
	MaxGapMinutes   int
	MarketHoursOnly bool
	// Now overrides the wall clock; zero means time.Now().
	Now time.Time
}

func (o GapOptions) now() time.Time {
	if o.Now.IsZero() {
		return time.Now().UTC().Truncate(time.Minute)
	}
	return o.Now.UTC().Truncate(time.Minute)
}

// ProgressFunc is told about each finished unit of gap work.
type ProgressFunc func(symbol string, done, total, bars int)

// FindGaps returns the holes between consecutive ascending timestamps.
// Neighbours exactly one minute apart are contiguous.
func FindGaps(timestamps []time.Time) []domain.Gap {
	var gaps []domain.Gap
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i].Sub(timestamps[i-1]) > time.Minute {
			gaps = append(gaps, domain.Gap{Start: timestamps[i-1], End: timestamps[i]})
		}
	}
	return gaps
}

// TrailingGap reports the hole between the last stored bar and now.
func TrailingGap(last, now time.Time) (domain.Gap, bool) {
	if now.Sub(last) > time.Minute {
		return domain.Gap{Start: last, End: now}, true
	}
	return domain.Gap{}, false
}

// Detector finds gaps in recently stored bars.
type Detector struct {
	bars    store.BarStore
	cal     calendar.Calendar
	metrics *metrics.Metrics
}

// NewDetector creates a Detector. cal is only consulted when filtering to
// market hours.
func NewDetector(bars store.BarStore, cal calendar.Calendar, m *metrics.Metrics) *Detector {
	return &Detector{bars: bars, cal: cal, metrics: m}
}

// Detect returns the internal gaps of symbol within the lookback window plus
// the trailing gap to now. A symbol with no bars in the window has no gaps.
func (d *Detector) Detect(ctx context.Context, symbol string, opts GapOptions) ([]domain.Gap, error) {
	now := opts.now()
	ts, err := d.bars.QueryTimestamps(ctx, symbol, now.Add(-opts.Lookback), now)
	if err != nil {
		return nil, fmt.Errorf("detecting gaps for %s: %w", symbol, err)
	}
	if len(ts) == 0 {
		return nil, nil
	}
	gaps := FindGaps(ts)
	if g, ok := TrailingGap(ts[len(ts)-1], now); ok {
		gaps = append(gaps, g)
	}
	return gaps, nil
}

// Fillable filters gaps down to the ones worth fetching.
func (d *Detector) Fillable(ctx context.Context, gaps []domain.Gap, opts GapOptions) ([]domain.Gap, error) {
	var out []domain.Gap
	for _, g := range gaps {
		if g.MissingMinutes() < 1 {
			continue
		}
		if !opts.MarketHoursOnly {
			if opts.MaxGapMinutes > 0 && g.MissingMinutes() > opts.MaxGapMinutes {
				continue
			}
			out = append(out, g)
			continue
		}

		if !util.MarketDate(g.Start).Equal(util.MarketDate(g.End)) {
			continue
		}
		h, ok, err := d.cal.SessionHours(ctx, g.Start)
		if err != nil {
			return nil, err
		}
		if ok && h.Contains(g.Start) && h.Contains(g.End) {
			out = append(out, g)
		}
	}
	return out, nil
}

// DetectFillable is Detect followed by Fillable.
func (d *Detector) DetectFillable(ctx context.Context, symbol string, opts GapOptions) ([]domain.Gap, error) {
	gaps, err := d.Detect(ctx, symbol, opts)
	if err != nil {
		return nil, err
	}
	fillable, err := d.Fillable(ctx, gaps, opts)
	if err != nil {
		return nil, err
	}
	d.metrics.GapsDetected(strings.ToUpper(symbol), len(fillable))
	return fillable, nil
}

// Filler repairs gaps by reloading the missing ranges.
type Filler struct {
	detector *Detector
	loader   *Loader
	log      *slog.Logger
}

// NewFiller creates a Filler.
func NewFiller(detector *Detector, loader *Loader, log *slog.Logger) *Filler {
	if log == nil {
		log = slog.Default()
	}
	return &Filler{detector: detector, loader: loader, log: log.With("component", "gap-filler")}
}

// FillGaps detects and fetches every fillable gap of symbol. Failures on one
// gap do not stop the others; they are joined into the returned error.
func (f *Filler) FillGaps(ctx context.Context, symbol string, opts GapOptions, progress ProgressFunc) (int, error) {
	gaps, err := f.detector.DetectFillable(ctx, symbol, opts)
	if err != nil {
		return 0, err
	}
	if len(gaps) == 0 {
		return 0, nil
	}
	f.log.Info("filling gaps", "symbol", symbol, "gaps", len(gaps))

	var (
		total int
		errs  []error
	)
	for i, g := range gaps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := f.loader.Load(ctx, symbol, g.Start.Add(time.Minute), g.End, nil)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("gap %s..%s: %w",
				g.Start.UTC().Format(time.RFC3339), g.End.UTC().Format(time.RFC3339), err))
		}
		if progress != nil {
			progress(symbol, i+1, len(gaps), total)
		}
	}
	return total, errors.Join(errs...)
}

// FillDays reloads whole market days for symbol, issuing one load per run of
// contiguous days.
func (f *Filler) FillDays(ctx context.Context, symbol string, days []time.Time, progress ProgressFunc) (int, error) {
	ranges := GroupContiguousDays(days)
	var (
		total int
		errs  []error
	)
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		from := util.MarketDay(r.Start)
		to := util.MarketDay(r.End).AddDate(0, 0, 1)
		n, err := f.loader.Load(ctx, symbol, from, to, nil)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("days %s..%s: %w",
				r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), err))
		}
		if progress != nil {
			progress(symbol, i+1, len(ranges), total)
		}
	}
	return total, errors.Join(errs...)
}

// GroupContiguousDays sorts and deduplicates dates and merges consecutive
// calendar days into inclusive ranges.
func GroupContiguousDays(days []time.Time) []domain.DateRange {
	if len(days) == 0 {
		return nil
	}
	norm := make([]time.Time, len(days))
	for i, d := range days {
		norm[i] = dateOnly(d)
	}
	sort.Slice(norm, func(i, j int) bool { return norm[i].Before(norm[j]) })

	out := []domain.DateRange{{Start: norm[0], End: norm[0]}}
	for _, d := range norm[1:] {
		cur := &out[len(out)-1]
		switch {
		case d.Equal(cur.End):
		case d.Equal(cur.End.AddDate(0, 0, 1)):
			cur.End = d
		default:
			out = append(out, domain.DateRange{Start: d, End: d})
		}
	}
	return out
}
