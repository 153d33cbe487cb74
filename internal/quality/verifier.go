// Package quality verifies stored minute bars: OHLC consistency, duplicate
// keys, gaps, and regular-session coverage against the market calendar.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"barsync/internal/calendar"
	"barsync/internal/config"
	"barsync/internal/domain"
	"barsync/internal/ingest"
	"barsync/internal/metrics"
	"barsync/internal/store"
)

// Check names used in QualityReport.Unavailable.
const (
	CheckRange      = "range"
	CheckOHLC       = "ohlc"
	CheckDuplicates = "duplicates"
	CheckGaps       = "gaps"
	CheckCoverage   = "coverage"
)

// Verifier builds QualityReports. Each check runs on its own; a failing
// check is reported as unavailable and the rest still run.
type Verifier struct {
	bars     store.BarStore
	detector *ingest.Detector
	cal      calendar.Calendar
	cfg      config.Quality
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// NewVerifier creates a Verifier with the thresholds in cfg.
func NewVerifier(bars store.BarStore, detector *ingest.Detector, cal calendar.Calendar, cfg config.Quality, m *metrics.Metrics, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{
		bars:     bars,
		detector: detector,
		cal:      cal,
		cfg:      cfg,
		metrics:  m,
		log:      log.With("component", "verifier"),
		now:      time.Now,
	}
}

// Verify runs every check for symbol. It never fails; problems are
// reported in the returned report.
func (v *Verifier) Verify(ctx context.Context, symbol string) domain.QualityReport {
	started := v.now()
	symbol = strings.ToUpper(symbol)
	r := domain.QualityReport{
		Symbol:        symbol,
		MissingStatus: domain.StatusPass,
		OHLCStatus:    domain.StatusPass,
		CheckedAt:     started.UTC(),
	}

	var br store.BarRange
	rangeOK := v.run(&r, CheckRange, func() error {
		var err error
		br, err = v.bars.CountAndRange(ctx, symbol)
		if err != nil {
			return err
		}
		r.TotalBars = br.Total
		if br.Total > 0 {
			e, l := br.Earliest, br.Latest
			r.Earliest, r.Latest = &e, &l
		}
		return nil
	})

	if v.run(&r, CheckOHLC, func() error { return v.checkOHLC(ctx, &r) }) {
		r.OHLCStatus = classify(float64(r.OHLCViolations), float64(v.cfg.OHLCWarnCount), float64(v.cfg.OHLCFailCount))
		if r.OHLCViolations > 0 {
			r.Issues = append(r.Issues, fmt.Sprintf("%d OHLC violations", r.OHLCViolations))
		}
	}

	v.run(&r, CheckDuplicates, func() error {
		n, err := v.bars.CountWhere(ctx, symbol, store.DuplicateKey)
		if err != nil {
			return err
		}
		r.DuplicateCount = n
		if n > 0 {
			r.Issues = append(r.Issues, fmt.Sprintf("%d duplicate (symbol, timestamp) keys", n))
		}
		return nil
	})

	v.run(&r, CheckGaps, func() error { return v.checkGaps(ctx, &r) })

	if rangeOK {
		if v.run(&r, CheckCoverage, func() error { return v.checkCoverage(ctx, &r, br) }) && r.MissingPct != nil {
			r.MissingStatus = classify(*r.MissingPct, v.cfg.MissingWarnPct, v.cfg.MissingFailPct)
			if r.MissingStatus != domain.StatusPass {
				r.Issues = append(r.Issues, fmt.Sprintf("%.2f%% of expected regular-session minutes missing", *r.MissingPct))
			}
		}
	} else {
		v.unavailable(&r, CheckCoverage, fmt.Errorf("stored range unknown"))
	}

	r.Status = domain.Worst(r.MissingStatus, r.OHLCStatus)
	r.Elapsed = v.now().Sub(started)
	v.metrics.QualityStatus(symbol, statusLevel(r.Status))

	v.log.Info("verified",
		"symbol", symbol,
		"status", r.Status,
		"bars", r.TotalBars,
		"issues", len(r.Issues),
		"elapsed", r.Elapsed.Round(time.Millisecond),
	)
	return r
}

// Unverified is the report for a symbol whose checks did not finish, for
// example because the per-symbol timeout fired. Every check is listed as
// unavailable and the status is fail.
func (v *Verifier) Unverified(symbol string, cause error) domain.QualityReport {
	symbol = strings.ToUpper(symbol)
	if cause == nil {
		cause = fmt.Errorf("verification did not finish")
	}
	r := domain.QualityReport{
		Symbol:        symbol,
		MissingStatus: domain.StatusFail,
		OHLCStatus:    domain.StatusFail,
		Status:        domain.StatusFail,
		Unavailable:   []string{CheckRange, CheckOHLC, CheckDuplicates, CheckGaps, CheckCoverage},
		Issues:        []string{"verification incomplete: " + cause.Error()},
		CheckedAt:     v.now().UTC(),
	}
	v.metrics.QualityStatus(symbol, statusLevel(r.Status))
	v.log.Warn("verification incomplete", "symbol", symbol, "error", cause)
	return r
}

func (v *Verifier) checkOHLC(ctx context.Context, r *domain.QualityReport) error {
	n, err := v.bars.CountWhere(ctx, r.Symbol, store.OHLCViolation)
	if err != nil {
		return err
	}
	r.OHLCViolations = n
	if n > 0 && v.cfg.SampleLimit > 0 {
		sample, err := v.bars.SampleWhere(ctx, r.Symbol, store.OHLCViolation, v.cfg.SampleLimit)
		if err != nil {
			return err
		}
		r.SampleViolations = sample
	}
	return nil
}

func (v *Verifier) checkGaps(ctx context.Context, r *domain.QualityReport) error {
	if v.detector == nil {
		return fmt.Errorf("no gap detector configured")
	}
	opts := ingest.GapOptions{
		Lookback:        v.cfg.GapLookback,
		MarketHoursOnly: v.cfg.MarketHoursOnly,
		Now:             v.now(),
	}
	gaps, err := v.detector.Detect(ctx, r.Symbol, opts)
	if err != nil {
		return err
	}
	gaps, err = v.detector.Fillable(ctx, gaps, opts)
	if err != nil {
		return err
	}
	r.GapCount = len(gaps)
	for i := range gaps {
		if r.LargestGap == nil || gaps[i].MissingMinutes() > r.LargestGap.MissingMinutes() {
			g := gaps[i]
			r.LargestGap = &g
		}
	}
	return nil
}

func (v *Verifier) checkCoverage(ctx context.Context, r *domain.QualityReport, br store.BarRange) error {
	if br.Total == 0 {
		zero, full := 0.0, 100.0
		r.CoveragePct, r.MissingPct = &zero, &full
		r.Issues = append(r.Issues, "no bars stored")
		return nil
	}
	if v.cal == nil {
		return fmt.Errorf("no market calendar configured")
	}

	regular, err := v.bars.CountWhere(ctx, r.Symbol, store.RegularSession)
	if err != nil {
		return err
	}
	r.RegularSessionBars = regular

	expected, err := v.cal.TotalExpectedMinutes(ctx, br.Earliest, br.Latest)
	if err != nil {
		return fmt.Errorf("calendar: %w", err)
	}
	r.ExpectedBars = &expected
	if expected == 0 {
		return fmt.Errorf("no trading minutes between %s and %s",
			br.Earliest.Format(time.RFC3339), br.Latest.Format(time.RFC3339))
	}

	coverage := round2(float64(regular) / float64(expected) * 100)
	missing := round2(math.Max(0, 100-coverage))
	r.CoveragePct, r.MissingPct = &coverage, &missing
	return nil
}

// run executes one check, converting errors and panics into an unavailable
// entry. It reports whether the check succeeded.
func (v *Verifier) run(r *domain.QualityReport, name string, check func() error) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			v.unavailable(r, name, fmt.Errorf("panic: %v", p))
			ok = false
		}
	}()
	if err := check(); err != nil {
		v.unavailable(r, name, err)
		return false
	}
	return true
}

func (v *Verifier) unavailable(r *domain.QualityReport, name string, err error) {
	r.Unavailable = append(r.Unavailable, name)
	r.Issues = append(r.Issues, fmt.Sprintf("%s check unavailable: %v", name, err))
	v.log.Warn("quality check unavailable", "symbol", r.Symbol, "check", name, "error", err)
}

// classify grades value against two-tier thresholds: at or above fail is a
// failure, at or above warn a warning.
func classify(value, warn, fail float64) domain.Status {
	switch {
	case value >= fail:
		return domain.StatusFail
	case value >= warn:
		return domain.StatusWarn
	default:
		return domain.StatusPass
	}
}

func statusLevel(s domain.Status) float64 {
	switch s {
	case domain.StatusFail:
		return 2
	case domain.StatusWarn:
		return 1
	default:
		return 0
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
