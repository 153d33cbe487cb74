// Package pipeline drives backfill, job resumption, gap repair and
// verification across the configured symbols with a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"barsync/internal/config"
	"barsync/internal/domain"
	"barsync/internal/ingest"
	"barsync/internal/quality"
	"barsync/internal/store"
	"barsync/internal/util"
)

// Components are the collaborators an Orchestrator drives.
type Components struct {
	Bars     store.BarStore
	Coverage *ingest.CoverageAnalyzer
	Tracker  *ingest.Tracker
	Loader   *ingest.Loader
	Filler   *ingest.Filler
	Verifier *quality.Verifier
}

// Orchestrator runs pipeline operations over many symbols.
type Orchestrator struct {
	Components

	symbols         []string
	startDate       time.Time
	maxConcurrency  int
	symbolTimeout   time.Duration
	gapInterval     time.Duration
	gapLookback     time.Duration
	maxGapMinutes   int
	marketHoursOnly bool

	sem *semaphore.Weighted
	log *slog.Logger
	now func() time.Time
}

// New creates an Orchestrator from the ingest settings. cfg.StartDate must
// be a YYYY-MM-DD date.
func New(cfg config.Ingest, c Components, log *slog.Logger) (*Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}
	start, err := time.Parse("2006-01-02", cfg.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", cfg.StartDate, err)
	}
	n := max(cfg.MaxConcurrency, 1)
	timeout := cfg.SymbolTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Orchestrator{
		Components:      c,
		symbols:         cfg.Symbols,
		startDate:       start,
		maxConcurrency:  n,
		symbolTimeout:   timeout,
		gapInterval:     cfg.GapInterval,
		gapLookback:     cfg.GapLookback,
		maxGapMinutes:   cfg.MaxGapMinutes,
		marketHoursOnly: cfg.MarketHoursOnly,
		sem:             semaphore.NewWeighted(int64(n)),
		log:             log.With("component", "orchestrator"),
		now:             time.Now,
	}, nil
}

// Symbols returns the configured symbol list.
func (o *Orchestrator) Symbols() []string { return o.symbols }

// StartDate returns the configured backfill start date.
func (o *Orchestrator) StartDate() time.Time { return o.startDate }

// GapOptions returns the configured gap settings evaluated at now.
func (o *Orchestrator) GapOptions() ingest.GapOptions {
	return ingest.GapOptions{
		Lookback:        o.gapLookback,
		MaxGapMinutes:   o.maxGapMinutes,
		MarketHoursOnly: o.marketHoursOnly,
		Now:             o.now(),
	}
}

func (o *Orchestrator) runLog(op string) *slog.Logger {
	return o.log.With("run", uuid.NewString(), "op", op)
}

// Backfill loads the missing years of r for every symbol. Years already
// holding data are skipped unless an unfinished job covers them, in which
// case that job resumes from its checkpoint; completed jobs are never redone.
//
// A range reaching today is open-ended: its last year is keyed as a whole
// calendar year, so a rerun on a later day finds the same job.
func (o *Orchestrator) Backfill(ctx context.Context, symbols []string, r domain.DateRange) map[string]Result {
	log := o.runLog("backfill")
	today := util.MarketDate(o.now())
	openEnded := false
	if end := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC); !r.End.Before(end) {
		r.End = end
		openEnded = true
	}
	log.Info("starting backfill",
		"symbols", len(symbols),
		"start", r.Start.Format("2006-01-02"),
		"end", r.End.Format("2006-01-02"),
	)

	results := o.runPool(ctx, log, symbols, func(ctx context.Context, sym string) (int, error) {
		return o.backfillSymbol(ctx, log, strings.ToUpper(sym), r, openEnded)
	})
	o.logSummary(log, results)
	return results
}

func (o *Orchestrator) backfillSymbol(ctx context.Context, log *slog.Logger, sym string, r domain.DateRange, openEnded bool) (int, error) {
	cov, err := o.Coverage.Analyze(ctx, sym, r.Start, r.End)
	if err != nil {
		return 0, err
	}
	missing := make(map[int]bool)
	for _, y := range cov.MissingYears {
		missing[y] = true
	}

	incomplete, err := o.Tracker.ListIncomplete(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing jobs: %w", err)
	}
	unfinished := make(map[int][]domain.FetchJob)
	for _, j := range incomplete {
		if j.Symbol == sym {
			unfinished[j.StartDate.Year()] = append(unfinished[j.StartDate.Year()], j)
		}
	}

	total := 0
	for _, chunk := range ingest.YearChunks(r.Start, r.End) {
		year := chunk.Start.Year()

		if jobs := unfinished[year]; len(jobs) > 0 {
			sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartDate.Before(jobs[j].StartDate) })
			for i := range jobs {
				n, err := o.runJob(ctx, &jobs[i])
				total += n
				if err != nil {
					return total, err
				}
				log.Debug("job resumed", "symbol", sym, "job", jobs[i].ID, "bars", n)
			}
			continue
		}
		if !missing[year] {
			continue
		}

		end := chunk.End
		if openEnded && end.Equal(r.End) {
			end = time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)
		}
		job, err := o.Tracker.StartOrResume(ctx, sym, chunk.Start, end)
		if err != nil {
			return total, err
		}
		if job.Status == domain.JobCompleted {
			continue
		}
		n, err := o.runJob(ctx, job)
		total += n
		if err != nil {
			return total, err
		}
		log.Debug("year loaded", "symbol", sym, "year", year, "bars", n)
	}
	return total, nil
}

// runJob loads the remainder of job's window and completes it. The window
// never extends past now. The loader marks the job failed on error.
func (o *Orchestrator) runJob(ctx context.Context, job *domain.FetchJob) (int, error) {
	if err := o.Tracker.Begin(ctx, job); err != nil {
		return 0, err
	}
	from := job.ResumeFrom(util.MarketDay(job.StartDate))
	to := util.MarketDay(job.EndDate).AddDate(0, 0, 1)
	if now := o.now(); to.After(now) {
		to = now.UTC().Truncate(time.Minute)
	}

	n, err := o.Loader.Load(ctx, job.Symbol, from, to, job)
	if err != nil {
		return n, err
	}
	if err := o.Tracker.Complete(ctx, job, job.BarsLoaded); err != nil {
		return n, err
	}
	return n, nil
}

// ResumeIncomplete restarts every pending, running or failed job from its
// checkpoint. Jobs of one symbol run in date order.
func (o *Orchestrator) ResumeIncomplete(ctx context.Context) (map[string]Result, error) {
	log := o.runLog("resume")
	jobs, err := o.Tracker.ListIncomplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing incomplete jobs: %w", err)
	}

	bySymbol := make(map[string][]domain.FetchJob)
	for _, j := range jobs {
		bySymbol[j.Symbol] = append(bySymbol[j.Symbol], j)
	}
	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	log.Info("resuming jobs", "jobs", len(jobs), "symbols", len(symbols))

	results := o.runPool(ctx, log, symbols, func(ctx context.Context, sym string) (int, error) {
		symJobs := bySymbol[sym]
		sort.Slice(symJobs, func(i, j int) bool { return symJobs[i].StartDate.Before(symJobs[j].StartDate) })
		total := 0
		for i := range symJobs {
			n, err := o.runJob(ctx, &symJobs[i])
			total += n
			if err != nil {
				return total, err
			}
		}
		return total, nil
	})
	o.logSummary(log, results)
	return results, nil
}

// CheckAndFillGaps detects and fills gaps for every symbol.
func (o *Orchestrator) CheckAndFillGaps(ctx context.Context, symbols []string, opts ingest.GapOptions) map[string]Result {
	log := o.runLog("gaps")
	progress := func(sym string, done, total, bars int) {
		log.Debug("gap progress", "symbol", sym, "done", done, "total", total, "bars", bars)
	}
	results := o.runPool(ctx, log, symbols, func(ctx context.Context, sym string) (int, error) {
		return o.Filler.FillGaps(ctx, sym, opts, progress)
	})
	o.logSummary(log, results)
	return results
}

// FillMissingDays reloads whole market days for one symbol, holding a slot
// of the shared concurrency limit while it runs.
func (o *Orchestrator) FillMissingDays(ctx context.Context, symbol string, days []time.Time) (int, error) {
	log := o.runLog("fill-days")
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer o.sem.Release(1)

	r := o.runOne(ctx, symbol, func(ctx context.Context, sym string) (int, error) {
		return o.Filler.FillDays(ctx, sym, days, func(sym string, done, total, bars int) {
			log.Info("day range filled", "symbol", sym, "done", done, "total", total, "bars", bars)
		})
	})
	return r.Bars, r.Err
}

// Verify produces quality reports for symbols using the worker pool.
func (o *Orchestrator) Verify(ctx context.Context, symbols []string) quality.Summary {
	log := o.runLog("verify")
	var (
		mu      sync.Mutex
		reports = make(map[string]domain.QualityReport, len(symbols))
	)
	results := o.runPool(ctx, log, symbols, func(ctx context.Context, sym string) (int, error) {
		r := o.Verifier.Verify(ctx, sym)
		mu.Lock()
		reports[sym] = r
		mu.Unlock()
		return 0, nil
	})

	// A symbol abandoned on timeout still gets a failing report.
	ordered := make([]domain.QualityReport, 0, len(symbols))
	for _, sym := range symbols {
		mu.Lock()
		r, ok := reports[sym]
		mu.Unlock()
		if !ok {
			r = o.Verifier.Unverified(sym, results[sym].Err)
		}
		ordered = append(ordered, r)
	}
	s := quality.Summarize(ordered)
	log.Info("verification done", "pass", s.Pass, "warn", s.Warn, "fail", s.Fail, "overall", s.Overall)
	return s
}

// Run resumes interrupted jobs, backfills symbols that have no bars yet, and
// then checks for gaps every gap interval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if _, err := o.ResumeIncomplete(ctx); err != nil {
		return err
	}

	var fresh []string
	for _, sym := range o.symbols {
		br, err := o.Bars.CountAndRange(ctx, sym)
		if err != nil {
			return fmt.Errorf("checking stored bars for %s: %w", sym, err)
		}
		if br.Total == 0 {
			fresh = append(fresh, sym)
		}
	}
	if len(fresh) > 0 {
		o.Backfill(ctx, fresh, domain.DateRange{Start: o.startDate, End: o.now().UTC()})
	}

	interval := o.gapInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		o.CheckAndFillGaps(ctx, o.symbols, o.GapOptions())
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) logSummary(log *slog.Logger, results map[string]Result) {
	failed := Failed(results)
	sort.Strings(failed)
	log.Info("run complete",
		"symbols", len(results),
		"failed", len(failed),
		"bars", TotalBars(results),
	)
	if len(failed) > 0 {
		log.Warn("symbols failed", "symbols", strings.Join(failed, ","))
	}
}
