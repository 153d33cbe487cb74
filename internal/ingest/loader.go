package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"barsync/internal/config"
	"barsync/internal/domain"
	"barsync/internal/gather"
	"barsync/internal/metrics"
	"barsync/internal/store"
	"barsync/internal/util"
)

type progressKey struct{}

// WithProgress returns a context under which every Load adds the bars it
// stores to counter as each batch lands, so a caller that gives up on a
// load still knows how much of it was written.
func WithProgress(ctx context.Context, counter *atomic.Int64) context.Context {
	return context.WithValue(ctx, progressKey{}, counter)
}

func addProgress(ctx context.Context, n int) {
	if c, ok := ctx.Value(progressKey{}).(*atomic.Int64); ok {
		c.Add(int64(n))
	}
}

// Loader fetches a time range for one symbol in sub-windows and writes the
// bars in batches, checkpointing the job after every batch.
type Loader struct {
	fetcher gather.Fetcher
	bars    store.BarStore
	tracker *Tracker
	metrics *metrics.Metrics
	log     *slog.Logger

	maxDays       int
	batchSize     int
	retryAttempts int
	retryDelay    time.Duration
}

// NewLoader creates a Loader using the ingest settings in cfg.
func NewLoader(fetcher gather.Fetcher, bars store.BarStore, tracker *Tracker, cfg config.Ingest, m *metrics.Metrics, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		fetcher:       fetcher,
		bars:          bars,
		tracker:       tracker,
		metrics:       m,
		log:           log.With("component", "loader"),
		maxDays:       max(cfg.FetchMaxDays, 1),
		batchSize:     max(cfg.BatchSize, 1),
		retryAttempts: max(cfg.RetryAttempts, 1),
		retryDelay:    cfg.RetryDelay,
	}
}

// Load fetches [from, to) for symbol and stores it. job may be nil, in which
// case no checkpoint is written. On failure the job is marked failed with its
// checkpoint intact, and the bars stored before the failure are still
// counted in the returned total.
func (l *Loader) Load(ctx context.Context, symbol string, from, to time.Time, job *domain.FetchJob) (int, error) {
	if !from.Before(to) {
		return 0, nil
	}
	symbol = strings.ToUpper(symbol)

	var base int64
	if job != nil {
		base = job.BarsLoaded
	}

	loaded := 0
	for ws := from; ws.Before(to); {
		we := ws.AddDate(0, 0, l.maxDays)
		if we.After(to) {
			we = to
		}

		n, err := l.loadWindow(ctx, symbol, ws, we, job, base+int64(loaded))
		loaded += n
		if err != nil {
			l.fail(ctx, job, err)
			return loaded, err
		}
		ws = we
	}

	l.log.Debug("range loaded",
		"symbol", symbol,
		"from", from.UTC().Format(time.RFC3339),
		"to", to.UTC().Format(time.RFC3339),
		"bars", loaded,
	)
	return loaded, nil
}

func (l *Loader) loadWindow(ctx context.Context, symbol string, from, to time.Time, job *domain.FetchJob, before int64) (int, error) {
	var raw []gather.RawBar
	err := util.Retry(ctx, l.retryAttempts, l.retryDelay, func(int) error {
		res, err := l.fetcher.GetBars(ctx, []string{symbol}, from, to)
		l.metrics.FetchResult(err == nil)
		if err != nil {
			return err
		}
		raw = res[symbol]
		return nil
	}, func(attempt int, err error) {
		l.metrics.FetchRetry()
		l.log.Warn("fetch failed, retrying",
			"symbol", symbol,
			"attempt", attempt,
			"from", from.UTC().Format(time.RFC3339),
			"error", err,
		)
	})
	if err != nil {
		return 0, fmt.Errorf("fetching %s %s..%s: %w", symbol,
			from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), err)
	}

	bars := l.prepare(symbol, raw, from, to)
	if len(bars) == 0 {
		return 0, nil
	}

	loaded := 0
	for i := 0; i < len(bars); i += l.batchSize {
		batch := bars[i:min(i+l.batchSize, len(bars))]
		n, err := l.bars.UpsertBars(ctx, batch)
		if err != nil {
			return loaded, fmt.Errorf("storing %s: %w", symbol, err)
		}
		loaded += n
		l.metrics.BarsUpserted(symbol, n)
		addProgress(ctx, n)

		if job != nil {
			last := batch[len(batch)-1].Timestamp
			if err := l.tracker.RecordProgress(ctx, job, last, before+int64(loaded)); err != nil {
				return loaded, fmt.Errorf("checkpointing %s: %w", symbol, err)
			}
		}
	}
	return loaded, nil
}

// prepare converts raw bars, keeps those inside [from, to), sorts them,
// drops repeated timestamps and rejects bars that fail validation.
func (l *Loader) prepare(symbol string, raw []gather.RawBar, from, to time.Time) []domain.Bar {
	bars := make([]domain.Bar, 0, len(raw))
	for _, r := range raw {
		ts := r.Timestamp.UTC().Truncate(time.Minute)
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		bars = append(bars, toBar(symbol, ts, r))
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	out := make([]domain.Bar, 0, len(bars))
	rejected := 0
	for i, b := range bars {
		if i > 0 && b.Timestamp.Equal(bars[i-1].Timestamp) {
			continue
		}
		if err := b.Validate(); err != nil {
			rejected++
			l.log.Warn("rejecting bar", "symbol", symbol, "error", err)
			continue
		}
		out = append(out, b)
	}
	l.metrics.BarsRejected(symbol, rejected)
	return out
}

func toBar(symbol string, ts time.Time, r gather.RawBar) domain.Bar {
	b := domain.Bar{
		Symbol:     symbol,
		Timestamp:  ts,
		Open:       decimal.NewFromFloat(r.Open),
		High:       decimal.NewFromFloat(r.High),
		Low:        decimal.NewFromFloat(r.Low),
		Close:      decimal.NewFromFloat(r.Close),
		Volume:     int64(r.Volume),
		TradeCount: r.TradeCount,
		Session:    util.ClassifySession(ts),
	}
	if r.VWAP != nil {
		b.VWAP = decimal.NewNullDecimal(decimal.NewFromFloat(*r.VWAP))
	}
	return b
}

func (l *Loader) fail(ctx context.Context, job *domain.FetchJob, cause error) {
	l.log.Error("load failed", "error", cause)
	if job == nil {
		return
	}
	// The job must be marked even when ctx was cancelled.
	if err := l.tracker.Fail(context.WithoutCancel(ctx), job, cause.Error()); err != nil {
		l.log.Error("marking job failed", "job", job.ID, "error", err)
	}
}
