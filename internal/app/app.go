// Package app assembles barsync's components from a Config: store backend,
// trading calendar, upstream fetcher, metrics and the pipeline orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"barsync/internal/api"
	"barsync/internal/calendar"
	"barsync/internal/config"
	"barsync/internal/gather"
	"barsync/internal/gather/us"
	"barsync/internal/httpapi"
	"barsync/internal/ingest"
	"barsync/internal/metrics"
	"barsync/internal/pipeline"
	"barsync/internal/quality"
	"barsync/internal/store"
)

// App holds the wired components for one process.
type App struct {
	Config       *config.Config
	Log          *slog.Logger
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Bars         store.BarStore
	Jobs         store.JobStore
	Calendar     calendar.Calendar
	Orchestrator *pipeline.Orchestrator

	closers []io.Closer
}

// New wires an App. fetcher may be nil, in which case the Alpaca bar
// fetcher is built from cfg.Alpaca.
func New(ctx context.Context, cfg *config.Config, fetcher gather.Fetcher, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Calendar = calendar.NewMarket(a.calendarSource(), a.calendarCache(), log)

	if fetcher == nil {
		fetcher = us.NewBarFetcher(cfg.Alpaca, log)
	}

	tracker := ingest.NewTracker(a.Jobs, a.Metrics, log)
	loader := ingest.NewLoader(fetcher, a.Bars, tracker, cfg.Ingest, a.Metrics, log)
	detector := ingest.NewDetector(a.Bars, a.Calendar, a.Metrics)

	orch, err := pipeline.New(cfg.Ingest, pipeline.Components{
		Bars:     a.Bars,
		Coverage: ingest.NewCoverageAnalyzer(a.Bars),
		Tracker:  tracker,
		Loader:   loader,
		Filler:   ingest.NewFiller(detector, loader, log),
		Verifier: quality.NewVerifier(a.Bars, detector, a.Calendar, cfg.Quality, a.Metrics, log),
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Orchestrator = orch
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	s := a.Config.Storage
	switch s.Backend {
	case "postgres":
		db, err := store.OpenPostgres(ctx, s.PostgresDSN, s.MaxOpenConns, s.QueryTimeout)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db)
		a.Bars, a.Jobs = db, db
		return nil
	case "sqlite", "parquet":
	default:
		return fmt.Errorf("unknown storage backend %q", s.Backend)
	}

	if s.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("creating sqlite dir: %w", err)
		}
	}
	db, err := store.OpenSQLite(ctx, s.SQLitePath, s.QueryTimeout)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db)
	a.Bars, a.Jobs = db, db

	// Parquet holds bars only; job checkpoints stay in SQLite.
	if s.Backend == "parquet" {
		a.Bars = store.NewParquetStore(s.DataDir)
	}
	return nil
}

func (a *App) calendarSource() calendar.Source {
	c := a.Config.Calendar
	if c.Source == "static" {
		return calendar.NewStatic(c.Holidays, c.EarlyCloses)
	}
	return us.NewCalendarSource(a.Config.Alpaca)
}

func (a *App) calendarCache() calendar.Cache {
	c := a.Config.Calendar
	if c.Cache != "redis" {
		return calendar.NewMemoryCache()
	}
	client := redis.NewClient(&redis.Options{Addr: c.RedisAddr, DB: c.RedisDB})
	a.closers = append(a.closers, client)
	return calendar.NewRedisCache(client, c.CacheTTL)
}

// Server builds the operator API server over the orchestrator.
func (a *App) Server() *api.Server {
	ops := httpapi.NewOpsServer(a.Orchestrator, a.Registry, a.Log)
	health := api.NewHealthService(a.Bars, 15*time.Second, a.Log)
	return api.NewServer(a.Config.Server, ops.Handler(), health, a.Log)
}

// Close releases stores and clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
