// Package store defines storage interfaces for minute bars and fetch-job
// checkpoints, with SQL (SQLite, PostgreSQL) and Parquet implementations.
package store

import (
	"context"
	"errors"
	"time"

	"barsync/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Predicate selects a subset of a symbol's stored bars.
type Predicate int

const (
	// OHLCViolation matches bars where high < open, high < close,
	// low > open or low > close.
	OHLCViolation Predicate = iota
	// DuplicateKey counts (symbol, timestamp) keys holding more than one row.
	DuplicateKey
	// RegularSession matches bars tagged with the regular trading session.
	RegularSession
)

func (p Predicate) String() string {
	switch p {
	case OHLCViolation:
		return "ohlc_violation"
	case DuplicateKey:
		return "duplicate_key"
	case RegularSession:
		return "regular_session"
	default:
		return "unknown"
	}
}

// BarRange summarises what is stored for one symbol. Earliest and Latest are
// zero when Total is zero.
type BarRange struct {
	Total    int64
	Earliest time.Time
	Latest   time.Time
}

// BarStore persists and queries minute bars keyed by (symbol, timestamp).
type BarStore interface {
	// UpsertBars inserts bars, replacing OHLCV fields on key conflict, and
	// returns the number of rows written.
	UpsertBars(ctx context.Context, bars []domain.Bar) (int, error)

	// QueryTimestamps returns the stored timestamps for symbol within
	// [from, to], ascending.
	QueryTimestamps(ctx context.Context, symbol string, from, to time.Time) ([]time.Time, error)

	// CountAndRange returns the total bar count and the earliest and latest
	// stored timestamps for symbol.
	CountAndRange(ctx context.Context, symbol string) (BarRange, error)

	// CountRange counts bars for symbol within [from, to).
	CountRange(ctx context.Context, symbol string, from, to time.Time) (int64, error)

	// CountWhere counts the bars of symbol matching p. For DuplicateKey it
	// counts keys, not rows.
	CountWhere(ctx context.Context, symbol string, p Predicate) (int64, error)

	// SampleWhere returns up to limit bars of symbol matching p, oldest first.
	SampleWhere(ctx context.Context, symbol string, p Predicate, limit int) ([]domain.Bar, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// JobStore persists FetchJob checkpoints, one per (symbol, start, end).
type JobStore interface {
	// CreateJobIfAbsent inserts a pending job unless one with the same
	// identity already exists, and returns the stored job either way.
	CreateJobIfAbsent(ctx context.Context, symbol string, start, end time.Time) (*domain.FetchJob, error)

	// GetJob returns the job with the given identity or ErrNotFound.
	GetJob(ctx context.Context, symbol string, start, end time.Time) (*domain.FetchJob, error)

	// MarkRunning moves a job to running and clears its error message.
	MarkRunning(ctx context.Context, id int64) error

	// RecordProgress advances the checkpoint. last_bar_time never moves
	// backwards, even if called with an older timestamp.
	RecordProgress(ctx context.Context, id int64, lastBarTime time.Time, barsLoaded int64) error

	// CompleteJob marks a job completed with its final bar count.
	CompleteJob(ctx context.Context, id int64, barsLoaded int64) error

	// FailJob marks a job failed, preserving last_bar_time.
	FailJob(ctx context.Context, id int64, message string) error

	// ListJobs returns jobs in any of the given statuses (all jobs when none
	// are given), ordered by symbol then start date.
	ListJobs(ctx context.Context, statuses ...domain.JobStatus) ([]domain.FetchJob, error)
}
