package ingest

import (
	"context"
	"log/slog"
	"time"

	"barsync/internal/domain"
	"barsync/internal/metrics"
	"barsync/internal/store"
)

// Tracker manages the lifecycle of fetch jobs. It mirrors every state
// change onto the in-memory *domain.FetchJob it is given.
type Tracker struct {
	jobs    store.JobStore
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewTracker creates a Tracker over jobs.
func NewTracker(jobs store.JobStore, m *metrics.Metrics, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{jobs: jobs, metrics: m, log: log.With("component", "tracker")}
}

// StartOrResume returns the existing job for (symbol, start, end) unchanged,
// or creates a pending one.
func (t *Tracker) StartOrResume(ctx context.Context, symbol string, start, end time.Time) (*domain.FetchJob, error) {
	job, err := t.jobs.CreateJobIfAbsent(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if job.LastBarTime != nil {
		t.log.Info("resuming job",
			"job", job.ID,
			"symbol", symbol,
			"status", job.Status,
			"lastBarTime", job.LastBarTime.Format(time.RFC3339),
		)
	}
	return job, nil
}

// Begin marks job running.
func (t *Tracker) Begin(ctx context.Context, job *domain.FetchJob) error {
	if err := t.jobs.MarkRunning(ctx, job.ID); err != nil {
		return err
	}
	job.Status = domain.JobRunning
	job.ErrorMessage = ""
	return nil
}

// RecordProgress checkpoints job at last with a cumulative bar count. The
// checkpoint never moves backwards; repeating a call is harmless.
func (t *Tracker) RecordProgress(ctx context.Context, job *domain.FetchJob, last time.Time, barsLoaded int64) error {
	if err := t.jobs.RecordProgress(ctx, job.ID, last, barsLoaded); err != nil {
		return err
	}
	if job.LastBarTime == nil || last.After(*job.LastBarTime) {
		l := last.UTC()
		job.LastBarTime = &l
	}
	job.BarsLoaded = barsLoaded
	return nil
}

// Complete marks job completed with its final bar count.
func (t *Tracker) Complete(ctx context.Context, job *domain.FetchJob, total int64) error {
	if err := t.jobs.CompleteJob(ctx, job.ID, total); err != nil {
		return err
	}
	job.Status = domain.JobCompleted
	job.BarsLoaded = total
	job.ErrorMessage = ""
	t.metrics.JobFinished(string(domain.JobCompleted))
	return nil
}

// Fail marks job failed. Its checkpoint is preserved for the next resume.
func (t *Tracker) Fail(ctx context.Context, job *domain.FetchJob, msg string) error {
	if err := t.jobs.FailJob(ctx, job.ID, msg); err != nil {
		return err
	}
	job.Status = domain.JobFailed
	job.ErrorMessage = msg
	t.metrics.JobFinished(string(domain.JobFailed))
	return nil
}

// ListIncomplete returns every pending, running or failed job.
func (t *Tracker) ListIncomplete(ctx context.Context) ([]domain.FetchJob, error) {
	return t.jobs.ListJobs(ctx, domain.IncompleteStatuses...)
}

// ListJobs returns jobs in the given statuses, or all of them.
func (t *Tracker) ListJobs(ctx context.Context, statuses ...domain.JobStatus) ([]domain.FetchJob, error) {
	return t.jobs.ListJobs(ctx, statuses...)
}
