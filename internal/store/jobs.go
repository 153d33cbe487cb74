package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"barsync/internal/domain"
)

const dateLayout = "2006-01-02"

type jobRow struct {
	ID           int64          `db:"id"`
	Symbol       string         `db:"symbol"`
	StartDate    string         `db:"start_date"`
	EndDate      string         `db:"end_date"`
	Status       string         `db:"status"`
	LastBarTime  sql.NullInt64  `db:"last_bar_time"`
	BarsLoaded   int64          `db:"bars_loaded"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
}

func (r jobRow) toJob() (domain.FetchJob, error) {
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return domain.FetchJob{}, fmt.Errorf("job %d: parsing start_date %q: %w", r.ID, r.StartDate, err)
	}
	end, err := time.Parse(dateLayout, r.EndDate)
	if err != nil {
		return domain.FetchJob{}, fmt.Errorf("job %d: parsing end_date %q: %w", r.ID, r.EndDate, err)
	}
	j := domain.FetchJob{
		ID:           r.ID,
		Symbol:       r.Symbol,
		StartDate:    start,
		EndDate:      end,
		Status:       domain.JobStatus(r.Status),
		BarsLoaded:   r.BarsLoaded,
		ErrorMessage: r.ErrorMessage.String,
		CreatedAt:    time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:    time.Unix(r.UpdatedAt, 0).UTC(),
	}
	if r.LastBarTime.Valid {
		t := time.Unix(r.LastBarTime.Int64, 0).UTC()
		j.LastBarTime = &t
	}
	return j, nil
}

// CreateJobIfAbsent inserts a pending job for (symbol, start, end) unless one
// already exists, then returns the stored row.
func (s *SQLStore) CreateJobIfAbsent(ctx context.Context, symbol string, start, end time.Time) (*domain.FetchJob, error) {
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().Unix()
	q := s.db.Rebind(`INSERT INTO fetch_jobs (symbol, start_date, end_date, status, bars_loaded, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (symbol, start_date, end_date) DO NOTHING`)
	if _, err := s.db.ExecContext(qctx, q,
		symbol, start.Format(dateLayout), end.Format(dateLayout), string(domain.JobPending), now, now); err != nil {
		return nil, fmt.Errorf("creating job %s %s..%s: %w",
			symbol, start.Format(dateLayout), end.Format(dateLayout), err)
	}
	return s.GetJob(ctx, symbol, start, end)
}

// GetJob returns the job identified by (symbol, start, end).
func (s *SQLStore) GetJob(ctx context.Context, symbol string, start, end time.Time) (*domain.FetchJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row jobRow
	q := s.db.Rebind(`SELECT ` + jobColumns + ` FROM fetch_jobs WHERE symbol = ? AND start_date = ? AND end_date = ?`)
	err := s.db.GetContext(ctx, &row, q, symbol, start.Format(dateLayout), end.Format(dateLayout))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", symbol, err)
	}
	j, err := row.toJob()
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkRunning sets status to running and clears any previous error.
func (s *SQLStore) MarkRunning(ctx context.Context, id int64) error {
	return s.execJob(ctx, id,
		`UPDATE fetch_jobs SET status = ?, error_message = NULL, updated_at = ? WHERE id = ?`,
		string(domain.JobRunning), time.Now().Unix(), id)
}

// RecordProgress advances last_bar_time (never backwards) and stores the
// running bar count.
func (s *SQLStore) RecordProgress(ctx context.Context, id int64, lastBarTime time.Time, barsLoaded int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.db.Rebind(
		`UPDATE fetch_jobs SET bars_loaded = ?, updated_at = ? WHERE id = ?`),
		barsLoaded, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("recording progress for job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	ts := lastBarTime.Unix()
	if _, err := tx.ExecContext(ctx, s.db.Rebind(
		`UPDATE fetch_jobs SET last_bar_time = ? WHERE id = ? AND (last_bar_time IS NULL OR last_bar_time < ?)`),
		ts, id, ts); err != nil {
		return fmt.Errorf("advancing checkpoint for job %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing progress for job %d: %w", id, err)
	}
	return nil
}

// CompleteJob marks the job completed with its final bar count.
func (s *SQLStore) CompleteJob(ctx context.Context, id int64, barsLoaded int64) error {
	return s.execJob(ctx, id,
		`UPDATE fetch_jobs SET status = ?, bars_loaded = ?, error_message = NULL, updated_at = ? WHERE id = ?`,
		string(domain.JobCompleted), barsLoaded, time.Now().Unix(), id)
}

// FailJob marks the job failed. The checkpoint is left untouched.
func (s *SQLStore) FailJob(ctx context.Context, id int64, message string) error {
	return s.execJob(ctx, id,
		`UPDATE fetch_jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(domain.JobFailed), message, time.Now().Unix(), id)
}

func (s *SQLStore) execJob(ctx context.Context, id int64, query string, args ...any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("updating job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating job %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListJobs returns jobs in the given statuses, or all jobs when none are given.
func (s *SQLStore) ListJobs(ctx context.Context, statuses ...domain.JobStatus) ([]domain.FetchJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	q := `SELECT ` + jobColumns + ` FROM fetch_jobs`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		var err error
		q, args, err = sqlx.In(q+` WHERE status IN (?)`, names)
		if err != nil {
			return nil, fmt.Errorf("building job query: %w", err)
		}
	}
	q += ` ORDER BY symbol, start_date`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	jobs := make([]domain.FetchJob, 0, len(rows))
	for _, r := range rows {
		j, err := r.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
