package domain

import "time"

// JobStatus is the lifecycle state of a FetchJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IncompleteStatuses are the states a job can be resumed from.
var IncompleteStatuses = []JobStatus{JobPending, JobRunning, JobFailed}

// FetchJob is the durable checkpoint of one (symbol, start, end) backfill
// request. LastBarTime only ever moves forward.
type FetchJob struct {
	ID           int64
	Symbol       string
	StartDate    time.Time // inclusive, date granularity
	EndDate      time.Time // inclusive, date granularity
	Status       JobStatus
	LastBarTime  *time.Time
	BarsLoaded   int64
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Incomplete reports whether the job still has work to resume.
func (j *FetchJob) Incomplete() bool {
	return j.Status != JobCompleted
}

// ResumeFrom returns the first minute that still needs fetching: one minute
// past the high-water mark, or windowStart when nothing was checkpointed.
func (j *FetchJob) ResumeFrom(windowStart time.Time) time.Time {
	if j.LastBarTime == nil {
		return windowStart
	}
	next := j.LastBarTime.Add(time.Minute)
	if next.Before(windowStart) {
		return windowStart
	}
	return next
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days in the range.
func (r DateRange) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Gap is a hole between two stored bar timestamps (or between the last
// stored bar and now). Start and End are the bounding bars, exclusive.
type Gap struct {
	Start time.Time
	End   time.Time
}

// MissingMinutes is the number of whole minutes strictly between Start and End.
func (g Gap) MissingMinutes() int {
	return int(g.End.Sub(g.Start)/time.Minute) - 1
}
