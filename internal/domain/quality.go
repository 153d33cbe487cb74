package domain

import "time"

// Status is a pass/warn/fail verdict.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

func (s Status) rank() int {
	switch s {
	case StatusFail:
		return 2
	case StatusWarn:
		return 1
	default:
		return 0
	}
}

// Worst returns the more severe of a and b.
func Worst(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// QualityReport is the computed verdict for one symbol. Pointer fields are
// nil when the corresponding check could not run.
type QualityReport struct {
	Symbol             string        `json:"symbol"`
	TotalBars          int64         `json:"total_bars"`
	Earliest           *time.Time    `json:"earliest,omitempty"`
	Latest             *time.Time    `json:"latest,omitempty"`
	RegularSessionBars int64         `json:"regular_session_bars"`
	ExpectedBars       *int64        `json:"expected_bars,omitempty"`
	CoveragePct        *float64      `json:"coverage_pct,omitempty"`
	MissingPct         *float64      `json:"missing_pct,omitempty"`
	OHLCViolations     int64         `json:"ohlc_violation_count"`
	SampleViolations   []Bar         `json:"sample_violations,omitempty"`
	DuplicateCount     int64         `json:"duplicate_count"`
	GapCount           int           `json:"gap_count"`
	LargestGap         *Gap          `json:"largest_gap,omitempty"`
	MissingStatus      Status        `json:"missing_status"`
	OHLCStatus         Status        `json:"ohlc_status"`
	Status             Status        `json:"status"`
	Issues             []string      `json:"issues,omitempty"`
	Unavailable        []string      `json:"unavailable,omitempty"`
	CheckedAt          time.Time     `json:"checked_at"`
	Elapsed            time.Duration `json:"elapsed"`
}
