// Package httpapi provides the operator HTTP API for barsync: job status,
// coverage, quality reports, on-demand gap repair, health and metrics.
package httpapi

import (
	"time"

	"barsync/internal/domain"
	"barsync/internal/pipeline"
)

// JobJSON is the JSON representation of a fetch job checkpoint.
type JobJSON struct {
	ID           int64      `json:"id"`
	Symbol       string     `json:"symbol"`
	StartDate    string     `json:"startDate"`
	EndDate      string     `json:"endDate"`
	Status       string     `json:"status"`
	LastBarTime  *time.Time `json:"lastBarTime,omitempty"`
	BarsLoaded   int64      `json:"barsLoaded"`
	ErrorMessage string     `json:"error,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// JobsResponse lists jobs with a per-status count.
type JobsResponse struct {
	Jobs   []JobJSON      `json:"jobs"`
	Counts map[string]int `json:"counts"`
}

// GapRequest is the body of POST /api/gaps. When Days is set exactly one
// symbol must be given and whole market days are reloaded; otherwise recent
// gaps are detected and filled for Symbols (all configured symbols when
// empty).
type GapRequest struct {
	Symbols         []string `json:"symbols"`
	Days            []string `json:"days,omitempty"`
	LookbackMinutes int      `json:"lookbackMinutes,omitempty"`
}

// GapResponse reports per-symbol results of a gap run.
type GapResponse struct {
	Results map[string]pipeline.Result `json:"results"`
	Bars    int                        `json:"bars"`
	Failed  []string                   `json:"failed,omitempty"`
}

// HealthJSON is the body of GET /healthz.
type HealthJSON struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func convertJob(j domain.FetchJob) JobJSON {
	return JobJSON{
		ID:           j.ID,
		Symbol:       j.Symbol,
		StartDate:    j.StartDate.Format("2006-01-02"),
		EndDate:      j.EndDate.Format("2006-01-02"),
		Status:       string(j.Status),
		LastBarTime:  j.LastBarTime,
		BarsLoaded:   j.BarsLoaded,
		ErrorMessage: j.ErrorMessage,
		UpdatedAt:    j.UpdatedAt,
	}
}
