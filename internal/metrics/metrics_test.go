package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FetchResult(true)
	m.FetchResult(false)
	m.FetchResult(false)
	m.BarsUpserted("AAPL", 390)
	m.BarsRejected("AAPL", 0)
	m.QualityStatus("AAPL", 1)

	if got := testutil.ToFloat64(m.fetchRequests.WithLabelValues("error")); got != 2 {
		t.Errorf("fetch errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.barsUpserted.WithLabelValues("AAPL")); got != 390 {
		t.Errorf("bars upserted = %v, want 390", got)
	}
	if got := testutil.ToFloat64(m.qualityStatus.WithLabelValues("AAPL")); got != 1 {
		t.Errorf("quality status = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.barsRejected); n != 0 {
		t.Errorf("rejected series = %d, want 0 for zero adds", n)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.FetchResult(true)
	m.FetchRetry()
	m.BarsUpserted("X", 1)
	m.BarsRejected("X", 1)
	m.GapsDetected("X", 1)
	m.JobFinished("completed")
	m.QualityStatus("X", 2)
}
