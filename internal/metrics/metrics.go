// Package metrics holds the Prometheus collectors exported by barsync.
//
// Registers:
//
//	barsync_fetch_requests_total{result}
//	barsync_fetch_retries_total
//	barsync_bars_upserted_total{symbol}
//	barsync_bars_rejected_total{symbol}
//	barsync_gaps_detected_total{symbol}
//	barsync_jobs_total{status}
//	barsync_quality_status{symbol}
//
// Every method is safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline collectors.
type Metrics struct {
	fetchRequests *prometheus.CounterVec
	fetchRetries  prometheus.Counter
	barsUpserted  *prometheus.CounterVec
	barsRejected  *prometheus.CounterVec
	gapsDetected  *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	qualityStatus *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsync_fetch_requests_total",
				Help: "Upstream bar fetch attempts by result",
			},
			[]string{"result"},
		),
		fetchRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "barsync_fetch_retries_total",
				Help: "Fetch attempts that failed and were retried",
			},
		),
		barsUpserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsync_bars_upserted_total",
				Help: "Bars written to the store",
			},
			[]string{"symbol"},
		),
		barsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsync_bars_rejected_total",
				Help: "Fetched bars dropped by validation",
			},
			[]string{"symbol"},
		),
		gapsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsync_gaps_detected_total",
				Help: "Fillable gaps found by the gap detector",
			},
			[]string{"symbol"},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barsync_jobs_total",
				Help: "Fetch job transitions by final status",
			},
			[]string{"status"},
		),
		qualityStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "barsync_quality_status",
				Help: "Latest quality status per symbol (0 pass, 1 warn, 2 fail)",
			},
			[]string{"symbol"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.fetchRequests, m.fetchRetries, m.barsUpserted, m.barsRejected,
			m.gapsDetected, m.jobs, m.qualityStatus,
		)
	}
	return m
}

// FetchResult counts one fetch attempt; ok reports success.
func (m *Metrics) FetchResult(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.fetchRequests.WithLabelValues("ok").Inc()
		return
	}
	m.fetchRequests.WithLabelValues("error").Inc()
}

// FetchRetry counts a retried fetch.
func (m *Metrics) FetchRetry() {
	if m != nil {
		m.fetchRetries.Inc()
	}
}

// BarsUpserted adds n written bars for symbol.
func (m *Metrics) BarsUpserted(symbol string, n int) {
	if m != nil && n > 0 {
		m.barsUpserted.WithLabelValues(symbol).Add(float64(n))
	}
}

// BarsRejected adds n invalid bars for symbol.
func (m *Metrics) BarsRejected(symbol string, n int) {
	if m != nil && n > 0 {
		m.barsRejected.WithLabelValues(symbol).Add(float64(n))
	}
}

// GapsDetected adds n fillable gaps for symbol.
func (m *Metrics) GapsDetected(symbol string, n int) {
	if m != nil && n > 0 {
		m.gapsDetected.WithLabelValues(symbol).Add(float64(n))
	}
}

// JobFinished counts a job reaching status.
func (m *Metrics) JobFinished(status string) {
	if m != nil {
		m.jobs.WithLabelValues(status).Inc()
	}
}

// QualityStatus records the latest verification outcome for symbol.
func (m *Metrics) QualityStatus(symbol string, level float64) {
	if m != nil {
		m.qualityStatus.WithLabelValues(symbol).Set(level)
	}
}
