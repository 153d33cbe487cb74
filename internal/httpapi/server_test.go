package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"barsync/internal/calendar"
	"barsync/internal/config"
	"barsync/internal/domain"
	"barsync/internal/gather"
	"barsync/internal/ingest"
	"barsync/internal/metrics"
	"barsync/internal/pipeline"
	"barsync/internal/quality"
	"barsync/internal/store"
	"barsync/internal/util"
)

// minuteFetcher returns one bar per minute of the requested window.
type minuteFetcher struct{}

func (minuteFetcher) GetBars(_ context.Context, symbols []string, start, end time.Time) (map[string][]gather.RawBar, error) {
	var bars []gather.RawBar
	for ts := start; ts.Before(end); ts = ts.Add(time.Minute) {
		bars = append(bars, gather.RawBar{Timestamp: ts, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1})
	}
	return map[string][]gather.RawBar{symbols[0]: bars}, nil
}

type testEnv struct {
	srv   *httptest.Server
	orch  *pipeline.Orchestrator
	store *store.SQLStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenSQLite(ctx, ":memory:", 5*time.Second)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Ingest.Symbols = []string{"AAPL"}
	cfg.Ingest.StartDate = "2024-01-01"
	cfg.Ingest.RetryDelay = 0

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := util.Discard()
	cal := calendar.NewMarket(calendar.NewStatic(nil, nil), nil, log)
	tracker := ingest.NewTracker(st, m, log)
	loader := ingest.NewLoader(minuteFetcher{}, st, tracker, cfg.Ingest, m, log)
	detector := ingest.NewDetector(st, cal, m)
	orch, err := pipeline.New(cfg.Ingest, pipeline.Components{
		Bars:     st,
		Coverage: ingest.NewCoverageAnalyzer(st),
		Tracker:  tracker,
		Loader:   loader,
		Filler:   ingest.NewFiller(detector, loader, log),
		Verifier: quality.NewVerifier(st, detector, cal, cfg.Quality, m, log),
	}, log)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	s := NewOpsServer(orch, reg, log)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, orch: orch, store: st}
}

func getJSON(t *testing.T, url string, want int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s = %d, want %d: %s", url, resp.StatusCode, want, body)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	var h HealthJSON
	getJSON(t, env.srv.URL+"/healthz", http.StatusOK, &h)
	if h.Status != "ok" {
		t.Errorf("status = %q", h.Status)
	}

	env.store.Close()
	getJSON(t, env.srv.URL+"/healthz", http.StatusServiceUnavailable, &h)
	if h.Status != "unavailable" || h.Error == "" {
		t.Errorf("closed store health = %+v", h)
	}
}

func TestJobsFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	a, _ := env.orch.Tracker.StartOrResume(ctx, "AAPL", day(1), day(31))
	b, _ := env.orch.Tracker.StartOrResume(ctx, "MSFT", day(1), day(31))
	if err := env.orch.Tracker.Complete(ctx, a, 10); err != nil {
		t.Fatal(err)
	}
	if err := env.orch.Tracker.Fail(ctx, b, "boom"); err != nil {
		t.Fatal(err)
	}

	var all JobsResponse
	getJSON(t, env.srv.URL+"/api/jobs", http.StatusOK, &all)
	if len(all.Jobs) != 2 || all.Counts["completed"] != 1 || all.Counts["failed"] != 1 {
		t.Errorf("all jobs = %+v", all)
	}

	var failed JobsResponse
	getJSON(t, env.srv.URL+"/api/jobs?status=incomplete", http.StatusOK, &failed)
	if len(failed.Jobs) != 1 || failed.Jobs[0].Symbol != "MSFT" || failed.Jobs[0].ErrorMessage != "boom" {
		t.Errorf("incomplete jobs = %+v", failed.Jobs)
	}

	getJSON(t, env.srv.URL+"/api/jobs?status=bogus", http.StatusBadRequest, nil)
}

func TestCoverage(t *testing.T) {
	env := newTestEnv(t)
	from := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	if _, err := env.orch.Loader.Load(context.Background(), "AAPL", from, from.Add(10*time.Minute), nil); err != nil {
		t.Fatal(err)
	}

	var cov ingest.Coverage
	getJSON(t, env.srv.URL+"/api/coverage/aapl?start=2023-01-01&end=2024-02-01", http.StatusOK, &cov)
	if cov.Symbol != "AAPL" || cov.TotalBars != 10 {
		t.Errorf("coverage = %+v", cov)
	}
	if len(cov.MissingYears) != 1 || cov.MissingYears[0] != 2023 {
		t.Errorf("missing years = %v", cov.MissingYears)
	}

	getJSON(t, env.srv.URL+"/api/coverage/AAPL?start=2024-13-01", http.StatusBadRequest, nil)
	getJSON(t, env.srv.URL+"/api/coverage/AAPL?start=2024-02-01&end=2024-01-01", http.StatusBadRequest, nil)
}

func TestQuality(t *testing.T) {
	env := newTestEnv(t)

	var report domain.QualityReport
	getJSON(t, env.srv.URL+"/api/quality/msft", http.StatusOK, &report)
	if report.Symbol != "MSFT" || report.Status != domain.StatusFail {
		t.Errorf("report = %+v", report)
	}

	var sum quality.Summary
	getJSON(t, env.srv.URL+"/api/quality?symbols=aapl,msft", http.StatusOK, &sum)
	if len(sum.Reports) != 2 || sum.Reports[0].Symbol != "AAPL" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestFillDays(t *testing.T) {
	env := newTestEnv(t)

	body := `{"symbols":["aapl"],"days":["2024-01-02"]}`
	resp, err := http.Post(env.srv.URL+"/api/gaps", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var gr GapResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		t.Fatal(err)
	}
	// One bar per minute of the whole ET day.
	if gr.Bars != 24*60 || gr.Results["AAPL"].Error != "" {
		t.Errorf("response = %+v", gr)
	}
}

func TestGapsRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	cases := []string{
		`{"symbols":["A","B"],"days":["2024-01-02"]}`,
		`{"symbols":["A"],"days":["01/02/2024"]}`,
		`not json`,
	}
	for _, body := range cases {
		resp, err := http.Post(env.srv.URL+"/api/gaps", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestMetricsAndCORS(t *testing.T) {
	env := newTestEnv(t)
	getJSON(t, env.srv.URL+"/api/quality/AAPL", http.StatusOK, nil)

	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "barsync_quality_status") {
		t.Errorf("metrics output missing quality gauge:\n%s", body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/jobs", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d", resp.StatusCode)
	}
}
