package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barsync/internal/domain"
	"barsync/internal/pipeline"
	"barsync/internal/util"
)

const maxGapBody = 1 << 20

// OpsServer serves the operator HTTP API.
type OpsServer struct {
	orch     *pipeline.Orchestrator
	gatherer prometheus.Gatherer
	log      *slog.Logger
	now      func() time.Time
}

// NewOpsServer creates an OpsServer. gatherer may be nil, in which case
// /metrics serves the default registry.
func NewOpsServer(orch *pipeline.Orchestrator, gatherer prometheus.Gatherer, log *slog.Logger) *OpsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = slog.Default()
	}
	return &OpsServer{
		orch:     orch,
		gatherer: gatherer,
		log:      log.With("component", "httpapi"),
		now:      time.Now,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *OpsServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/coverage/{symbol}", s.handleCoverage)
	mux.HandleFunc("GET /api/quality", s.handleQualityAll)
	mux.HandleFunc("GET /api/quality/{symbol}", s.handleQuality)
	mux.HandleFunc("POST /api/gaps", s.handleGaps)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns an http.Handler with CORS middleware.
func (s *OpsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseStatuses reads the comma-separated "status" query param.
func parseStatuses(r *http.Request) ([]domain.JobStatus, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, nil
	}
	var out []domain.JobStatus
	for _, p := range strings.Split(raw, ",") {
		st := domain.JobStatus(strings.ToLower(strings.TrimSpace(p)))
		switch st {
		case domain.JobPending, domain.JobRunning, domain.JobCompleted, domain.JobFailed:
			out = append(out, st)
		case "incomplete":
			out = append(out, domain.IncompleteStatuses...)
		default:
			return nil, fmt.Errorf("unknown status %q", p)
		}
	}
	return out, nil
}

// parseDate reads a YYYY-MM-DD query param, returning def when absent.
func parseDate(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q", key, v)
	}
	return t, nil
}

func (s *OpsServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.orch.Tracker.ListJobs(r.Context(), statuses...)
	if err != nil {
		s.log.Error("listing jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing jobs failed")
		return
	}

	resp := JobsResponse{Jobs: make([]JobJSON, 0, len(jobs)), Counts: make(map[string]int)}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, convertJob(j))
		resp.Counts[string(j.Status)]++
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *OpsServer) handleCoverage(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	today := util.MarketDate(s.now())
	start, err := parseDate(r, "start", s.orch.StartDate())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDate(r, "end", time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end before start")
		return
	}

	cov, err := s.orch.Coverage.Analyze(r.Context(), symbol, start, end)
	if err != nil {
		s.log.Error("analyzing coverage", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "coverage failed")
		return
	}
	writeJSON(w, http.StatusOK, cov)
}

func (s *OpsServer) handleQualityAll(w http.ResponseWriter, r *http.Request) {
	symbols := s.orch.Symbols()
	if v := r.URL.Query().Get("symbols"); v != "" {
		symbols = strings.Split(strings.ToUpper(v), ",")
	}
	writeJSON(w, http.StatusOK, s.orch.Verify(r.Context(), symbols))
}

func (s *OpsServer) handleQuality(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Verifier.Verify(r.Context(), symbol))
}

func (s *OpsServer) handleGaps(w http.ResponseWriter, r *http.Request) {
	var req GapRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGapBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	for i := range req.Symbols {
		req.Symbols[i] = strings.ToUpper(strings.TrimSpace(req.Symbols[i]))
	}

	if len(req.Days) > 0 {
		s.fillDays(w, r, req)
		return
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.orch.Symbols()
	}
	opts := s.orch.GapOptions()
	if req.LookbackMinutes > 0 {
		opts.Lookback = time.Duration(req.LookbackMinutes) * time.Minute
	}

	results := s.orch.CheckAndFillGaps(r.Context(), symbols, opts)
	failed := pipeline.Failed(results)
	sort.Strings(failed)
	writeJSON(w, http.StatusOK, GapResponse{Results: results, Bars: pipeline.TotalBars(results), Failed: failed})
}

func (s *OpsServer) fillDays(w http.ResponseWriter, r *http.Request, req GapRequest) {
	if len(req.Symbols) != 1 {
		writeError(w, http.StatusBadRequest, "days requires exactly one symbol")
		return
	}
	days := make([]time.Time, 0, len(req.Days))
	for _, d := range req.Days {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid day %q", d))
			return
		}
		days = append(days, t)
	}

	sym := req.Symbols[0]
	n, err := s.orch.FillMissingDays(r.Context(), sym, days)
	res := pipeline.Result{Bars: n, Err: err}
	resp := GapResponse{Results: map[string]pipeline.Result{sym: res}, Bars: n}
	if err != nil {
		res.Error = err.Error()
		resp.Results[sym] = res
		resp.Failed = []string{sym}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *OpsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Bars.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthJSON{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthJSON{Status: "ok"})
}
