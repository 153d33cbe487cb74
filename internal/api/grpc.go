package api

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the
// overall ("") status.
const ServiceName = "barsync.Ingest"

// Pinger is anything whose reachability decides serving status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService publishes the standard grpc.health.v1 service. Its status
// follows the bar store: SERVING while Ping succeeds, NOT_SERVING otherwise.
type HealthService struct {
	srv      *health.Server
	store    Pinger
	interval time.Duration
	log      *slog.Logger
}

// NewHealthService creates a HealthService polling store every interval.
func NewHealthService(store Pinger, interval time.Duration, log *slog.Logger) *HealthService {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	h := &HealthService{
		srv:      health.NewServer(),
		store:    store,
		interval: interval,
		log:      log.With("component", "health"),
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to a gRPC server.
func (h *HealthService) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Check pings the store once and updates the published status.
func (h *HealthService) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()
	st := healthpb.HealthCheckResponse_SERVING
	if err := h.store.Ping(pctx); err != nil {
		h.log.Warn("store ping failed", "error", err)
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.set(st)
	return st
}

// Watch re-checks the store every interval until ctx is done.
func (h *HealthService) Watch(ctx context.Context) {
	h.Check(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthService) Shutdown() {
	h.srv.Shutdown()
}

func (h *HealthService) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}
