package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported for a family's poller.
func ServiceName(family string) string { return "ocr." + family }

// NewGRPCServer returns a gRPC server exposing the health service and reflection.
func NewGRPCServer(hs *health.Server) *grpc.Server {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	return s
}

// HealthReporter mirrors poller liveness into a gRPC health server: the overall
// service is SERVING while the process runs, each family while its poller runs.
type HealthReporter struct {
	hs     *health.Server
	stats  StatsSource
	logger *slog.Logger
	last   map[string]healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(hs *health.Server, stats StatsSource, logger *slog.Logger) *HealthReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthReporter{
		hs:     hs,
		stats:  stats,
		logger: logger,
		last:   make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
}

// Sync pushes the current poller state to the health server.
func (r *HealthReporter) Sync() {
	r.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, st := range r.stats.Stats() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if st.Running {
			status = healthpb.HealthCheckResponse_SERVING
		}
		name := ServiceName(st.Family)
		if prev, ok := r.last[name]; !ok || prev != status {
			r.logger.Info("poller health changed", "family", st.Family, "status", status.String())
		}
		r.last[name] = status
		r.hs.SetServingStatus(name, status)
	}
}

// Run syncs every interval until ctx is done, then marks everything NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	r.Sync()
	for {
		select {
		case <-ctx.Done():
			r.hs.Shutdown()
			return
		case <-t.C:
			r.Sync()
		}
	}
}
