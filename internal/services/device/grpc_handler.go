package device

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter publishes one gRPC health status per field, named after the
// field. A field is SERVING while at least one of its sensors is live.
type HealthReporter struct {
	srv      *health.Server
	fields   []string
	interval time.Duration
}

func NewHealthReporter(fields []string, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h := &HealthReporter{srv: health.NewServer(), fields: fields, interval: interval}
	for _, f := range fields {
		h.srv.SetServingStatus(f, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

// Server is registered on the gRPC server with healthpb.RegisterHealthServer.
func (h *HealthReporter) Server() healthpb.HealthServer { return h.srv }

// Refresh sets each field's status from live.
func (h *HealthReporter) Refresh(live func(field string) bool) {
	for _, f := range h.fields {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if live(f) {
			st = healthpb.HealthCheckResponse_SERVING
		}
		h.srv.SetServingStatus(f, st)
	}
}

// Run refreshes periodically until ctx is done, then marks everything down.
func (h *HealthReporter) Run(ctx context.Context, live func(field string) bool) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	h.Refresh(live)
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			h.Refresh(live)
		}
	}
}
