package health

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the realtime service.
const ServiceName = "livefeed.realtime"

// DefaultPollInterval is how often feed state is copied to gRPC health.
const DefaultPollInterval = 5 * time.Second

// GRPCUpdater mirrors feed health into a gRPC health server.
type GRPCUpdater struct {
	server *health.Server
	feeds  FeedStatus
	logger *slog.Logger
	last   healthpb.HealthCheckResponse_ServingStatus
}

// NewGRPCUpdater creates an updater. The returned server is registered by
// the caller on its gRPC server.
func NewGRPCUpdater(feeds FeedStatus, logger *slog.Logger) *GRPCUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCUpdater{
		server: health.NewServer(),
		feeds:  feeds,
		logger: logger.With("component", "grpc-health"),
		last:   healthpb.HealthCheckResponse_UNKNOWN,
	}
}

// Server returns the gRPC health service implementation.
func (u *GRPCUpdater) Server() *health.Server {
	return u.server
}

// Update sets SERVING when every feed is open and NOT_SERVING otherwise.
func (u *GRPCUpdater) Update() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for topic, ok := range u.feeds.FeedHealth() {
		if !ok {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			u.logger.Debug("Feed degraded", "topic", topic)
		}
	}

	u.server.SetServingStatus(ServiceName, status)
	u.server.SetServingStatus("", status)
	if status != u.last {
		u.logger.Info("Serving status changed", "status", status.String())
		u.last = status
	}
	return status
}

// Run polls until ctx is done, then marks the service NOT_SERVING.
func (u *GRPCUpdater) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	u.Update()
	for {
		select {
		case <-ctx.Done():
			u.server.Shutdown()
			return
		case <-ticker.C:
			u.Update()
		}
	}
}
