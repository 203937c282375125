package monitor

import (
	"context"
	"fmt"
	"net"

	"github.com/banshee-data/mrsync/internal/monitoring"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SessionService is the health service name reported for the session.
const SessionService = "mrsync.Session"

// Health reports SERVING for SessionService while the session is resumed.
// The overall server status ("") is always SERVING once started.
type Health struct {
	server *health.Server
}

func NewHealth() *Health {
	h := &Health{server: health.NewServer()}
	h.server.SetServingStatus(SessionService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetSessionActive updates the session status. It matches the
// session.OnActiveChange hook signature.
func (h *Health) SetSessionActive(active bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if active {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(SessionService, status)
}

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Serve listens on addr and serves health checks until ctx is done.
func (h *Health) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return h.ServeListener(ctx, lis)
}

// ServeListener serves health checks on lis until ctx is done.
func (h *Health) ServeListener(ctx context.Context, lis net.Listener) error {
	s := grpc.NewServer()
	h.Register(s)

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[health] gRPC health listening on %s", lis.Addr())
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		h.server.Shutdown()
		s.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		return fmt.Errorf("gRPC health server: %w", err)
	}
}
