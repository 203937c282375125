package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/banshee-data/mrsync/internal/monitoring"
)

// Serve mounts the admin routes on a fresh mux and serves them on addr
// until ctx is done.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return m.ServeListener(ctx, lis)
}

// ServeListener is Serve on an existing listener.
func (m *Monitor) ServeListener(ctx context.Context, lis net.Listener) error {
	mux := http.NewServeMux()
	if err := m.AttachAdminRoutes(mux); err != nil {
		_ = lis.Close()
		return err
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[monitor] debug pages on http://%s/debug/", lis.Addr())
		errCh <- server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("debug server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("[monitor] debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("[monitor] debug server force close error: %v", err)
		}
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug server: %w", err)
	}
	return nil
}
