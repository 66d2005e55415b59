package monitor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/depthbridge/internal/pipeline"
)

// HealthService is the gRPC health service name reporting the sensor session.
const HealthService = "depthbridge.SensorSession"

// HealthReporter serves grpc.health.v1. The session service is SERVING only
// while the session is connected; the overall server status stays SERVING
// while the process runs.
type HealthReporter struct {
	health *health.Server

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewHealthReporter starts with the session NOT_SERVING.
func NewHealthReporter() *HealthReporter {
	h := &HealthReporter{health: health.NewServer()}
	h.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetState maps a session state to a serving status. It has the signature
// of a session state observer.
func (h *HealthReporter) SetState(s pipeline.SessionState) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s == pipeline.Connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(HealthService, status)
	diagf("health %s=%s", HealthService, status)
}

// Server returns the underlying health server for in-process checks.
func (h *HealthReporter) Server() healthpb.HealthServer { return h.health }

// Start listens on addr and serves the health service in the background.
func (h *HealthReporter) Start(addr string) (net.Addr, error) {
	if !h.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		h.running.Store(false)
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.health)

	h.mu.Lock()
	h.server = srv
	h.listener = lis
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		opsf("gRPC health server listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil && h.running.Load() {
			opsf("gRPC health server error: %v", err)
		}
	}()
	return lis.Addr(), nil
}

// Run serves on addr until ctx is done.
func (h *HealthReporter) Run(ctx context.Context, addr string) error {
	if _, err := h.Start(addr); err != nil {
		return err
	}
	<-ctx.Done()
	h.Stop()
	return nil
}

// Stop marks every service NOT_SERVING and stops the server.
func (h *HealthReporter) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	h.health.Shutdown()
	h.mu.Lock()
	srv := h.server
	h.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
	h.wg.Wait()
	diagf("gRPC health server stopped")
}
