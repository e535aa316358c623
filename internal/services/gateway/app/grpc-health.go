package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService espone grpc.health.v1.Health; lo stato segue Gateway.Ready.
type HealthService struct {
	gw       *Gateway
	srv      *grpc.Server
	health   *health.Server
	interval time.Duration
	log      *slog.Logger
}

func NewHealthService(gw *Gateway, interval time.Duration) *HealthService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthService{gw: gw, srv: srv, health: hs, interval: interval, log: gw.log.With("component", "grpc-health")}
}

// Refresh evaluates readiness once and publishes it for the empty service name.
func (h *HealthService) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if ok, _ := h.gw.Ready(ctx); !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	return status
}

// Serve listens on addr until ctx is done.
func (h *HealthService) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc health listen %s: %w", addr, err)
	}
	return h.serve(ctx, lis)
}

func (h *HealthService) serve(ctx context.Context, lis net.Listener) error {
	h.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.health.Shutdown()
				h.srv.GracefulStop()
				return
			case <-ticker.C:
				h.Refresh(ctx)
			}
		}
	}()

	h.log.Info("grpc health listening", "addr", lis.Addr().String())
	if err := h.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
