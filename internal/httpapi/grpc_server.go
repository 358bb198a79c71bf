package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/DilyaSoft/Time-off-company-manager/internal/obs"
)

// AccountServiceName is the service name reported by the gRPC health endpoint.
const AccountServiceName = "timeoff.v1.AccountService"

// GRPCServer publishes readiness through the standard gRPC health protocol.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
}

// NewGRPCServer creates the health service wrapper. Until the first Refresh
// every service reports NOT_SERVING.
func NewGRPCServer(r readinessChecker) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	s := &GRPCServer{health: health.NewServer(), readiness: r}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh evaluates readiness once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) error {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes readiness every interval until ctx is done.
func (s *GRPCServer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			obs.Logger().WarnContext(ctx, "readiness check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
}

func (s *GRPCServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(AccountServiceName, st)
}
