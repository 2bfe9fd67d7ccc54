package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "interview.Dialogue"

// GRPCServer exposes the readiness checks over the standard gRPC health
// protocol. Statuses are refreshed on an interval.
type GRPCServer struct {
	srv    *grpc.Server
	hs     *grpchealth.Server
	checks []Check
	log    *slog.Logger
}

func NewGRPCServer(log *slog.Logger, checks ...Check) *GRPCServer {
	if log == nil {
		log = slog.Default()
	}
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	g := &GRPCServer{srv: srv, hs: hs, checks: checks, log: log.With("component", "health")}
	g.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return g
}

// Refresh runs the checks once and publishes the result.
func (g *GRPCServer) Refresh(ctx context.Context) HealthStatus {
	st := CheckAll(ctx, g.checks...)
	if st.OK {
		g.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		g.log.Warn("not ready", "status", st.String())
		g.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return st
}

// Watch refreshes every interval until ctx ends.
func (g *GRPCServer) Watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		g.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (g *GRPCServer) Serve(lis net.Listener) error { return g.srv.Serve(lis) }

// Stop marks everything not serving and stops the server gracefully.
func (g *GRPCServer) Stop() {
	g.hs.Shutdown()
	g.srv.GracefulStop()
}

func (g *GRPCServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	g.hs.SetServingStatus("", status)
	g.hs.SetServingStatus(ServiceName, status)
}
