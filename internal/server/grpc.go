package server

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/syllabus-jobs/internal/trigger"
)

// NewGRPCServer builds a server with JobService, health and reflection
// registered. The returned health server is flipped to NOT_SERVING on shutdown.
func NewGRPCServer(svc *trigger.Service, sweepSecret string, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryInterceptor(sweepSecret, logger))}, opts...)
	srv := grpc.NewServer(opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(srv)
	RegisterJobServiceServer(srv, NewJobService(svc, logger))
	return srv, hs
}
