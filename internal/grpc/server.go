package grpc

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"inbox-service/internal/adapters"
	"inbox-service/internal/observability"
)

// NewServer builds the instrumented gRPC server with the health and presence
// services registered. The health status is returned so callers can flip it on
// shutdown.
func NewServer(presence adapters.PresenceSource) (*grpclib.Server, *health.Server) {
	server := grpclib.NewServer(
		grpclib.StatsHandler(otelgrpc.NewServerHandler()),
		grpclib.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	if presence != nil {
		RegisterPresenceServer(server, NewPresenceServer(presence))
		healthServer.SetServingStatus(presenceServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return server, healthServer
}
