package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServiceName is the service reported by the gRPC health endpoint.
const HealthServiceName = "nhblend.lendingd"

// NewHealthServer builds the gRPC server exposing the standard health
// protocol. The returned checker lets the daemon flip the serving state
// during startup and shutdown.
func NewHealthServer(creds credentials.TransportCredentials) (*grpc.Server, *health.Server) {
	options := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if creds != nil {
		options = append(options, grpc.Creds(creds))
	}
	srv := grpc.NewServer(options...)
	checker := health.NewServer()
	checker.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	checker.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, checker)
	reflection.Register(srv)
	return srv, checker
}

// MarkServing sets both the overall and the named service status.
func MarkServing(checker *health.Server, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	checker.SetServingStatus("", status)
	checker.SetServingStatus(HealthServiceName, status)
}
