// Package grpc exposes a minimal gRPC health-check surface alongside
// the HTTP metrics/dashboard endpoints, so orchestrators can use a
// gRPC-native liveness/readiness probe. It deliberately does not
// implement a custom streaming API: hand-authoring new protobuf
// bindings would require running protoc, so the only codegen-free use
// of google.golang.org/grpc this package keeps is the standard
// grpc/health service, whose generated code ships inside the grpc
// module itself.
package grpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hasip-timurtas/solana-watchtower/internal/status"
)

// HealthServer wraps grpc/health's reference implementation,
// constructing a *grpc.Server up front and leaving the listener and
// the call to Serve to the caller.
type HealthServer struct {
	server  *grpc.Server
	health  *health.Server
	service string
}

// NewHealthServer constructs a gRPC server registering the standard
// health-checking protocol for serviceName (empty string means the
// overall-server status).
func NewHealthServer(serviceName string) *HealthServer {
	srv := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	h.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: srv, health: h, service: serviceName}
}

// SetEngineStatus reports SERVING while the engine status is Running and
// NOT_SERVING while Degraded/Failed.
func (s *HealthServer) SetEngineStatus(st status.EngineStatus) {
	switch st {
	case status.StatusRunning:
		s.health.SetServingStatus(s.service, healthpb.HealthCheckResponse_SERVING)
	default:
		s.health.SetServingStatus(s.service, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Serve blocks accepting connections on lis until the server stops.
func (s *HealthServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops accepting new ones.
func (s *HealthServer) GracefulStop() {
	s.server.GracefulStop()
}
