// Package grpc runs the health-only gRPC endpoint behind the same access
// guard as the JSON API. Administrative operations are served over HTTP.
package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/server/guard"
)

// ServiceName is the health entry reporting whether the security core is
// ready to take requests.
const ServiceName = "clinicguard.SecurityCore"

// Methods lists the role sets for every unary method the server exposes.
// Only the health check is served, and it stays public so orchestrators can
// reach it. Any method missing here is denied.
var Methods = guard.MethodRoles{
	healthpb.Health_Check_FullMethodName: nil,
}

type GRPCServer struct {
	address  string
	guard    *guard.Guard
	resolver guard.SessionResolver
	health   *health.Server
	logger   logging.Logger
}

func NewGRPCServer(a string, g *guard.Guard, resolver guard.SessionResolver, l logging.Logger) *GRPCServer {
	return &GRPCServer{
		address:  a,
		guard:    g,
		resolver: resolver,
		health:   health.NewServer(),
		logger:   l.With("module", "grpc_server"),
	}
}

// SetServing flips the readiness status reported for ServiceName.
func (s *GRPCServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.guard.AuthUnaryInterceptor(s.resolver),
		s.guard.RoleUnaryInterceptor(Methods),
	))
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.newServer()
	s.SetServing(true)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
