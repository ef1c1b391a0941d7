package health

import (
	"context"

	"github.com/gogo/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer answers grpc.health.v1 checks from the same dependency pings
// as the readiness route.
type GRPCServer struct {
	grpc_health_v1.UnimplementedHealthServer
	checker Checker
}

func NewGRPCServer(c Checker) *GRPCServer {
	return &GRPCServer{checker: c}
}

func (s *GRPCServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if s.checker.Readiness(ctx).Status != StatusHealthy {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

func (s *GRPCServer) Watch(req *grpc_health_v1.HealthCheckRequest, srv grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "Watch method not implemented")
}

func registerGRPCHealth(server *grpc.Server, c Checker) {
	grpc_health_v1.RegisterHealthServer(server, NewGRPCServer(c))
}
