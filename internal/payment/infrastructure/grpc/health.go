package grpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported by the payment-service health endpoint.
const ServiceName = "settlement.PaymentService"

// Server exposes grpc.health.v1 for orchestrator health checks on the payment service.
type Server struct {
	gs     *grpc.Server
	health *health.Server
}

func NewServer() *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{gs: gs, health: hs}
}

// SetServing flips the reported status, e.g. once the consumer and relay are running.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

func (s *Server) Run(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		_ = s.gs.Serve(lis)
	}()
	return nil
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.gs.GracefulStop()
}
