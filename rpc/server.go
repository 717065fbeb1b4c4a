// Package rpc serves the persistence services over gRPC.
//
// Messages travel as JSON under the "json" content-subtype, so callers need
// no generated stubs. The standard gRPC health service is registered next
// to the persistence services and flips to NOT_SERVING when Stop begins.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"explorviz/config"
	"explorviz/core"
	"explorviz/metrics"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const healthServicePrefix = "/grpc.health.v1.Health/"

// Server owns the gRPC listener, the persistence services and the health
// service.
type Server struct {
	config     config.GRPCConfig
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	admission  *core.Admission
	logger     *zap.SugaredLogger
}

// NewServer builds the RPC surface and registers every entry of services.
func NewServer(cfg config.GRPCConfig, services []ServiceRegistration, logger *zap.SugaredLogger) *Server {
	s := &Server{
		config:    cfg,
		health:    health.NewServer(),
		admission: core.NewAdmission("grpc"),
		logger:    logger,
	}

	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			s.recoveryInterceptor,
			s.admissionInterceptor,
			s.loggingInterceptor,
		),
	}
	if cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize))
	}
	s.grpcServer = grpc.NewServer(opts...)

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, reg := range services {
		s.grpcServer.RegisterService(reg.Desc, reg.Impl)
		s.health.SetServingStatus(reg.Desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

// Listen binds the configured address without serving yet.
func (s *Server) Listen() error {
	lis, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	s.listener = lis
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve blocks serving RPCs until Stop. It returns nil after a clean stop.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("rpc server is not listening")
	}
	s.logger.Infow("gRPC server listening", "addr", s.Addr())
	if err := s.grpcServer.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc: %w", err)
	}
	return nil
}

// Stop marks the health service NOT_SERVING, rejects new calls and waits for
// in-flight ones until ctx ends. Remaining calls are then cancelled and
// ctx's error is returned.
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.admission.Close()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnw("gRPC server did not drain in time, cancelling calls", "in_flight", s.admission.InFlight())
		s.grpcServer.Stop()
		<-done
		err = ctx.Err()
	}

	// GracefulStop leaves a listener that never reached Serve open.
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return err
}

// InFlight returns the number of calls currently being handled.
func (s *Server) InFlight() int {
	return s.admission.InFlight()
}

func (s *Server) recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Panic in RPC handler", "method", info.FullMethod, "panic", r)
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

func (s *Server) admissionInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
		return handler(ctx, req)
	}
	if !s.admission.Enter() {
		return nil, status.Error(codes.Unavailable, "service is shutting down")
	}
	defer s.admission.Leave()
	return handler(ctx, req)
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	duration := time.Since(start)

	code := status.Code(err)
	metrics.RPCRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
	metrics.RPCRequestDuration.WithLabelValues(info.FullMethod).Observe(duration.Seconds())

	if err != nil && code != codes.InvalidArgument && code != codes.FailedPrecondition {
		s.logger.Warnw("RPC failed", "method", info.FullMethod, "code", code.String(), "duration", duration, "error", err)
	} else {
		s.logger.Debugw("RPC handled", "method", info.FullMethod, "code", code.String(), "duration", duration)
	}
	return resp, err
}
