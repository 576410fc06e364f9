// Package grpchealth serves the standard gRPC health protocol with one
// service entry per SMS provider.
package grpchealth

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/namaskah/namaskah-sms/backend/services/orchestrator"
)

// ServicePrefix prefixes per-provider service names
const ServicePrefix = "sms.provider."

// StatsSource reports provider availability
type StatsSource interface {
	GetProviderStats() orchestrator.Stats
}

// Server exposes provider availability over gRPC health checks
type Server struct {
	server  *grpc.Server
	health  *health.Server
	source  StatsSource
	address string
	logger  *zap.Logger
}

// NewServer creates a new gRPC health server listening on address
func NewServer(address string, source StatsSource, logger *zap.Logger) *Server {
	gsrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gsrv, hs)

	// not serving until the first sync
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		server:  gsrv,
		health:  hs,
		source:  source,
		address: address,
		logger:  logger,
	}
}

// Sync copies provider availability into the health statuses
func (s *Server) Sync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	stats := s.source.GetProviderStats()
	for _, p := range stats.Providers {
		s.health.SetServingStatus(ServicePrefix+p.Name, servingStatus(p.Available))
	}
	s.health.SetServingStatus("", servingStatus(stats.AvailableProviders > 0))
}

// Start listens and serves in the background
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		s.logger.Error("failed to listen on address", zap.String("address", s.address), zap.Error(err))
		return err
	}
	s.Serve(listener)
	return nil
}

// Serve serves on an existing listener in the background
func (s *Server) Serve(listener net.Listener) {
	s.logger.Info("starting gRPC health server", zap.String("address", listener.Addr().String()))

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("gRPC health server error", zap.Error(err))
		}
	}()
}

// Run syncs on every tick until ctx is done
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.Sync(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sync(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop marks everything NOT_SERVING and stops the server
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("stopping gRPC health server")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
