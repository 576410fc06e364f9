package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/app"
	"github.com/namaskah/namaskah-sms/backend/config"
	"github.com/namaskah/namaskah-sms/backend/internal/grpchealth"
	"github.com/namaskah/namaskah-sms/backend/internal/observability"
	"github.com/namaskah/namaskah-sms/backend/routes"
)

const grpcHealthSyncInterval = 10 * time.Second

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("api-gateway stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// initLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func initLogger() (*zap.Logger, error) {
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	return observability.NewLogger(os.Getenv("LOG_LEVEL"), format)
}

func run(ctx context.Context, logger *zap.Logger) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := deps.Close(closeCtx); err != nil {
			logger.Warn("failed to close dependencies", zap.Error(err))
		}
	}()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	deps.StartWorkers(workerCtx)

	var grpcServer *grpchealth.Server
	if port := cfg.Observability.GRPCHealthPort; port > 0 {
		grpcServer = grpchealth.NewServer(net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port)), deps.Orchestrator, logger)
		if err := grpcServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start gRPC health server: %w", err)
		}
		go grpcServer.Run(workerCtx, grpcHealthSyncInterval)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api-gateway listening",
			zap.String("address", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.Bool("tls", cfg.Server.TLS.Enabled))

		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server forced to shutdown: %w", err)
	}

	logger.Info("api-gateway stopped")
	return nil
}
