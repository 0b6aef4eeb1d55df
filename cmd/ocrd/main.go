package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/common"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/async"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/export"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/pipeline"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/repository"
	"github.com/joseph-ayodele/docs-ocr-ingest/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 2
	}
	logger := common.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return 1
	}
	defer p.Close()

	if err := repository.HealthCheck(ctx, p.DB, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		return 1
	}

	pollers := p.Pollers()
	if len(pollers) == 0 {
		logger.Error("no families enabled, nothing to poll")
		return 2
	}
	group := async.NewGroup(logger, pollers...)

	// gRPC health
	hs := health.NewServer()
	grpcServer := server.NewGRPCServer(hs)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		return 1
	}
	reporter := server.NewHealthReporter(hs, group, logger)

	// HTTP status
	var reportStores []export.Store
	for _, fam := range group.Families() {
		reportStores = append(reportStores, p.Stores[fam])
	}
	status := server.NewStatusHandler(group, export.NewService(reportStores, logger), func(ctx context.Context) error {
		return repository.HealthCheck(ctx, p.DB, 2*time.Second, logger)
	}, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           status.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return group.Run(ctx) })
	eg.Go(func() error {
		reporter.Run(ctx, 5*time.Second)
		return nil
	})
	eg.Go(func() error {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	eg.Go(func() error {
		logger.Info("http status listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := eg.Wait(); err != nil {
		logger.Error("ocrd stopped with error", "error", err)
		return 1
	}
	logger.Info("ocrd stopped")
	return 0
}
