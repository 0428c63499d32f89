package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/invoice-extractor/internal/async"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/pipeline"
	"github.com/joseph-ayodele/invoice-extractor/internal/repository"
	"github.com/joseph-ayodele/invoice-extractor/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := pipeline.NewFromConfig(cfg, logger)
	defer func() { _ = orch.Close() }()

	opts := server.Options{MaxBytes: cfg.Server.MaxUploadBytes, AllowPaths: cfg.Server.AllowPaths}
	var db *repository.DB
	if cfg.Database.DSN != "" {
		var err error
		db, err = repository.Open(ctx, repository.Config{
			DSN:              cfg.Database.DSN,
			MaxConns:         cfg.Database.MaxConns,
			MinConns:         cfg.Database.MinConns,
			MaxConnLifetime:  cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
			DialTimeout:      cfg.Database.DialTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
		}, logger)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.HealthCheck(ctx, 5*time.Second); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		runs := repository.NewRunRepository(db, logger)
		if err := runs.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		opts.Runs = runs
		opts.Queue = async.NewQueue(orch, logger,
			async.WithWorkers(cfg.Server.Workers),
			async.WithQueueSize(cfg.Server.QueueSize),
			async.WithProcessTimeout(cfg.Pipeline.Timeout+30*time.Second),
			async.WithHandler(server.RecordOutcome(runs, logger)),
		)
	} else {
		logger.Warn("DB_URL not set, async extraction and GetRun are disabled")
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(server.UnaryLogging(logger)),
		grpc.MaxRecvMsgSize(cfg.Server.MaxUploadBytes*4/3+(1<<20)),
	)
	server.RegisterExtractionServer(grpcServer, server.NewExtractionService(orch, opts, logger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(server.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	logger.Info("invoice-extractd listening", "addr", lis.Addr().String(), "store", db != nil)
	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcServer.Serve(lis) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC serve error", "error", err)
		}
	}

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	if opts.Queue != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.Timeout+time.Minute)
		defer cancel()
		if err := opts.Queue.Shutdown(shutdownCtx); err != nil {
			logger.Warn("queue shutdown", "error", err)
		}
	}
	logger.Info("invoice-extractd stopped")
}
