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

	"github.com/joseph-ayodele/syllabus-jobs/internal/analysis"
	"github.com/joseph-ayodele/syllabus-jobs/internal/analysis/provider"
	"github.com/joseph-ayodele/syllabus-jobs/internal/artifact"
	"github.com/joseph-ayodele/syllabus-jobs/internal/async"
	"github.com/joseph-ayodele/syllabus-jobs/internal/claim"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/httpapi"
	"github.com/joseph-ayodele/syllabus-jobs/internal/ingest"
	"github.com/joseph-ayodele/syllabus-jobs/internal/pipeline"
	repo "github.com/joseph-ayodele/syllabus-jobs/internal/repository"
	"github.com/joseph-ayodele/syllabus-jobs/internal/schedule"
	svc "github.com/joseph-ayodele/syllabus-jobs/internal/server"
	"github.com/joseph-ayodele/syllabus-jobs/internal/trigger"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := common.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := svc.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		os.Exit(1)
	}
	defer svc.CloseDB(db, logger)

	if err := svc.PingDB(ctx, db, logger, 5*time.Second); err != nil {
		os.Exit(1)
	}

	jobsRepo := repo.NewJobRepository(db, logger)

	store, err := artifact.New(artifact.Config{
		Backend:    cfg.Storage.Backend,
		URL:        cfg.Storage.URL,
		ServiceKey: cfg.Storage.ServiceKey,
		Bucket:     cfg.Storage.Bucket,
		Root:       cfg.Storage.Root,
		MaxBytes:   cfg.Storage.MaxBytes,
	}, logger)
	if err != nil {
		logger.Error("failed to build artifact store", "error", err)
		os.Exit(1)
	}

	proc, err := provider.New(cfg.Analysis, logger)
	if err != nil {
		logger.Error("failed to build analysis provider", "error", err)
		os.Exit(1)
	}
	logger.Info("analysis provider ready", "provider", cfg.Analysis.Provider)

	pipeCfg := pipeline.ConfigFrom(cfg.Pipeline)
	pipe := pipeline.New(pipeCfg, store, proc, jobsRepo, logger, pipeline.WithValidator(analysis.MustSyllabusValidator()))

	// The runner deadline only backstops the per-step timeouts.
	budget := pipeCfg.ProbeTimeout + pipeCfg.FetchTimeout + pipeCfg.ProcessTimeout + pipeCfg.WriteTimeout + time.Minute
	runner := async.NewRunner(pipe, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(budget),
	)

	service := trigger.NewService(jobsRepo, claim.NewCoordinator(jobsRepo, logger), pipe, runner, logger)

	grpcServer, healthServer := svc.NewGRPCServer(service, cfg.Server.SweepSecret, logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: httpapi.NewRouter(service, cfg.Server.SweepSecret, cfg.Server.CORSOrigins, func(ctx context.Context) error {
			return svc.PingDB(ctx, db, logger, 2*time.Second)
		}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})

	if cfg.Server.HTTPAddr != "" {
		g.Go(func() error {
			logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var sweeper *schedule.Sweeper
	if cfg.Sweep.Enabled {
		sweeper, err = schedule.New(cfg.Sweep.Schedule, func(ctx context.Context) (bool, error) {
			res, err := service.SweepOnce(ctx)
			return res.Processed, err
		}, logger, schedule.WithMaxPerRun(cfg.Sweep.MaxPerRun), schedule.WithRunTimeout(budget))
		if err != nil {
			logger.Error("invalid sweep schedule", "error", err)
			os.Exit(2)
		}
		sweeper.Start()
	}

	if cfg.Ingest.Dir != "" {
		ingestor := ingest.NewIngestor(store, service, cfg.Ingest.Owner, trigger.Mode(cfg.Ingest.Mode), logger,
			ingest.WithExts(cfg.Ingest.Exts),
			ingest.WithMaxBytes(cfg.Storage.MaxBytes),
		)
		g.Go(func() error {
			logger.Info("watching drop folder", "dir", cfg.Ingest.Dir, "owner", cfg.Ingest.Owner)
			err := ingestor.Watch(gctx, ingest.WatchConfig{Roots: []string{cfg.Ingest.Dir}, InitialScan: true, Debounce: cfg.Ingest.Debounce})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if sweeper != nil {
			if err := sweeper.Stop(shutdownCtx); err != nil {
				logger.Warn("sweeper stop interrupted", "error", err)
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		runner.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("jobsd exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
