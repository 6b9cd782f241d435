package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/schedule"
	svc "github.com/joseph-ayodele/syllabus-jobs/internal/server"
)

// sweeper drives SweepOnce on a remote jobsd from a cron schedule.
func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	var (
		addr     = flag.String("addr", "localhost"+cfg.Server.GRPCAddr, "jobsd gRPC address")
		sched    = flag.String("schedule", cfg.Sweep.Schedule, "cron schedule (seconds optional, @every supported)")
		maxRun   = flag.Int("max", cfg.Sweep.MaxPerRun, "max jobs swept per tick")
		once     = flag.Bool("once", false, "sweep once and exit")
		runLimit = flag.Duration("timeout", 5*time.Minute, "deadline for one tick")
	)
	flag.Parse()

	logger := common.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	if cfg.Server.SweepSecret == "" {
		logger.Error("SWEEP_SECRET is required")
		os.Exit(2)
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Error("failed to dial jobsd", "addr", *addr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	client := svc.NewClient(conn).WithSweepSecret(cfg.Server.SweepSecret)
	sweep := func(ctx context.Context) (bool, error) {
		res, err := client.SweepOnce(ctx)
		if err != nil {
			return false, err
		}
		if res.Processed {
			logger.Info("sweep.job", "job_id", res.JobID, "status", res.Status)
		}
		return res.Processed, nil
	}

	sweeper, err := schedule.New(*sched, sweep, logger, schedule.WithMaxPerRun(*maxRun), schedule.WithRunTimeout(*runLimit))
	if err != nil {
		logger.Error("invalid schedule", "schedule", *sched, "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		n, err := sweeper.RunOnce(ctx)
		if err != nil {
			logger.Error("sweep failed", "processed", n, "error", err)
			os.Exit(1)
		}
		logger.Info("sweep done", "processed", n)
		return
	}

	sweeper.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sweeper.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("sweeper stop", "error", err)
	}
	logger.Info("stopped")
}
