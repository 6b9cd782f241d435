package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	svc "github.com/joseph-ayodele/syllabus-jobs/internal/server"
	"github.com/joseph-ayodele/syllabus-jobs/internal/watcher"
)

// jobwatch prints a line whenever one of the user's jobs finishes.
func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	var (
		addr     = flag.String("addr", "localhost"+cfg.Server.GRPCAddr, "jobsd gRPC address")
		user     = flag.String("user", "", "user id whose jobs are watched (required)")
		interval = flag.Duration("interval", cfg.Watcher.Interval, "poll interval")
	)
	flag.Parse()

	logger := common.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if *user == "" {
		fmt.Fprintln(os.Stderr, "Error: --user is required")
		os.Exit(2)
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Error("failed to dial jobsd", "addr", *addr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	var store watcher.SnapshotStore
	if cfg.Watcher.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Watcher.RedisAddr})
		defer func() { _ = rdb.Close() }()
		store = watcher.NewRedisStore(rdb, cfg.Watcher.RedisPrefix, *user, 7*24*time.Hour)
		logger.Info("snapshot store", "backend", "redis", "addr", cfg.Watcher.RedisAddr)
	} else {
		store = watcher.NewFileStore(cfg.Watcher.SnapshotPath)
		logger.Info("snapshot store", "backend", "file", "path", cfg.Watcher.SnapshotPath)
	}

	w := watcher.New(svc.NewClient(conn), watcher.StaticIdentity(*user), logger,
		watcher.WithInterval(*interval),
		watcher.WithStore(store),
	)

	events, cancel := w.Subscribe()
	defer cancel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		for ev := range events {
			switch ev.Kind {
			case watcher.EventCompleted:
				fmt.Printf("%s  %q is ready\n", ev.ObservedAt.Format(time.RFC3339), ev.DisplayName)
			case watcher.EventFailed:
				fmt.Printf("%s  %q failed: %s\n", ev.ObservedAt.Format(time.RFC3339), ev.DisplayName, ev.Error)
			}
		}
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watcher stopped", "error", err)
		os.Exit(1)
	}
}
