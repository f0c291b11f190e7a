package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/app"
	"github.com/leozw/blueprint-sot/internal/config"
	"github.com/leozw/blueprint-sot/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	if a.Queue == nil {
		logger.Fatal("The worker needs redis.url to consume clone jobs")
	}

	sched := scheduler.NewScheduler(scheduler.Config{
		WorkerCount:   cfg.Clone.WorkerCount,
		SweepInterval: cfg.Clone.SweepInterval,
	}, a.Metrics, logger,
		scheduler.WithWorkers(a.Queue, a.Orchestrator),
		scheduler.WithSweeper(a.Orchestrator),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Start(ctx)
	}()

	go a.Metrics.StartRemoteWrite(ctx, logger)

	logger.Info("Worker started", zap.Int("worker_count", cfg.Clone.WorkerCount))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	<-done
	logger.Info("Worker exited")
}
