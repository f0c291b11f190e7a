package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	if cfg.Instance.ID == "" {
		logger.Fatal("instance.id is required for scheduled check-ins")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	if err := a.EnsureLocalProfile(ctx); err != nil {
		logger.Fatal("Failed to bootstrap local instance", zap.Error(err))
	}

	// A failed declaration is logged and retried; check-ins against an
	// undeclared instance are recorded as failures until it succeeds.
	res, err := a.SOT.DeclareLocal(ctx, a.LocalDeclaration(), 30*time.Second, 3)
	switch {
	case err != nil:
		logger.Error("Invalid local declaration", zap.Error(err))
	case !res.Pushed:
		logger.Warn("Declaration not acknowledged", zap.String("error", res.Error))
	}

	sched := scheduler.NewScheduler(scheduler.Config{}, a.Metrics, logger,
		scheduler.WithCheckIns(a.SOT, cfg.Instance.ID),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Start(ctx)
	}()

	go a.Metrics.StartRemoteWrite(ctx, logger)

	logger.Info("Scheduler started",
		zap.String("instance_id", cfg.Instance.ID),
		zap.Duration("checkin_interval", cfg.SOT.CheckInInterval),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler...")
	cancel()
	<-done
	logger.Info("Scheduler stopped")
}
