package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/api"
	"github.com/leozw/blueprint-sot/internal/api/handlers"
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

	if err := a.EnsureLocalProfile(ctx); err != nil {
		logger.Fatal("Failed to bootstrap local instance", zap.Error(err))
	}

	server := api.NewServer(cfg, handlers.Services{
		Store:     a.Store,
		Templates: a.Templates,
		Clones:    a.Orchestrator,
		Exporter:  a.Exporter,
		SOT:       a.SOT,
	}, a.Registry, logger)

	// Without a queue there is no separate worker, so the sweep and the
	// scheduled check-ins run here.
	done := make(chan struct{})
	if a.Queue == nil {
		opts := []scheduler.Option{scheduler.WithSweeper(a.Orchestrator)}
		if cfg.Instance.ID != "" {
			opts = append(opts, scheduler.WithCheckIns(a.SOT, cfg.Instance.ID))
		}
		sched := scheduler.NewScheduler(scheduler.Config{SweepInterval: cfg.Clone.SweepInterval}, a.Metrics, logger, opts...)
		go func() {
			defer close(done)
			sched.Start(ctx)
		}()
	} else {
		close(done)
	}

	go a.Metrics.StartRemoteWrite(ctx, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port), zap.String("database", cfg.Database.Driver))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	cancel()
	<-done
	a.Orchestrator.Wait()

	logger.Info("Server exited")
}
