// Package app wires the configured store, queue, broker and services for
// the binaries under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/blueprint"
	"github.com/leozw/blueprint-sot/internal/clone"
	"github.com/leozw/blueprint-sot/internal/config"
	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/db"
	"github.com/leozw/blueprint-sot/internal/events"
	"github.com/leozw/blueprint-sot/internal/metrics"
	"github.com/leozw/blueprint-sot/internal/queue"
	"github.com/leozw/blueprint-sot/internal/sot"
	"github.com/leozw/blueprint-sot/internal/storage"
	"github.com/leozw/blueprint-sot/internal/storage/memory"
	"github.com/leozw/blueprint-sot/internal/storage/postgres"
	redisstore "github.com/leozw/blueprint-sot/internal/storage/redis"
	"github.com/leozw/blueprint-sot/internal/templates"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger

	Store     storage.Store
	Redis     *redisstore.Client
	Queue     queue.Queue
	Publisher events.Publisher
	Registry  *prometheus.Registry
	Metrics   *metrics.Collector

	Templates    *templates.Registry
	Exporter     *blueprint.Exporter
	Importer     *blueprint.Importer
	Orchestrator *clone.Orchestrator
	SOT          *sot.Engine

	closers []func()
}

// New connects to every configured backend. Redis and NATS are optional:
// without Redis clones are provisioned in-process and check-ins are only
// serialized within this process; without NATS events are dropped.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Publisher: events.Noop{},
		Registry:  prometheus.NewRegistry(),
	}

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewCollector(cfg.Metrics, a.Registry)

	store, err := a.openStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, func() { _ = store.Close() })

	if cfg.Redis.URL != "" {
		a.Redis = redisstore.NewClient(cfg.Redis.URL)
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.Queue = queue.NewRedisQueue(a.Redis.Client, cfg.Redis.QueueName)
	}

	if cfg.NATS.URL != "" {
		bus, err := events.NewBus(cfg.NATS.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.Publisher = bus
		a.closers = append(a.closers, bus.Close)
	}

	a.Templates = templates.NewRegistry(store, cfg.Instance.BlueprintVersion, logger)
	a.Exporter = blueprint.NewExporter(store, a.Publisher, a.Metrics, logger)
	a.Importer = blueprint.NewImporter(store, cfg.Instance.BlueprintVersion, logger)

	cloneOpts := []clone.Option{
		clone.WithPublisher(a.Publisher),
		clone.WithMetrics(a.Metrics),
	}
	if a.Queue != nil {
		cloneOpts = append(cloneOpts, clone.WithDispatcher(clone.NewQueueDispatcher(a.Queue)))
	}
	a.Orchestrator = clone.NewOrchestrator(store, a.Templates, a.Exporter, a.Importer, clone.Config{
		ProvisioningTimeout:    cfg.Clone.ProvisioningTimeout,
		PendingRedispatchAfter: cfg.Clone.PendingRedispatchAfter,
	}, logger, cloneOpts...)

	if cfg.SOT.URL == "" {
		logger.Warn("No SOT url configured, declarations and check-ins will fail")
	}
	engineOpts := []sot.EngineOption{
		sot.WithEventPublisher(a.Publisher),
		sot.WithCollector(a.Metrics),
	}
	if a.Redis != nil {
		engineOpts = append(engineOpts,
			sot.WithLocker(redisstore.NewLocker(a.Redis, cfg.SOT.Timeout*3+10*time.Second)),
			sot.WithHealthCache(a.Redis),
		)
	}
	a.SOT = sot.NewEngine(store, sot.NewHTTPAuthority(cfg.SOT.URL, cfg.SOT.AuthToken, cfg.SOT.Timeout), sot.EngineConfig{
		CheckInInterval: cfg.SOT.CheckInInterval,
		Timeout:         cfg.SOT.Timeout,
		FreshnessWindow: cfg.SOT.FreshnessWindow,
	}, logger, engineOpts...)

	return a, nil
}

func (a *App) openStore() (storage.Store, error) {
	cfg := a.Config.Database
	if cfg.Driver == "memory" {
		a.Logger.Warn("Using in-memory store, state is lost on restart")
		return memory.New(), nil
	}

	conn, err := db.NewConnection(cfg.URL, cfg.MaxConnections, cfg.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		a.Logger.Info("Database migrations applied")
	}
	return postgres.NewStore(conn), nil
}

// OpenDatabase connects without building services; used by migration
// commands.
func OpenDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver != "postgres" {
		return nil, fmt.Errorf("database driver %q has no migrations", cfg.Driver)
	}
	return db.NewConnection(cfg.URL, cfg.MaxConnections, cfg.MaxIdleConns)
}

// EnsureLocalProfile creates the profile of the configured instance if it
// does not exist yet.
func (a *App) EnsureLocalProfile(ctx context.Context) error {
	inst := a.Config.Instance
	if inst.ID == "" {
		return nil
	}

	_, err := a.Store.GetClientProfile(ctx, inst.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	tools := make(core.Tools, 0, len(inst.ToolsSupported))
	for _, key := range inst.ToolsSupported {
		tools = append(tools, core.Tool{Key: key, Enabled: true})
	}
	name := inst.Name
	if name == "" {
		name = inst.ID
	}

	err = a.Store.CreateClientProfile(ctx, &core.ClientProfile{
		InstanceID:       inst.ID,
		TenantID:         inst.TenantID,
		Name:             name,
		BlueprintVersion: inst.BlueprintVersion,
		Pages:            core.Pages{},
		Tools:            tools,
		FeatureFlags:     core.FeatureFlags{},
	})
	if errors.Is(err, core.ErrConflict) {
		return nil
	}
	if err == nil {
		a.Logger.Info("Created local instance profile", zap.String("instance_id", inst.ID))
	}
	return err
}

// LocalDeclaration is the declaration of the configured instance.
func (a *App) LocalDeclaration() sot.DeclareRequest {
	inst := a.Config.Instance
	return sot.DeclareRequest{
		InstanceID:       inst.ID,
		InstanceType:     inst.Type,
		BlueprintVersion: inst.BlueprintVersion,
		ToolsSupported:   inst.ToolsSupported,
		CallbackURL:      inst.CallbackURL,
		IsTemplate:       inst.Type == string(core.InstanceTemplate),
		IsCloneable:      inst.Type == string(core.InstanceTemplate),
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewLogger builds the production logger, or the development one in debug
// mode.
func NewLogger(mode string) (*zap.Logger, error) {
	if mode == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
