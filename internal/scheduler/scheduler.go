// Package scheduler runs the background loops: clone workers fed by the job
// queue, the stuck-operation sweep and the scheduled SOT check-ins.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/clone"
	"github.com/leozw/blueprint-sot/internal/metrics"
	"github.com/leozw/blueprint-sot/internal/queue"
	"github.com/leozw/blueprint-sot/internal/sot"
)

const poolName = "clone"

type Sweeper interface {
	Sweep(ctx context.Context) (clone.SweepResult, error)
}

type CheckInRunner interface {
	RunScheduled(ctx context.Context, instanceID string) (*sot.SyncResult, error)
}

type Config struct {
	WorkerCount    int
	PopTimeout     time.Duration
	SweepInterval  time.Duration
	// CheckInTick is how often the check-in cursor is inspected. The
	// check-in interval itself is enforced by the engine.
	CheckInTick    time.Duration
	StatusInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.CheckInTick <= 0 {
		c.CheckInTick = time.Minute
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 15 * time.Second
	}
}

type Scheduler struct {
	cfg     Config
	metrics *metrics.Collector
	logger  *zap.Logger

	queue       queue.Queue
	provisioner Provisioner
	sweeper     Sweeper
	checkins    CheckInRunner
	instances   []string

	workers []*Worker
	busy    atomic.Int32
	wg      sync.WaitGroup
}

type Option func(*Scheduler)

// WithWorkers consumes clone jobs from q.
func WithWorkers(q queue.Queue, p Provisioner) Option {
	return func(s *Scheduler) {
		s.queue = q
		s.provisioner = p
	}
}

func WithSweeper(sw Sweeper) Option {
	return func(s *Scheduler) { s.sweeper = sw }
}

// WithCheckIns runs scheduled check-ins for the given instances.
func WithCheckIns(r CheckInRunner, instanceIDs ...string) Option {
	return func(s *Scheduler) {
		s.checkins = r
		s.instances = instanceIDs
	}
}

func NewScheduler(cfg Config, collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Scheduler {
	cfg.setDefaults()
	s := &Scheduler{
		cfg:     cfg,
		metrics: collector,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs every configured loop and blocks until ctx is cancelled and
// all of them have returned.
func (s *Scheduler) Start(ctx context.Context) {
	if s.queue != nil && s.provisioner != nil {
		s.logger.Info("Starting clone workers", zap.Int("worker_count", s.cfg.WorkerCount))
		s.workers = make([]*Worker, s.cfg.WorkerCount)
		for i := 0; i < s.cfg.WorkerCount; i++ {
			worker := NewWorker(i, s.queue, s.provisioner, &s.busy, s.cfg.PopTimeout, s.logger)
			s.workers[i] = worker
			s.wg.Add(1)
			go func(w *Worker) {
				defer s.wg.Done()
				w.Start(ctx)
			}(worker)
		}
		s.every(ctx, s.cfg.StatusInterval, s.reportStatus)
	}

	if s.sweeper != nil {
		s.logger.Info("Starting clone sweep", zap.Duration("interval", s.cfg.SweepInterval))
		s.every(ctx, s.cfg.SweepInterval, s.sweep)
	}

	if s.checkins != nil && len(s.instances) > 0 {
		s.logger.Info("Starting scheduled check-ins", zap.Strings("instances", s.instances))
		s.every(ctx, s.cfg.CheckInTick, s.checkIn)
	}

	<-ctx.Done()
	s.logger.Info("Stopping scheduler")
	s.wg.Wait()
}

// every runs fn immediately and then on each tick until ctx is done.
func (s *Scheduler) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fn(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (s *Scheduler) sweep(ctx context.Context) {
	res, err := s.sweeper.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Clone sweep failed", zap.Error(err))
		}
		return
	}
	if res.Failed > 0 || res.Redispatched > 0 {
		s.logger.Info("Clone sweep completed",
			zap.Int("failed", res.Failed),
			zap.Int("redispatched", res.Redispatched),
		)
	}
}

func (s *Scheduler) checkIn(ctx context.Context) {
	for _, id := range s.instances {
		res, err := s.checkins.RunScheduled(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("Scheduled check-in failed", zap.String("instance_id", id), zap.Error(err))
			}
			continue
		}
		if res != nil {
			s.logger.Debug("Scheduled check-in completed",
				zap.String("instance_id", id),
				zap.String("status", string(res.Status)),
				zap.String("health", string(res.Health.Status)),
			)
		}
	}
}

func (s *Scheduler) reportStatus(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	size, err := s.queue.Length(ctx)
	if err != nil {
		s.logger.Debug("Failed to read queue length", zap.Error(err))
		return
	}
	utilization := float64(s.busy.Load()) / float64(s.cfg.WorkerCount)
	s.metrics.RecordWorkerMetrics(poolName, int(size), utilization)
}
