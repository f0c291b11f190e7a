package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/queue"
)

// Provisioner runs one clone operation to a terminal status.
type Provisioner interface {
	Provision(ctx context.Context, id int64) error
}

type Worker struct {
	id          int
	queue       queue.Queue
	provisioner Provisioner
	popTimeout  time.Duration
	busy        *atomic.Int32
	logger      *zap.Logger
}

func NewWorker(id int, q queue.Queue, provisioner Provisioner, busy *atomic.Int32, popTimeout time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		id:          id,
		queue:       q,
		provisioner: provisioner,
		popTimeout:  popTimeout,
		busy:        busy,
		logger:      logger.With(zap.Int("worker_id", id)),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker stopped")
			return
		}

		job, err := w.queue.Pop(ctx, w.popTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				w.logger.Info("Worker stopped")
				return
			}
			w.logger.Error("Failed to pop clone job", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	start := time.Now()
	w.busy.Add(1)
	defer w.busy.Add(-1)

	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.Int64("operation_id", job.OperationID),
	)

	if job.Type != queue.JobCloneProvision {
		logger.Error("Unknown job type", zap.String("job_type", job.Type))
		return
	}

	logger.Debug("Processing clone job", zap.Int("attempt", job.Attempt))

	// The operation row is the source of truth; a job lost here is picked
	// up again by the sweep.
	if err := w.provisioner.Provision(ctx, job.OperationID); err != nil {
		logger.Error("Failed to provision clone", zap.Error(err))
		return
	}

	logger.Debug("Clone job completed", zap.Duration("duration", time.Since(start)))
}
