package clone

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/queue"
)

// Dispatcher hands an accepted operation to whatever runs provisioning.
// Dispatch must not block on the provisioning itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, op *core.CloneOperation) error
}

// QueueDispatcher enqueues a job for the worker process.
type QueueDispatcher struct {
	queue queue.Queue
}

func NewQueueDispatcher(q queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, op *core.CloneOperation) error {
	return d.queue.Push(ctx, &queue.Job{
		ID:          uuid.NewString(),
		Type:        queue.JobCloneProvision,
		OperationID: op.ID,
		TenantID:    op.Metadata.NewTenantID,
		Attempt:     op.Metadata.Attempt,
	})
}

// inlineDispatcher provisions in a goroutine of the current process.
type inlineDispatcher struct {
	o *Orchestrator
}

func (d inlineDispatcher) Dispatch(_ context.Context, op *core.CloneOperation) error {
	d.o.wg.Add(1)
	go func(id int64) {
		defer d.o.wg.Done()
		if err := d.o.Provision(context.Background(), id); err != nil {
			d.o.logger.Error("Failed to provision clone operation", zap.Int64("operation_id", id), zap.Error(err))
		}
	}(op.ID)
	return nil
}
