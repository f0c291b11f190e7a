package clone

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/events"
)

type SweepResult struct {
	Failed       int `json:"failed"`
	Redispatched int `json:"redispatched"`
}

// Sweep force-fails operations stuck in provisioning past the provisioning
// timeout and re-dispatches pending operations nobody picked up. Pending
// operations are never failed directly.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := o.now()

	stuck, err := o.store.ListStaleCloneOperations(ctx, core.CloneProvisioning, now.Add(-o.cfg.ProvisioningTimeout))
	if err != nil {
		return result, err
	}
	for _, op := range stuck {
		message := fmt.Sprintf("provisioning timed out after %s", o.cfg.ProvisioningTimeout)
		ok, err := o.store.TransitionCloneOperation(ctx, op.ID, core.CloneTransition{
			From:         core.CloneProvisioning,
			To:           core.CloneFailed,
			At:           now,
			ErrorMessage: &message,
		})
		if err != nil {
			return result, err
		}
		if !ok {
			continue
		}

		op.Status = core.CloneFailed
		op.ErrorMessage = &message
		op.CompletedAt = &now
		result.Failed++

		o.logger.Warn("Force-failed stuck clone operation",
			zap.Int64("operation_id", op.ID),
			zap.Time("last_transition", op.UpdatedAt),
		)
		o.recordCompleted(op)
		o.recordSweep(op, "force_failed")
		o.publish(ctx, events.SubjectCloneFailed, op)
	}

	pending, err := o.store.ListStaleCloneOperations(ctx, core.ClonePending, now.Add(-o.cfg.PendingRedispatchAfter))
	if err != nil {
		return result, err
	}
	o.pruneDispatches(pending)
	for _, op := range pending {
		if !o.dueForRedispatch(op.ID) {
			continue
		}
		if err := o.dispatcher.Dispatch(ctx, op); err != nil {
			o.logger.Warn("Failed to re-dispatch pending clone operation", zap.Int64("operation_id", op.ID), zap.Error(err))
			continue
		}
		o.markDispatched(op.ID)
		result.Redispatched++
		o.recordSweep(op, "redispatched")
	}

	if result.Failed > 0 || result.Redispatched > 0 {
		o.logger.Info("Clone sweep completed",
			zap.Int("force_failed", result.Failed),
			zap.Int("redispatched", result.Redispatched),
		)
	}
	return result, nil
}

func (o *Orchestrator) dueForRedispatch(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	last, ok := o.redispatched[id]
	return !ok || o.now().Sub(last) >= o.cfg.PendingRedispatchAfter
}

func (o *Orchestrator) markDispatched(id int64) {
	o.mu.Lock()
	o.redispatched[id] = o.now()
	o.mu.Unlock()
}

// pruneDispatches drops entries for operations that are no longer pending.
func (o *Orchestrator) pruneDispatches(pending []*core.CloneOperation) {
	live := make(map[int64]bool, len(pending))
	for _, op := range pending {
		live[op.ID] = true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.redispatched {
		if !live[id] {
			delete(o.redispatched, id)
		}
	}
}

func (o *Orchestrator) forgetDispatch(id int64) {
	o.mu.Lock()
	delete(o.redispatched, id)
	o.mu.Unlock()
}

func (o *Orchestrator) recordSweep(op *core.CloneOperation, action string) {
	if o.metrics != nil {
		o.metrics.RecordSweep(op.Metadata.NewTenantID, action)
	}
}
