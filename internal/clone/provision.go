package clone

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/blueprint"
	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/events"
)

// finishTimeout bounds the terminal write, which runs even after the
// provisioning context has expired.
const finishTimeout = 10 * time.Second

type outcome struct {
	newInstanceID string
	exportID      int64
	source        string
}

// Provision runs a pending operation to a terminal status. It returns nil
// when another worker already claimed the operation. Materialization errors
// are recorded on the operation, never returned.
func (o *Orchestrator) Provision(ctx context.Context, id int64) error {
	op, err := o.store.GetCloneOperation(ctx, id)
	if err != nil {
		return err
	}
	logger := o.logger.With(zap.Int64("operation_id", id), zap.String("request_id", op.RequestID))

	if op.Status != core.ClonePending {
		logger.Debug("Skipping clone operation", zap.String("status", string(op.Status)))
		return nil
	}

	meta := op.Metadata
	meta.Attempt++
	claimed, err := o.store.TransitionCloneOperation(ctx, id, core.CloneTransition{
		From:     core.ClonePending,
		To:       core.CloneProvisioning,
		At:       o.now(),
		Metadata: &meta,
	})
	if err != nil {
		return err
	}
	if !claimed {
		logger.Debug("Clone operation claimed by another worker")
		return nil
	}
	op.Status = core.CloneProvisioning
	op.Metadata = meta
	o.forgetDispatch(id)

	logger.Info("Provisioning clone", zap.String("template_instance_id", meta.TemplateInstanceID))

	// Once claimed, the operation runs to a terminal status even if the
	// caller shuts down; only the provisioning timeout stops it.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ProvisioningTimeout)
	result, perr := o.materializeSafely(pctx, op)
	cancel()

	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer fcancel()

	if perr != nil {
		return o.fail(fctx, op, perr.Error(), logger)
	}
	return o.succeed(fctx, op, result, logger)
}

func (o *Orchestrator) materializeSafely(ctx context.Context, op *core.CloneOperation) (res outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic during provisioning",
				zap.Int64("operation_id", op.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = core.Provisioning("clone.Provision", fmt.Errorf("panic: %v", r))
		}
	}()

	res, err = o.materialize(ctx, op)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("provisioning exceeded %s: %w", o.cfg.ProvisioningTimeout, err)
		}
		err = core.Provisioning("clone.Provision", err)
	}
	return res, err
}

// materialize creates the tenant's instance profile with its admin user,
// already seeded from the template's blueprint. The profile is the only
// write, so a failed operation leaves no instance behind.
func (o *Orchestrator) materialize(ctx context.Context, op *core.CloneOperation) (outcome, error) {
	export, source, err := o.resolveExport(ctx, op)
	if err != nil {
		return outcome{}, err
	}

	now := o.now()
	templateID := op.TemplateID
	profile := &core.ClientProfile{
		InstanceID:        uuid.NewString(),
		TenantID:          op.Metadata.NewTenantID,
		Name:              op.InstanceName,
		AdminEmail:        op.AdminEmail,
		AdminPasswordHash: op.AdminPasswordHash,
		SourceTemplateID:  &templateID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if profile.TenantID == "" {
		profile.TenantID = uuid.NewString()
	}

	target := blueprint.Identity{TenantID: profile.TenantID, InstanceID: profile.InstanceID, Name: profile.Name}
	state, err := o.importer.Plan(export, target)
	if err != nil {
		return outcome{}, fmt.Errorf("seed instance %s: %w", profile.InstanceID, err)
	}
	profile.BlueprintVersion = state.BlueprintVersion
	profile.Pages = state.Pages
	profile.Tools = state.Tools
	profile.FeatureFlags = state.FeatureFlags

	if err := ctx.Err(); err != nil {
		return outcome{}, err
	}
	if err := o.store.CreateClientProfile(ctx, profile); err != nil {
		return outcome{}, fmt.Errorf("create instance: %w", err)
	}

	o.logger.Info("Blueprint imported",
		zap.Int64("export_id", export.ID),
		zap.String("target_instance_id", profile.InstanceID),
		zap.String("blueprint_version", state.BlueprintVersion),
		zap.Int("pages", len(state.Pages)),
	)
	return outcome{newInstanceID: profile.InstanceID, exportID: export.ID, source: source}, nil
}

// resolveExport prefers the export pinned when the request was accepted and
// falls back to a fresh tenant-agnostic export of the template instance.
func (o *Orchestrator) resolveExport(ctx context.Context, op *core.CloneOperation) (*core.BlueprintExport, string, error) {
	if op.Metadata.ExportID != nil {
		export, err := o.store.GetBlueprintExport(ctx, *op.Metadata.ExportID)
		if err != nil {
			return nil, "", fmt.Errorf("load export %d: %w", *op.Metadata.ExportID, err)
		}
		return export, core.CloneSourceExport, nil
	}

	export, err := o.exporter.Export(ctx, blueprint.ExportRequest{
		InstanceID:         op.Metadata.TemplateInstanceID,
		MakeTenantAgnostic: true,
		ExportedBy:         "clone:" + op.RequestID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("export template instance %s: %w", op.Metadata.TemplateInstanceID, err)
	}
	if export.ValidationStatus != core.ValidationValid {
		details := ""
		if export.ValidationDetails != nil {
			details = *export.ValidationDetails
		}
		return nil, "", fmt.Errorf("live export %d is invalid: %s", export.ID, details)
	}
	return export, core.CloneSourceLive, nil
}

func (o *Orchestrator) succeed(ctx context.Context, op *core.CloneOperation, res outcome, logger *zap.Logger) error {
	meta := op.Metadata
	meta.Source = res.source
	exportID := res.exportID
	meta.ExportID = &exportID

	newInstanceID := res.newInstanceID
	at := o.now()
	ok, err := o.store.TransitionCloneOperation(ctx, op.ID, core.CloneTransition{
		From:          core.CloneProvisioning,
		To:            core.CloneSucceeded,
		At:            at,
		NewInstanceID: &newInstanceID,
		Metadata:      &meta,
	})
	if err != nil {
		logger.Error("Failed to record clone success", zap.Error(err))
		return err
	}
	if !ok {
		// The sweep force-failed the operation while it was still running.
		logger.Warn("Clone finished after being force-failed", zap.String("orphan_instance_id", newInstanceID))
		return nil
	}

	op.Status = core.CloneSucceeded
	op.NewInstanceID = &newInstanceID
	op.CompletedAt = &at
	op.Metadata = meta

	logger.Info("Clone succeeded", zap.String("new_instance_id", newInstanceID))
	o.recordCompleted(op)
	o.publish(ctx, events.SubjectCloneSucceeded, op)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, op *core.CloneOperation, message string, logger *zap.Logger) error {
	at := o.now()
	ok, err := o.store.TransitionCloneOperation(ctx, op.ID, core.CloneTransition{
		From:         core.CloneProvisioning,
		To:           core.CloneFailed,
		At:           at,
		ErrorMessage: &message,
	})
	if err != nil {
		logger.Error("Failed to record clone failure", zap.String("error_message", message), zap.Error(err))
		return err
	}
	if !ok {
		return nil
	}

	op.Status = core.CloneFailed
	op.ErrorMessage = &message
	op.CompletedAt = &at

	logger.Warn("Clone failed", zap.String("error_message", message))
	o.recordCompleted(op)
	o.publish(ctx, events.SubjectCloneFailed, op)
	return nil
}

func (o *Orchestrator) recordCompleted(op *core.CloneOperation) {
	if o.metrics != nil {
		o.metrics.RecordCloneCompleted(op, op.Metadata.NewTenantID)
	}
}
