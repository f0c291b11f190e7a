package blueprint

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/events"
	"github.com/leozw/blueprint-sot/internal/metrics"
	"github.com/leozw/blueprint-sot/internal/storage"
)

type ExportRequest struct {
	InstanceID         string
	MakeTenantAgnostic bool
	ExportedBy         string
}

type exportStore interface {
	storage.Profiles
	storage.Exports
	MarkTemplateExported(ctx context.Context, instanceID, version string, at time.Time) error
}

type Exporter struct {
	store     exportStore
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

func NewExporter(store exportStore, publisher events.Publisher, collector *metrics.Collector, logger *zap.Logger) *Exporter {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Exporter{
		store:     store,
		publisher: publisher,
		metrics:   collector,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Export snapshots the instance's pages, tools and feature flags. The export
// row is always written, first as pending and then with its validation
// outcome; an invalid snapshot is kept for inspection rather than returned
// as an error.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (*core.BlueprintExport, error) {
	const op = "blueprint.Export"

	if req.InstanceID == "" {
		return nil, core.Validation(op, "instance id is required")
	}

	profile, err := e.store.GetClientProfile(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	major, ok := core.MajorVersion(profile.BlueprintVersion)
	if !ok {
		return nil, core.Validation(op, "instance %s has invalid blueprint version %q", profile.InstanceID, profile.BlueprintVersion)
	}
	if major != (core.PayloadV1{}).SchemaMajor() {
		return nil, core.VersionIncompatible(op, "no blueprint schema for major version %d", major)
	}

	source := Identity{TenantID: profile.TenantID, InstanceID: profile.InstanceID, Name: profile.Name}
	payload := &core.PayloadV1{
		Pages:        profile.Pages,
		Tools:        profile.Tools,
		FeatureFlags: profile.FeatureFlags,
		Tenant:       core.TenantInfo{TenantID: source.TenantID, InstanceID: source.InstanceID, Name: source.Name},
	}

	export := &core.BlueprintExport{
		InstanceID:       profile.InstanceID,
		BlueprintVersion: profile.BlueprintVersion,
		IsTenantAgnostic: req.MakeTenantAgnostic,
		ExportedAt:       e.now(),
		ExportedBy:       req.ExportedBy,
		ValidationStatus: core.ValidationPending,
	}
	if req.MakeTenantAgnostic {
		payload = Scrub(payload, source)
	} else {
		tenantID := profile.TenantID
		export.TenantID = &tenantID
		payload = rewrite(payload, noopReplacer)
	}
	export.BlueprintData = core.Document{Version: profile.BlueprintVersion, Payload: payload}

	if err := e.store.CreateBlueprintExport(ctx, export); err != nil {
		return nil, err
	}

	status, details := Validate(export, source)
	if err := e.store.SetExportValidation(ctx, export.ID, status, details); err != nil {
		return nil, err
	}
	export.ValidationStatus = status
	export.ValidationDetails = details

	logger := e.logger.With(
		zap.Int64("export_id", export.ID),
		zap.String("instance_id", export.InstanceID),
		zap.String("blueprint_version", export.BlueprintVersion),
	)

	if status == core.ValidationValid {
		if err := e.store.MarkTemplateExported(ctx, export.InstanceID, export.BlueprintVersion, export.ExportedAt); err != nil {
			logger.Warn("Failed to update template after export", zap.Error(err))
		}
		logger.Info("Blueprint exported", zap.Bool("tenant_agnostic", export.IsTenantAgnostic))
	} else {
		logger.Warn("Blueprint export failed validation", zap.Stringp("details", details))
	}

	if e.metrics != nil {
		e.metrics.RecordExport(export, profile.TenantID)
	}
	if err := e.publisher.Publish(ctx, events.SubjectExportCreated, events.ExportEvent{
		ExportID:         export.ID,
		InstanceID:       export.InstanceID,
		BlueprintVersion: export.BlueprintVersion,
		ValidationStatus: string(export.ValidationStatus),
		At:               export.ExportedAt,
	}); err != nil {
		logger.Warn("Failed to publish export event", zap.Error(err))
	}

	return export, nil
}
