package blueprint

import (
	"context"

	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/core"
)

type stateWriter interface {
	ApplyInstanceState(ctx context.Context, instanceID string, state core.InstanceState) error
}

type Importer struct {
	store            stateWriter
	supportedVersion string
	logger           *zap.Logger
}

// NewImporter returns an importer for instances running supportedVersion of
// the blueprint schema.
func NewImporter(store stateWriter, supportedVersion string, logger *zap.Logger) *Importer {
	return &Importer{store: store, supportedVersion: supportedVersion, logger: logger}
}

func (i *Importer) SupportedVersion() string {
	return i.supportedVersion
}

// Import applies export to the target instance. Every check runs before the
// single state write, so a rejected import leaves the target untouched.
func (i *Importer) Import(ctx context.Context, export *core.BlueprintExport, target Identity) error {
	state, err := i.Plan(export, target)
	if err != nil {
		return err
	}
	if err := i.store.ApplyInstanceState(ctx, target.InstanceID, state); err != nil {
		return err
	}

	i.logger.Info("Blueprint imported",
		zap.Int64("export_id", export.ID),
		zap.String("target_instance_id", target.InstanceID),
		zap.String("blueprint_version", export.BlueprintVersion),
		zap.Int("pages", len(state.Pages)),
	)
	return nil
}

// Plan runs every import check and returns the state export would give the
// target, without writing it. Provisioning uses it to create a new instance
// and its seeded state in one write.
func (i *Importer) Plan(export *core.BlueprintExport, target Identity) (core.InstanceState, error) {
	const op = "blueprint.Import"

	if export == nil {
		return core.InstanceState{}, core.Validation(op, "export is required")
	}
	if target.InstanceID == "" {
		return core.InstanceState{}, core.Validation(op, "target instance id is required")
	}
	if export.ValidationStatus != core.ValidationValid {
		return core.InstanceState{}, core.Validation(op, "export %d has validation status %s", export.ID, export.ValidationStatus)
	}

	if err := CheckCompatibility(export.BlueprintVersion, i.supportedVersion); err != nil {
		return core.InstanceState{}, err
	}

	payload, ok := export.BlueprintData.V1()
	if !ok {
		return core.InstanceState{}, core.VersionIncompatible(op, "export %d carries no schema 1 payload", export.ID)
	}
	if export.IsTenantAgnostic {
		payload = Substitute(payload, target)
	}

	return core.InstanceState{
		BlueprintVersion: export.BlueprintVersion,
		Pages:            payload.Pages,
		Tools:            payload.Tools,
		FeatureFlags:     payload.FeatureFlags,
	}, nil
}
