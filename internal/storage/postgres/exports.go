package postgres

import (
	"context"

	"github.com/leozw/blueprint-sot/internal/core"
)

func (s *Store) CreateBlueprintExport(ctx context.Context, e *core.BlueprintExport) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
        INSERT INTO blueprint_exports (
            instance_id, blueprint_version, tenant_id, is_tenant_agnostic,
            blueprint_data, exported_at, exported_by, validation_status, validation_details
        ) VALUES (
            :instance_id, :blueprint_version, :tenant_id, :is_tenant_agnostic,
            :blueprint_data, :exported_at, :exported_by, :validation_status, :validation_details
        ) RETURNING id`

	stmt, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return translate("postgres.CreateBlueprintExport", err)
	}
	defer stmt.Close()

	return translate("postgres.CreateBlueprintExport", stmt.GetContext(ctx, &e.ID, e))
}

func (s *Store) SetExportValidation(ctx context.Context, id int64, status core.ValidationStatus, details *string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `UPDATE blueprint_exports SET validation_status = $2, validation_details = $3 WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id, status, details)
	if err != nil {
		return translate("postgres.SetExportValidation", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return core.NotFound("postgres.SetExportValidation", "export %d not found", id)
	}
	return nil
}

func (s *Store) GetBlueprintExport(ctx context.Context, id int64) (*core.BlueprintExport, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var e core.BlueprintExport
	if err := s.db.GetContext(ctx, &e, `SELECT * FROM blueprint_exports WHERE id = $1`, id); err != nil {
		return nil, translate("postgres.GetBlueprintExport", err)
	}
	return &e, nil
}

func (s *Store) LatestValidExport(ctx context.Context, instanceID string) (*core.BlueprintExport, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var e core.BlueprintExport
	query := `
        SELECT * FROM blueprint_exports
        WHERE instance_id = $1 AND validation_status = 'valid'
        ORDER BY id DESC
        LIMIT 1`

	if err := s.db.GetContext(ctx, &e, query, instanceID); err != nil {
		return nil, translate("postgres.LatestValidExport", err)
	}
	return &e, nil
}
