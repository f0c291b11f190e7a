package postgres

import (
	"context"
	"time"

	"github.com/leozw/blueprint-sot/internal/core"
)

func (s *Store) CreateTemplate(ctx context.Context, t *core.Template) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
        INSERT INTO templates (
            instance_id, tenant_id, name, description, blueprint_version,
            status, is_cloneable, last_sync_at, created_at, updated_at
        ) VALUES (
            :instance_id, :tenant_id, :name, :description, :blueprint_version,
            :status, :is_cloneable, :last_sync_at, :created_at, :updated_at
        ) RETURNING id`

	stmt, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return translate("postgres.CreateTemplate", err)
	}
	defer stmt.Close()

	return translate("postgres.CreateTemplate", stmt.GetContext(ctx, &t.ID, t))
}

func (s *Store) UpdateTemplate(ctx context.Context, t *core.Template) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
        UPDATE templates SET
            tenant_id = :tenant_id,
            name = :name,
            description = :description,
            blueprint_version = :blueprint_version,
            status = :status,
            is_cloneable = :is_cloneable,
            last_sync_at = :last_sync_at,
            updated_at = :updated_at
        WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, query, t)
	if err != nil {
		return translate("postgres.UpdateTemplate", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return core.NotFound("postgres.UpdateTemplate", "template %d not found", t.ID)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (*core.Template, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var t core.Template
	err := s.db.GetContext(ctx, &t, `SELECT * FROM templates WHERE id = $1`, id)
	if err != nil {
		return nil, translate("postgres.GetTemplate", err)
	}
	return &t, nil
}

func (s *Store) GetActiveTemplateByInstance(ctx context.Context, instanceID string) (*core.Template, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var t core.Template
	query := `SELECT * FROM templates WHERE instance_id = $1 AND status = 'active'`
	if err := s.db.GetContext(ctx, &t, query, instanceID); err != nil {
		return nil, translate("postgres.GetActiveTemplateByInstance", err)
	}
	return &t, nil
}

func (s *Store) ListTemplates(ctx context.Context, activeOnly bool) ([]*core.Template, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	templates := []*core.Template{}
	query := `
        SELECT * FROM templates
        WHERE ($1 = FALSE OR status = 'active')
        ORDER BY id`

	err := s.db.SelectContext(ctx, &templates, query, activeOnly)
	return templates, translate("postgres.ListTemplates", err)
}

func (s *Store) MarkTemplateExported(ctx context.Context, instanceID, version string, at time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
        UPDATE templates SET
            blueprint_version = $2,
            last_sync_at = $3,
            updated_at = $3
        WHERE instance_id = $1 AND status = 'active'`

	_, err := s.db.ExecContext(ctx, query, instanceID, version, at)
	return translate("postgres.MarkTemplateExported", err)
}
