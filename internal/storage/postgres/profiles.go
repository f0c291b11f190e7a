package postgres

import (
	"context"

	"github.com/leozw/blueprint-sot/internal/core"
)

func (s *Store) CreateClientProfile(ctx context.Context, p *core.ClientProfile) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
        INSERT INTO client_profiles (
            instance_id, tenant_id, name, admin_email, admin_password_hash,
            blueprint_version, pages, tools, feature_flags, source_template_id,
            created_at, updated_at
        ) VALUES (
            :instance_id, :tenant_id, :name, :admin_email, :admin_password_hash,
            :blueprint_version, :pages, :tools, :feature_flags, :source_template_id,
            :created_at, :updated_at
        ) RETURNING id`

	stmt, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return translate("postgres.CreateClientProfile", err)
	}
	defer stmt.Close()

	return translate("postgres.CreateClientProfile", stmt.GetContext(ctx, &p.ID, p))
}

func (s *Store) GetClientProfile(ctx context.Context, instanceID string) (*core.ClientProfile, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var p core.ClientProfile
	if err := s.db.GetContext(ctx, &p, `SELECT * FROM client_profiles WHERE instance_id = $1`, instanceID); err != nil {
		return nil, translate("postgres.GetClientProfile", err)
	}
	return &p, nil
}

func (s *Store) ApplyInstanceState(ctx context.Context, instanceID string, state core.InstanceState) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
        UPDATE client_profiles SET
            blueprint_version = $2,
            pages = $3,
            tools = $4,
            feature_flags = $5,
            updated_at = NOW()
        WHERE instance_id = $1`

	result, err := s.db.ExecContext(ctx, query, instanceID, state.BlueprintVersion, state.Pages, state.Tools, state.FeatureFlags)
	if err != nil {
		return translate("postgres.ApplyInstanceState", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return core.NotFound("postgres.ApplyInstanceState", "instance %s has no profile", instanceID)
	}
	return nil
}
