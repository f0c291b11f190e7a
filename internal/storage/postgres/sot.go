package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/leozw/blueprint-sot/internal/core"
)

func (s *Store) UpsertDeclaration(ctx context.Context, d *core.SotDeclaration) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
        INSERT INTO sot_declarations (
            instance_id, instance_type, blueprint_version, tools_supported,
            callback_url, status, is_template, is_cloneable
        ) VALUES (
            :instance_id, :instance_type, :blueprint_version, :tools_supported,
            :callback_url, 'pending', :is_template, :is_cloneable
        )
        ON CONFLICT (instance_id) DO UPDATE SET
            instance_type = EXCLUDED.instance_type,
            blueprint_version = EXCLUDED.blueprint_version,
            tools_supported = EXCLUDED.tools_supported,
            callback_url = EXCLUDED.callback_url,
            is_template = EXCLUDED.is_template,
            is_cloneable = EXCLUDED.is_cloneable,
            updated_at = NOW()
        RETURNING *`

	stmt, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return translate("postgres.UpsertDeclaration", err)
	}
	defer stmt.Close()

	var stored core.SotDeclaration
	if err := stmt.GetContext(ctx, &stored, d); err != nil {
		return translate("postgres.UpsertDeclaration", err)
	}
	*d = stored
	return nil
}

func (s *Store) GetDeclaration(ctx context.Context, instanceID string) (*core.SotDeclaration, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var d core.SotDeclaration
	if err := s.db.GetContext(ctx, &d, `SELECT * FROM sot_declarations WHERE instance_id = $1`, instanceID); err != nil {
		return nil, translate("postgres.GetDeclaration", err)
	}
	return &d, nil
}

func (s *Store) RecordSyncSuccess(ctx context.Context, metric *core.SotMetric, log *core.SotSyncLog) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
            UPDATE sot_declarations SET
                status = 'active',
                last_sync_at = GREATEST(COALESCE(last_sync_at, $2), $2),
                updated_at = NOW()
            WHERE instance_id = $1`, metric.InstanceID, metric.LastSyncAt)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return core.NotFound("postgres.RecordSyncSuccess", "instance %s is not declared", metric.InstanceID)
		}

		_, err = tx.ExecContext(ctx, `
            INSERT INTO sot_metrics (instance_id, total_pages, installed_tools, last_sync_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (instance_id) DO UPDATE SET
                total_pages = EXCLUDED.total_pages,
                installed_tools = EXCLUDED.installed_tools,
                last_sync_at = EXCLUDED.last_sync_at
            WHERE sot_metrics.last_sync_at <= EXCLUDED.last_sync_at`,
			metric.InstanceID, metric.TotalPages, metric.InstalledTools, metric.LastSyncAt)
		if err != nil {
			return err
		}

		return insertLog(ctx, tx, log)
	})
	return translate("postgres.RecordSyncSuccess", err)
}

func (s *Store) AppendSyncLog(ctx context.Context, log *core.SotSyncLog) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return translate("postgres.AppendSyncLog", insertLog(ctx, s.db, log))
}

func insertLog(ctx context.Context, q sqlx.QueryerContext, log *core.SotSyncLog) error {
	query := `
        INSERT INTO sot_sync_logs (instance_id, event_type, status, details, created_at)
        VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
        RETURNING id, created_at`

	var createdAt interface{}
	if !log.CreatedAt.IsZero() {
		createdAt = log.CreatedAt
	}
	return q.QueryRowxContext(ctx, query, log.InstanceID, log.EventType, log.Status, log.Details, createdAt).
		Scan(&log.ID, &log.CreatedAt)
}

func (s *Store) LatestSyncLog(ctx context.Context, instanceID string) (*core.SotSyncLog, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var log core.SotSyncLog
	query := `SELECT * FROM sot_sync_logs WHERE instance_id = $1 ORDER BY id DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &log, query, instanceID); err != nil {
		return nil, translate("postgres.LatestSyncLog", err)
	}
	return &log, nil
}

func (s *Store) ListSyncLogs(ctx context.Context, instanceID string, limit int) ([]*core.SotSyncLog, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	logs := []*core.SotSyncLog{}
	query := `SELECT * FROM sot_sync_logs WHERE instance_id = $1 ORDER BY id DESC LIMIT $2`
	err := s.db.SelectContext(ctx, &logs, query, instanceID, limit)
	return logs, translate("postgres.ListSyncLogs", err)
}

func (s *Store) GetMetric(ctx context.Context, instanceID string) (*core.SotMetric, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var m core.SotMetric
	query := `SELECT instance_id, total_pages, installed_tools, last_sync_at FROM sot_metrics WHERE instance_id = $1`
	if err := s.db.GetContext(ctx, &m, query, instanceID); err != nil {
		return nil, translate("postgres.GetMetric", err)
	}
	return &m, nil
}
