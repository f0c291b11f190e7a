package postgres

import (
	"context"
	"time"

	"github.com/leozw/blueprint-sot/internal/core"
)

const cloneColumns = `
    id, request_id, template_id, instance_name, admin_email, admin_password_hash,
    status, new_instance_id, started_at, completed_at, error_message, metadata,
    requested_by, updated_at`

func (s *Store) CreateCloneOperation(ctx context.Context, op *core.CloneOperation) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if op.UpdatedAt.IsZero() {
		op.UpdatedAt = op.StartedAt
	}

	query := `
        INSERT INTO clone_operations (
            request_id, template_id, instance_name, admin_email, admin_password_hash,
            status, started_at, metadata, requested_by, updated_at
        ) VALUES (
            :request_id, :template_id, :instance_name, :admin_email, :admin_password_hash,
            :status, :started_at, :metadata, :requested_by, :updated_at
        )
        ON CONFLICT (request_id) DO NOTHING
        RETURNING id`

	named, args, err := s.db.BindNamed(query, op)
	if err != nil {
		return false, translate("postgres.CreateCloneOperation", err)
	}

	rows, err := s.db.QueryxContext(ctx, named, args...)
	if err != nil {
		return false, translate("postgres.CreateCloneOperation", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&op.ID); err != nil {
			return false, translate("postgres.CreateCloneOperation", err)
		}
		return true, nil
	}
	if err := rows.Err(); err != nil {
		return false, translate("postgres.CreateCloneOperation", err)
	}

	// The request id already exists; hand back the stored operation.
	existing, err := s.GetCloneOperationByRequestID(ctx, op.RequestID)
	if err != nil {
		return false, err
	}
	*op = *existing
	return false, nil
}

func (s *Store) GetCloneOperation(ctx context.Context, id int64) (*core.CloneOperation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var op core.CloneOperation
	query := `SELECT` + cloneColumns + ` FROM clone_operations WHERE id = $1`
	if err := s.db.GetContext(ctx, &op, query, id); err != nil {
		return nil, translate("postgres.GetCloneOperation", err)
	}
	return &op, nil
}

func (s *Store) GetCloneOperationByRequestID(ctx context.Context, requestID string) (*core.CloneOperation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var op core.CloneOperation
	query := `SELECT` + cloneColumns + ` FROM clone_operations WHERE request_id = $1`
	if err := s.db.GetContext(ctx, &op, query, requestID); err != nil {
		return nil, translate("postgres.GetCloneOperationByRequestID", err)
	}
	return &op, nil
}

func (s *Store) ListCloneOperations(ctx context.Context, templateID *int64, limit int) ([]*core.CloneOperation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	ops := []*core.CloneOperation{}
	query := `SELECT` + cloneColumns + `
        FROM clone_operations
        WHERE ($1::BIGINT IS NULL OR template_id = $1)
        ORDER BY id DESC
        LIMIT $2`

	err := s.db.SelectContext(ctx, &ops, query, templateID, limit)
	return ops, translate("postgres.ListCloneOperations", err)
}

func (s *Store) TransitionCloneOperation(ctx context.Context, id int64, tr core.CloneTransition) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var metadata interface{}
	if tr.Metadata != nil {
		metadata = *tr.Metadata
	}

	query := `
        UPDATE clone_operations SET
            status = $3,
            updated_at = $4,
            completed_at = CASE WHEN $3 IN ('succeeded', 'failed') THEN $4 ELSE completed_at END,
            new_instance_id = COALESCE($5, new_instance_id),
            error_message = COALESCE($6, error_message),
            metadata = COALESCE($7::JSONB, metadata)
        WHERE id = $1 AND status = $2`

	result, err := s.db.ExecContext(ctx, query, id, tr.From, tr.To, tr.At, tr.NewInstanceID, tr.ErrorMessage, metadata)
	if err != nil {
		return false, translate("postgres.TransitionCloneOperation", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, translate("postgres.TransitionCloneOperation", err)
	}
	if n == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing row.
	if _, err := s.GetCloneOperation(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ListStaleCloneOperations(ctx context.Context, status core.CloneStatus, cutoff time.Time) ([]*core.CloneOperation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	ops := []*core.CloneOperation{}
	query := `SELECT` + cloneColumns + `
        FROM clone_operations
        WHERE status = $1 AND updated_at < $2
        ORDER BY id`

	err := s.db.SelectContext(ctx, &ops, query, status, cutoff)
	return ops, translate("postgres.ListStaleCloneOperations", err)
}
