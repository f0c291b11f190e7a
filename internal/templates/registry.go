// Package templates marks instances as clone sources and resolves them for
// the clone orchestrator.
package templates

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/storage"
)

type registryStore interface {
	storage.Templates
	GetClientProfile(ctx context.Context, instanceID string) (*core.ClientProfile, error)
}

type RegisterRequest struct {
	InstanceID       string
	TenantID         *string
	Name             string
	Description      string
	IsCloneable      *bool
	BlueprintVersion string
}

type Registry struct {
	store          registryStore
	defaultVersion string
	logger         *zap.Logger
	now            func() time.Time
}

// NewRegistry uses defaultVersion for templates whose instance has no
// profile and no explicit version.
func NewRegistry(store registryStore, defaultVersion string, logger *zap.Logger) *Registry {
	return &Registry{
		store:          store,
		defaultVersion: defaultVersion,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Register opts an instance in as a template. Registering an instance that
// is already an active template updates its metadata; it conflicts only when
// the existing template belongs to a different tenant.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*core.Template, error) {
	const op = "templates.Register"

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, core.Validation(op, "name is required")
	}
	if req.InstanceID == "" {
		return nil, core.Validation(op, "instance id is required")
	}
	if req.BlueprintVersion != "" {
		if _, ok := core.CanonicalVersion(req.BlueprintVersion); !ok {
			return nil, core.Validation(op, "invalid blueprint version %q", req.BlueprintVersion)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := r.store.GetActiveTemplateByInstance(ctx, req.InstanceID)
		switch {
		case err == nil:
			return r.update(ctx, existing, req)
		case !errors.Is(err, core.ErrNotFound):
			return nil, err
		}

		t, err := r.create(ctx, req)
		if errors.Is(err, core.ErrConflict) {
			// Lost a race with a concurrent registration; update instead.
			continue
		}
		return t, err
	}
	return nil, core.Conflict(op, "instance %s is being registered concurrently", req.InstanceID)
}

func (r *Registry) create(ctx context.Context, req RegisterRequest) (*core.Template, error) {
	version, err := r.resolveVersion(ctx, req)
	if err != nil {
		return nil, err
	}

	now := r.now()
	t := &core.Template{
		InstanceID:       req.InstanceID,
		TenantID:         req.TenantID,
		Name:             req.Name,
		Description:      req.Description,
		BlueprintVersion: version,
		Status:           core.TemplateActive,
		IsCloneable:      req.IsCloneable == nil || *req.IsCloneable,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}

	r.logger.Info("Template registered",
		zap.Int64("template_id", t.ID),
		zap.String("instance_id", t.InstanceID),
		zap.Bool("cloneable", t.IsCloneable),
	)
	return t, nil
}

func (r *Registry) update(ctx context.Context, t *core.Template, req RegisterRequest) (*core.Template, error) {
	if t.TenantID != nil && req.TenantID != nil && *t.TenantID != *req.TenantID {
		return nil, core.Conflict("templates.Register", "instance %s is already an active template of another tenant", req.InstanceID)
	}

	t.Name = req.Name
	t.Description = req.Description
	if req.IsCloneable != nil {
		t.IsCloneable = *req.IsCloneable
	}
	if req.BlueprintVersion != "" {
		t.BlueprintVersion = req.BlueprintVersion
	}
	if t.TenantID == nil {
		t.TenantID = req.TenantID
	}
	t.UpdatedAt = r.now()

	if err := r.store.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}

	r.logger.Info("Template metadata updated", zap.Int64("template_id", t.ID), zap.String("instance_id", t.InstanceID))
	return t, nil
}

func (r *Registry) resolveVersion(ctx context.Context, req RegisterRequest) (string, error) {
	if req.BlueprintVersion != "" {
		return req.BlueprintVersion, nil
	}
	profile, err := r.store.GetClientProfile(ctx, req.InstanceID)
	switch {
	case err == nil:
		return profile.BlueprintVersion, nil
	case errors.Is(err, core.ErrNotFound):
		return r.defaultVersion, nil
	default:
		return "", err
	}
}

// Get returns an active template. Inactive templates are reported as not
// found.
func (r *Registry) Get(ctx context.Context, id int64) (*core.Template, error) {
	t, err := r.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != core.TemplateActive {
		return nil, core.NotFound("templates.Get", "template %d is inactive", id)
	}
	return t, nil
}

// Lookup returns the template regardless of status.
func (r *Registry) Lookup(ctx context.Context, id int64) (*core.Template, error) {
	return r.store.GetTemplate(ctx, id)
}

// Deactivate soft-deletes a template. Clone operations already accepted keep
// the snapshot they resolved at request time.
func (r *Registry) Deactivate(ctx context.Context, id int64) (*core.Template, error) {
	t, err := r.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == core.TemplateInactive {
		return t, nil
	}

	t.Status = core.TemplateInactive
	t.UpdatedAt = r.now()
	if err := r.store.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}

	r.logger.Info("Template deactivated", zap.Int64("template_id", id), zap.String("instance_id", t.InstanceID))
	return t, nil
}

func (r *Registry) List(ctx context.Context, activeOnly bool) ([]*core.Template, error) {
	return r.store.ListTemplates(ctx, activeOnly)
}
