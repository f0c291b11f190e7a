// Package clone drives clone operations from acceptance through
// provisioning to a terminal status.
package clone

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/leozw/blueprint-sot/internal/blueprint"
	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/events"
	"github.com/leozw/blueprint-sot/internal/metrics"
	"github.com/leozw/blueprint-sot/internal/storage"
)

type Config struct {
	ProvisioningTimeout    time.Duration
	PendingRedispatchAfter time.Duration
}

type templateResolver interface {
	Lookup(ctx context.Context, id int64) (*core.Template, error)
}

type exporter interface {
	Export(ctx context.Context, req blueprint.ExportRequest) (*core.BlueprintExport, error)
}

type importer interface {
	Plan(export *core.BlueprintExport, target blueprint.Identity) (core.InstanceState, error)
	SupportedVersion() string
}

type Orchestrator struct {
	store      storage.Store
	templates  templateResolver
	exporter   exporter
	importer   importer
	dispatcher Dispatcher
	policy     OverridePolicy
	publisher  events.Publisher
	metrics    *metrics.Collector
	logger     *zap.Logger
	cfg        Config
	now        func() time.Time

	wg sync.WaitGroup

	// redispatched remembers when the sweep last re-dispatched a pending
	// operation so it is not queued again on every tick.
	mu           sync.Mutex
	redispatched map[int64]time.Time
}

type Option func(*Orchestrator)

// WithDispatcher routes accepted operations to d. Without it provisioning
// runs in a goroutine of the accepting process.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

func WithOverridePolicy(p OverridePolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	store storage.Store,
	templates templateResolver,
	exp exporter,
	imp importer,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if cfg.ProvisioningTimeout <= 0 {
		cfg.ProvisioningTimeout = 15 * time.Minute
	}
	if cfg.PendingRedispatchAfter <= 0 {
		cfg.PendingRedispatchAfter = 5 * time.Minute
	}

	o := &Orchestrator{
		store:        store,
		templates:    templates,
		exporter:     exp,
		importer:     imp,
		policy:       DenyOverrides{},
		publisher:    events.Noop{},
		logger:       logger,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
		redispatched: make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dispatcher == nil {
		o.dispatcher = inlineDispatcher{o: o}
	}
	return o
}

// Wait blocks until every in-process provisioning task has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// RequestClone validates and records a clone request, then hands it off
// for provisioning without waiting for it. A request id that was already
// accepted returns the stored operation unchanged.
func (o *Orchestrator) RequestClone(ctx context.Context, req Request) (*core.CloneOperation, error) {
	const op = "clone.RequestClone"

	req.normalize()
	if err := req.validate(); err != nil {
		o.recordRequest("", "rejected")
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if existing, err := o.store.GetCloneOperationByRequestID(ctx, req.RequestID); err == nil {
		return o.replay(existing, req)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	t, err := o.templates.Lookup(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := o.checkCloneable(ctx, t, req); err != nil {
		o.recordRequest(tenantOf(t), "rejected")
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%s: hash admin password: %w", op, err)
	}

	newTenantID := req.TenantID
	if newTenantID == "" {
		newTenantID = uuid.NewString()
	}

	meta := core.CloneMetadata{
		TemplateName:       t.Name,
		TemplateInstanceID: t.InstanceID,
		BlueprintVersion:   t.BlueprintVersion,
		Source:             core.CloneSourceLive,
		NewTenantID:        newTenantID,
	}
	export, err := o.store.LatestValidExport(ctx, t.InstanceID)
	switch {
	case err == nil:
		meta.ExportID = &export.ID
		meta.BlueprintVersion = export.BlueprintVersion
		meta.Source = core.CloneSourceExport
	case !errors.Is(err, core.ErrNotFound):
		return nil, err
	}

	now := o.now()
	operation := &core.CloneOperation{
		RequestID:         req.RequestID,
		TemplateID:        t.ID,
		InstanceName:      req.InstanceName,
		AdminEmail:        req.AdminEmail,
		AdminPasswordHash: string(hash),
		Status:            core.ClonePending,
		StartedAt:         now,
		UpdatedAt:         now,
		Metadata:          meta,
		RequestedBy:       req.Actor,
	}

	created, err := o.store.CreateCloneOperation(ctx, operation)
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent call with the same request id won the insert.
		return o.replay(operation, req)
	}

	logger := o.logger.With(
		zap.Int64("operation_id", operation.ID),
		zap.String("request_id", operation.RequestID),
		zap.Int64("template_id", operation.TemplateID),
	)
	logger.Info("Clone request accepted", zap.String("source", meta.Source))
	o.recordRequest(tenantOf(t), "accepted")
	o.publish(ctx, events.SubjectCloneAccepted, operation)

	if err := o.dispatcher.Dispatch(ctx, operation); err != nil {
		// The sweep re-dispatches pending operations, so acceptance stands.
		logger.Warn("Failed to dispatch clone operation", zap.Error(err))
	}

	return operation, nil
}

func (o *Orchestrator) replay(existing *core.CloneOperation, req Request) (*core.CloneOperation, error) {
	const op = "clone.RequestClone"

	if existing.Status == core.CloneFailed {
		return nil, core.Conflict(op, "request %s already failed; submit a new request id", req.RequestID)
	}
	if !existing.SamePayload(req.TemplateID, req.InstanceName, req.AdminEmail) {
		return nil, core.Conflict(op, "request %s was already used with a different payload", req.RequestID)
	}

	o.recordRequest("", "replayed")
	return existing, nil
}

func (o *Orchestrator) checkCloneable(ctx context.Context, t *core.Template, req Request) error {
	const op = "clone.RequestClone"

	if t.Status != core.TemplateActive {
		return core.NotCloneable(op, "template %d is inactive", t.ID)
	}
	if t.IsCloneable {
		return nil
	}
	if req.Override && o.policy.AllowOverride(ctx, req.Actor, t) {
		o.logger.Info("Cloneable check overridden",
			zap.Int64("template_id", t.ID),
			zap.String("actor", req.Actor),
		)
		return nil
	}
	return core.NotCloneable(op, "template %d is not cloneable", t.ID)
}

func (o *Orchestrator) GetOperation(ctx context.Context, id int64) (*core.CloneOperation, error) {
	return o.store.GetCloneOperation(ctx, id)
}

func (o *Orchestrator) ListOperations(ctx context.Context, templateID *int64, limit int) ([]*core.CloneOperation, error) {
	return o.store.ListCloneOperations(ctx, templateID, limit)
}

func (o *Orchestrator) recordRequest(tenantID, result string) {
	if o.metrics != nil {
		o.metrics.RecordCloneRequest(tenantID, result)
	}
}

func (o *Orchestrator) publish(ctx context.Context, subject string, op *core.CloneOperation) {
	ev := events.CloneEvent{
		OperationID: op.ID,
		RequestID:   op.RequestID,
		TemplateID:  op.TemplateID,
		TenantID:    op.Metadata.NewTenantID,
		Status:      string(op.Status),
		At:          o.now(),
	}
	if op.NewInstanceID != nil {
		ev.NewInstanceID = *op.NewInstanceID
	}
	if op.ErrorMessage != nil {
		ev.Error = *op.ErrorMessage
	}
	if err := o.publisher.Publish(ctx, subject, ev); err != nil {
		o.logger.Warn("Failed to publish clone event",
			zap.String("subject", subject),
			zap.Int64("operation_id", op.ID),
			zap.Error(err),
		)
	}
}

func tenantOf(t *core.Template) string {
	if t == nil || t.TenantID == nil {
		return ""
	}
	return *t.TenantID
}
