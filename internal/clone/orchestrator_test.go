package clone

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/leozw/blueprint-sot/internal/blueprint"
	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/events"
	"github.com/leozw/blueprint-sot/internal/storage/memory"
	"github.com/leozw/blueprint-sot/internal/templates"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, op *core.CloneOperation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, op.ID)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

type harness struct {
	store    *memory.Store
	registry *templates.Registry
	exporter *blueprint.Exporter
	importer *blueprint.Importer
	events   *events.Recorder
	clock    *fakeClock
	orch     *Orchestrator
	template *core.Template
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store := memory.New()
	require.NoError(t, store.CreateClientProfile(ctx, &core.ClientProfile{
		InstanceID:       "tmpl-inst-7f3a",
		TenantID:         "tenant-template",
		Name:             "Template Site",
		BlueprintVersion: "1.1.1",
		Pages: core.Pages{
			{Slug: "home", Title: "Home"},
			{Slug: "services", Title: "Services"},
		},
		Tools:        core.Tools{{Key: "crm", Enabled: true}, {Key: "blog", Enabled: true}},
		FeatureFlags: core.FeatureFlags{"chat": true},
	}))

	h := &harness{
		store:    store,
		registry: templates.NewRegistry(store, "1.0.0", logger),
		events:   &events.Recorder{},
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.exporter = blueprint.NewExporter(store, h.events, nil, logger)
	h.importer = blueprint.NewImporter(store, "1.2.0", logger)

	tmpl, err := h.registry.Register(ctx, templates.RegisterRequest{
		InstanceID:       "tmpl-inst-7f3a",
		Name:             "T1",
		BlueprintVersion: "1.1.1",
	})
	require.NoError(t, err)
	h.template = tmpl

	all := append([]Option{WithPublisher(h.events), WithClock(h.clock.Now)}, opts...)
	h.orch = NewOrchestrator(store, h.registry, h.exporter, h.importer, Config{
		ProvisioningTimeout:    15 * time.Minute,
		PendingRedispatchAfter: 5 * time.Minute,
	}, logger, all...)
	return h
}

func (h *harness) request() Request {
	return Request{
		TemplateID:    h.template.ID,
		InstanceName:  "Acme Co",
		AdminEmail:    "a@acme.com",
		AdminPassword: "longenough",
	}
}

func TestRequestCloneSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	op, err := h.orch.RequestClone(ctx, h.request())
	require.NoError(t, err)
	assert.NotEmpty(t, op.RequestID)
	assert.Equal(t, core.ClonePending, op.Status)
	assert.NotEqual(t, "longenough", op.AdminPasswordHash)
	assert.Equal(t, "T1", op.Metadata.TemplateName)

	h.orch.Wait()

	got, err := h.orch.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloneSucceeded, got.Status)
	require.NotNil(t, got.NewInstanceID)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.ErrorMessage)
	assert.NoError(t, got.CheckInvariants())
	assert.Equal(t, 1, got.Metadata.Attempt)
	assert.Equal(t, core.CloneSourceLive, got.Metadata.Source)
	require.NotNil(t, got.Metadata.ExportID)

	profile, err := h.store.GetClientProfile(ctx, *got.NewInstanceID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Co", profile.Name)
	assert.Equal(t, "a@acme.com", profile.AdminEmail)
	assert.Len(t, profile.Pages, 2)
	assert.Equal(t, []string{"crm", "blog"}, profile.InstalledTools())
	assert.Equal(t, "1.1.1", profile.BlueprintVersion)
	assert.Equal(t, got.Metadata.NewTenantID, profile.TenantID)

	assert.Equal(t, []string{
		events.SubjectCloneAccepted,
		events.SubjectExportCreated,
		events.SubjectCloneSucceeded,
	}, h.events.Subjects())
}

func TestRequestClonePinsLatestValidExport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	export, err := h.exporter.Export(ctx, blueprint.ExportRequest{InstanceID: "tmpl-inst-7f3a", MakeTenantAgnostic: true})
	require.NoError(t, err)

	op, err := h.orch.RequestClone(ctx, h.request())
	require.NoError(t, err)
	require.NotNil(t, op.Metadata.ExportID)
	assert.Equal(t, export.ID, *op.Metadata.ExportID)
	assert.Equal(t, core.CloneSourceExport, op.Metadata.Source)

	h.orch.Wait()
	got, err := h.orch.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloneSucceeded, got.Status)
	assert.Equal(t, export.ID, *got.Metadata.ExportID)
}

func TestRequestCloneIdempotent(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	h := newHarness(t, WithDispatcher(dispatcher))
	ctx := context.Background()

	req := h.request()
	req.RequestID = "abc"

	first, err := h.orch.RequestClone(ctx, req)
	require.NoError(t, err)
	second, err := h.orch.RequestClone(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, dispatcher.count())

	ops, err := h.orch.ListOperations(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestRequestCloneConcurrentSameRequestID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.request()
	req.RequestID = "abc"

	var wg sync.WaitGroup
	results := make([]*core.CloneOperation, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.orch.RequestClone(ctx, req)
		}(i)
	}
	wg.Wait()
	h.orch.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)

	ops, err := h.orch.ListOperations(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	a, err := h.orch.GetOperation(ctx, results[0].ID)
	require.NoError(t, err)
	b, err := h.orch.GetOperation(ctx, results[1].ID)
	require.NoError(t, err)
	require.NotNil(t, a.NewInstanceID)
	assert.Equal(t, *a.NewInstanceID, *b.NewInstanceID)
}

func TestRequestCloneRejectsDivergentPayload(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recordingDispatcher{}))
	ctx := context.Background()

	req := h.request()
	req.RequestID = "abc"
	_, err := h.orch.RequestClone(ctx, req)
	require.NoError(t, err)

	req.InstanceName = "Other Co"
	_, err = h.orch.RequestClone(ctx, req)
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestRequestCloneNotCloneable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	no := false
	_, err := h.registry.Register(ctx, templates.RegisterRequest{InstanceID: "tmpl-inst-7f3a", Name: "T1", IsCloneable: &no})
	require.NoError(t, err)

	_, err = h.orch.RequestClone(ctx, h.request())
	assert.ErrorIs(t, err, core.ErrTemplateNotCloneable)

	// Asking for an override without a grant changes nothing.
	req := h.request()
	req.Override = true
	req.Actor = "root"
	_, err = h.orch.RequestClone(ctx, req)
	assert.ErrorIs(t, err, core.ErrTemplateNotCloneable)

	ops, err := h.orch.ListOperations(ctx, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestRequestCloneOverridePolicy(t *testing.T) {
	h := newHarness(t, WithOverridePolicy(AllowActors{"root": true}), WithDispatcher(&recordingDispatcher{}))
	ctx := context.Background()

	no := false
	_, err := h.registry.Register(ctx, templates.RegisterRequest{InstanceID: "tmpl-inst-7f3a", Name: "T1", IsCloneable: &no})
	require.NoError(t, err)

	req := h.request()
	req.Override = true
	req.Actor = "root"
	op, err := h.orch.RequestClone(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "root", op.RequestedBy)

	req.RequestID = ""
	req.Actor = "someone"
	_, err = h.orch.RequestClone(ctx, req)
	assert.ErrorIs(t, err, core.ErrTemplateNotCloneable)
}

func TestRequestCloneInactiveTemplate(t *testing.T) {
	h := newHarness(t, WithOverridePolicy(AllowActors{"root": true}))
	ctx := context.Background()

	_, err := h.registry.Deactivate(ctx, h.template.ID)
	require.NoError(t, err)

	req := h.request()
	req.Override = true
	req.Actor = "root"
	_, err = h.orch.RequestClone(ctx, req)
	assert.ErrorIs(t, err, core.ErrTemplateNotCloneable)
}

func TestRequestCloneUnknownTemplate(t *testing.T) {
	h := newHarness(t)

	req := h.request()
	req.TemplateID = 999
	_, err := h.orch.RequestClone(context.Background(), req)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRequestCloneValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty name", func(r *Request) { r.InstanceName = "   " }},
		{"bad email", func(r *Request) { r.AdminEmail = "not-an-email" }},
		{"short password", func(r *Request) { r.AdminPassword = "short" }},
		{"missing template", func(r *Request) { r.TemplateID = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.request()
			tt.mutate(&req)
			_, err := h.orch.RequestClone(context.Background(), req)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestProvisionFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A pinned export from a newer major cannot be imported.
	export := &core.BlueprintExport{
		InstanceID:       "tmpl-inst-7f3a",
		BlueprintVersion: "2.0.0",
		IsTenantAgnostic: true,
		BlueprintData:    core.Document{Version: "2.0.0", Payload: &core.PayloadV1{}},
		ExportedAt:       h.clock.Now(),
		ValidationStatus: core.ValidationValid,
	}
	require.NoError(t, h.store.CreateBlueprintExport(ctx, export))

	op, err := h.orch.RequestClone(ctx, h.request())
	require.NoError(t, err)
	h.orch.Wait()

	got, err := h.orch.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloneFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "major")
	assert.Nil(t, got.NewInstanceID)
	assert.NoError(t, got.CheckInvariants())
	assert.Contains(t, h.events.Subjects(), events.SubjectCloneFailed)

	// The failed request id cannot be reused.
	req := h.request()
	req.RequestID = got.RequestID
	_, err = h.orch.RequestClone(ctx, req)
	assert.ErrorIs(t, err, core.ErrConflict)
}

type panickingImporter struct{}

func (panickingImporter) Plan(*core.BlueprintExport, blueprint.Identity) (core.InstanceState, error) {
	panic("boom")
}

func (panickingImporter) SupportedVersion() string { return "1.2.0" }

func TestProvisionRecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.orch.importer = panickingImporter{}
	ctx := context.Background()

	op, err := h.orch.RequestClone(ctx, h.request())
	require.NoError(t, err)
	h.orch.Wait()

	got, err := h.orch.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloneFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "panic: boom")
}

func TestProvisionSkipsClaimedOperation(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	h := newHarness(t, WithDispatcher(dispatcher))
	ctx := context.Background()

	op, err := h.orch.RequestClone(ctx, h.request())
	require.NoError(t, err)

	require.NoError(t, h.orch.Provision(ctx, op.ID))
	require.NoError(t, h.orch.Provision(ctx, op.ID))

	got, err := h.orch.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloneSucceeded, got.Status)
	assert.Equal(t, 1, got.Metadata.Attempt)
}

func TestSweepForceFailsStuckProvisioning(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	h := newHarness(t, WithDispatcher(dispatcher))
	ctx := context.Background()

	op, err := h.orch.RequestClone(ctx, h.request())
	require.NoError(t, err)

	claimed, err := h.store.TransitionCloneOperation(ctx, op.ID, core.CloneTransition{
		From: core.ClonePending,
		To:   core.CloneProvisioning,
		At:   h.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, claimed)

	h.clock.Advance(10 * time.Minute)
	result, err := h.orch.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Failed)

	h.clock.Advance(6 * time.Minute)
	result, err = h.orch.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got, err := h.orch.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloneFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "timed out")
	assert.NoError(t, got.CheckInvariants())
}

func TestSweepRedispatchesPending(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	h := newHarness(t, WithDispatcher(dispatcher))
	ctx := context.Background()

	op, err := h.orch.RequestClone(ctx, h.request())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatcher.count())

	h.clock.Advance(6 * time.Minute)
	result, err := h.orch.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Redispatched)
	assert.Equal(t, 2, dispatcher.count())

	// Not queued again until another interval has passed.
	result, err = h.orch.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Redispatched)

	// Pending is never force-failed, however old.
	h.clock.Advance(time.Hour)
	result, err = h.orch.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Failed)

	got, err := h.orch.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ClonePending, got.Status)
}

func TestDispatchFailureKeepsAcceptance(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("queue down")}
	h := newHarness(t, WithDispatcher(dispatcher))

	op, err := h.orch.RequestClone(context.Background(), h.request())
	require.NoError(t, err)
	assert.Equal(t, core.ClonePending, op.Status)
}

type cancellingImporter struct {
	next   importer
	cancel context.CancelFunc
}

func (i cancellingImporter) Plan(export *core.BlueprintExport, target blueprint.Identity) (core.InstanceState, error) {
	i.cancel()
	return i.next.Plan(export, target)
}

func (i cancellingImporter) SupportedVersion() string { return i.next.SupportedVersion() }

// A worker shutting down mid-provisioning must not fail the operation.
func TestProvisionSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recordingDispatcher{}))

	op, err := h.orch.RequestClone(context.Background(), h.request())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.orch.importer = cancellingImporter{next: h.importer, cancel: cancel}

	require.NoError(t, h.orch.Provision(ctx, op.ID))
	require.Error(t, ctx.Err())

	got, err := h.orch.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloneSucceeded, got.Status)
	require.NotNil(t, got.NewInstanceID)
	assert.NoError(t, got.CheckInvariants())

	profile, err := h.store.GetClientProfile(context.Background(), *got.NewInstanceID)
	require.NoError(t, err)
	assert.Len(t, profile.Pages, 2)
}

type countingStore struct {
	*memory.Store
	mu      sync.Mutex
	created int
}

func (s *countingStore) CreateClientProfile(ctx context.Context, p *core.ClientProfile) error {
	s.mu.Lock()
	s.created++
	s.mu.Unlock()
	return s.Store.CreateClientProfile(ctx, p)
}

type slowImporter struct {
	next  importer
	delay time.Duration
}

func (i slowImporter) Plan(export *core.BlueprintExport, target blueprint.Identity) (core.InstanceState, error) {
	time.Sleep(i.delay)
	return i.next.Plan(export, target)
}

func (i slowImporter) SupportedVersion() string { return i.next.SupportedVersion() }

func TestProvisionFailureLeavesNoInstance(t *testing.T) {
	h := newHarness(t, WithDispatcher(&recordingDispatcher{}))
	ctx := context.Background()

	store := &countingStore{Store: h.store}
	h.orch.store = store
	h.orch.cfg.ProvisioningTimeout = 10 * time.Millisecond
	h.orch.importer = slowImporter{next: h.importer, delay: 50 * time.Millisecond}

	op, err := h.orch.RequestClone(ctx, h.request())
	require.NoError(t, err)
	require.NoError(t, h.orch.Provision(ctx, op.ID))

	got, err := h.orch.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloneFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "provisioning exceeded")
	assert.NoError(t, got.CheckInvariants())
	assert.Zero(t, store.created)
}

func TestInlineDispatchLogsProvisionErrors(t *testing.T) {
	h := newHarness(t)
	obs, logs := observer.New(zap.ErrorLevel)
	h.orch.logger = zap.New(obs)

	require.NoError(t, inlineDispatcher{o: h.orch}.Dispatch(context.Background(), &core.CloneOperation{ID: 999}))
	h.orch.Wait()

	entries := logs.FilterMessage("Failed to provision clone operation").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(999), entries[0].ContextMap()["operation_id"])
	assert.Contains(t, entries[0].ContextMap()["error"], "not found")
}
