package sot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/config"
	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/events"
	"github.com/leozw/blueprint-sot/internal/metrics"
	"github.com/leozw/blueprint-sot/internal/storage/memory"
	redisstore "github.com/leozw/blueprint-sot/internal/storage/redis"
)

const instanceID = "inst-acme-0001"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubAuthority acknowledges everything unless fail is set.
type stubAuthority struct {
	mu       sync.Mutex
	fail     error
	block    bool
	checkins []CheckInPayload
	declared []DeclarationDocument
}

func (a *stubAuthority) setFail(err error) {
	a.mu.Lock()
	a.fail = err
	a.mu.Unlock()
}

func (a *stubAuthority) Declare(_ context.Context, doc DeclarationDocument) (*Ack, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.declared = append(a.declared, doc)
	if a.fail != nil {
		return nil, a.fail
	}
	return &Ack{Acknowledged: true}, nil
}

func (a *stubAuthority) CheckIn(ctx context.Context, p CheckInPayload) (*Ack, error) {
	a.mu.Lock()
	block := a.block
	a.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkins = append(a.checkins, p)
	if a.fail != nil {
		return nil, a.fail
	}
	return &Ack{Acknowledged: true, Message: "ok"}, nil
}

type harness struct {
	store     *memory.Store
	authority *stubAuthority
	clock     *clock
	recorder  *events.Recorder
	registry  *prometheus.Registry
	collector *metrics.Collector
	engine    *Engine
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()

	h := &harness{
		store:     memory.New(),
		authority: &stubAuthority{},
		clock:     &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		recorder:  &events.Recorder{},
		registry:  prometheus.NewRegistry(),
	}
	h.collector = metrics.NewCollector(config.MetricsConfig{DefaultOrg: "platform"}, h.registry)
	require.NoError(t, h.store.CreateClientProfile(context.Background(), &core.ClientProfile{
		InstanceID:       instanceID,
		TenantID:         "tenant-acme",
		Name:             "Acme Co",
		BlueprintVersion: "1.1.1",
		Pages:            core.Pages{{Slug: "home", Title: "Home"}, {Slug: "shop", Title: "Shop"}},
		Tools: core.Tools{
			{Key: "crm", Enabled: true},
			{Key: "analytics", Enabled: true},
			{Key: "chat", Enabled: false},
		},
	}))

	base := []EngineOption{
		WithEventPublisher(h.recorder),
		WithCollector(h.collector),
		WithNow(h.clock.Now),
	}
	h.engine = NewEngine(h.store, h.authority, EngineConfig{
		CheckInInterval: 30 * time.Minute,
		Timeout:         200 * time.Millisecond,
		FreshnessWindow: 24 * time.Hour,
	}, zap.NewNop(), append(base, opts...)...)
	return h
}

func declareRequest() DeclareRequest {
	return DeclareRequest{
		InstanceID:       instanceID,
		InstanceType:     "client_site",
		BlueprintVersion: "1.1.1",
		ToolsSupported:   []string{"crm", "analytics", "crm", " "},
		CallbackURL:      "https://acme.example.com/",
	}
}

func (h *harness) declare(t *testing.T) {
	t.Helper()
	res, err := h.engine.Declare(context.Background(), declareRequest())
	require.NoError(t, err)
	require.True(t, res.Pushed)
}

func TestDeriveHealth(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour
	recent := now.Add(-2 * time.Hour)
	old := now.Add(-25 * time.Hour)

	failed := &core.SotSyncLog{Status: core.SyncFailure, CreatedAt: now.Add(-time.Minute)}
	succeeded := &core.SotSyncLog{Status: core.SyncSuccess, CreatedAt: old}

	tests := []struct {
		name   string
		decl   *core.SotDeclaration
		latest *core.SotSyncLog
		want   core.HealthStatus
	}{
		{"not declared", nil, nil, core.HealthWarning},
		{"not declared with failed log", nil, failed, core.HealthWarning},
		{"declared never synced", &core.SotDeclaration{}, nil, core.HealthWarning},
		{"fresh success", &core.SotDeclaration{LastSyncAt: &recent}, nil, core.HealthOK},
		{"fresh success then failure", &core.SotDeclaration{LastSyncAt: &recent}, failed, core.HealthOK},
		{"stale and latest failed", &core.SotDeclaration{LastSyncAt: &old}, failed, core.HealthError},
		{"stale and latest succeeded", &core.SotDeclaration{LastSyncAt: &old}, succeeded, core.HealthWarning},
		{"never synced and latest failed", &core.SotDeclaration{}, failed, core.HealthError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveHealth(tt.decl, tt.latest, now, window))
		})
	}
}

func TestDeriveHealthWindowBoundary(t *testing.T) {
	last := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	d := &core.SotDeclaration{LastSyncAt: &last}

	assert.Equal(t, core.HealthOK, DeriveHealth(d, nil, last.Add(24*time.Hour), 24*time.Hour))
	assert.Equal(t, core.HealthWarning, DeriveHealth(d, nil, last.Add(24*time.Hour+time.Second), 24*time.Hour))
}

func TestDeclareStartsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.Declare(ctx, declareRequest())
	require.NoError(t, err)
	assert.True(t, res.Pushed)
	assert.Equal(t, core.DeclarationPending, res.Declaration.Status)
	assert.Equal(t, core.StringSlice{"analytics", "crm"}, res.Declaration.ToolsSupported)
	assert.Equal(t, "https://acme.example.com", res.Declaration.CallbackURL)
	assert.False(t, res.Declaration.IsTemplate)

	require.Len(t, h.authority.declared, 1)
	doc := h.authority.declared[0]
	assert.Equal(t, DeclarationSchemaVersion, doc.SchemaVersion)
	assert.Equal(t, core.InstanceClientSite, doc.System.InstanceType)
	assert.Equal(t, 2, doc.Blueprint.TotalPages)
	assert.Equal(t, []string{"crm", "analytics"}, doc.Tools.Installed)
	assert.Equal(t, "tenant-acme", doc.Tenant.TenantID)
	assert.Equal(t, int64(1800), doc.Monitoring.CheckInIntervalSeconds)
	assert.Equal(t, "https://acme.example.com/health", doc.Monitoring.HealthEndpoint)

	assert.Equal(t, []string{events.SubjectDeclared}, h.recorder.Subjects())
}

func TestDeclareIsUpsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.declare(t)

	req := declareRequest()
	req.BlueprintVersion = "1.2.0"
	req.InstanceType = "template"
	res, err := h.engine.Declare(ctx, req)
	require.NoError(t, err)

	d, err := h.engine.Declaration(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, res.Declaration.ID, d.ID)
	assert.Equal(t, "1.2.0", d.BlueprintVersion)
	assert.True(t, d.IsTemplate)
}

func TestDeclareValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(*DeclareRequest)
	}{
		{"unknown instance type", func(r *DeclareRequest) { r.InstanceType = "kiosk" }},
		{"missing instance id", func(r *DeclareRequest) { r.InstanceID = "  " }},
		{"bad callback url", func(r *DeclareRequest) { r.CallbackURL = "not a url" }},
		{"bad version", func(r *DeclareRequest) { r.BlueprintVersion = "1.x" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := declareRequest()
			tt.mutate(&req)
			_, err := h.engine.Declare(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}

	_, err := h.engine.Declaration(context.Background(), instanceID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDeclarePushFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.authority.setFail(errors.New("connection refused"))

	res, err := h.engine.Declare(ctx, declareRequest())
	require.NoError(t, err)
	assert.False(t, res.Pushed)
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, core.DeclarationPending, res.Declaration.Status)

	logs, err := h.engine.Logs(ctx, instanceID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, core.SyncEventDeclaration, logs[0].EventType)
	assert.Equal(t, core.SyncFailure, logs[0].Status)
	assert.Empty(t, h.recorder.Subjects())
}

func TestCheckInActivatesDeclaration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.declare(t)

	m, err := h.engine.CollectMetrics(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalPages)

	res, err := h.engine.CheckIn(ctx, instanceID, m, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, core.SyncSuccess, res.Status)
	assert.Equal(t, core.HealthOK, res.Health.Status)

	d, err := h.engine.Declaration(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, core.DeclarationActive, d.Status)
	require.NotNil(t, d.LastSyncAt)
	assert.True(t, d.LastSyncAt.Equal(h.clock.Now()))

	metric, err := h.engine.LatestMetric(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, 2, metric.TotalPages)
	assert.Equal(t, core.StringSlice{"analytics", "crm"}, metric.InstalledTools)

	require.Len(t, h.authority.checkins, 1)
	sent := h.authority.checkins[0]
	assert.Equal(t, instanceID, sent.ClientID)
	assert.Equal(t, "1.1.1", sent.Version)
	assert.Equal(t, []string{"analytics", "crm"}, sent.Metrics.InstalledTools)

	expected := `
# HELP sot_instance_health Derived SOT health, 1 for the current status and 0 otherwise
# TYPE sot_instance_health gauge
sot_instance_health{instance_id="inst-acme-0001",status="error",tenant_id="tenant-acme"} 0
sot_instance_health{instance_id="inst-acme-0001",status="ok",tenant_id="tenant-acme"} 1
sot_instance_health{instance_id="inst-acme-0001",status="warning",tenant_id="tenant-acme"} 0
`
	assert.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "sot_instance_health"))
	assert.Equal(t, []string{events.SubjectDeclared, events.SubjectCheckInSuccess}, h.recorder.Subjects())
}

func TestCheckInWithoutDeclaration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 2}, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, core.SyncFailure, res.Status)
	assert.Equal(t, "instance is not declared", res.Error)
	assert.Equal(t, core.HealthWarning, res.Health.Status)
	assert.False(t, res.Health.Declared)
	assert.Empty(t, h.authority.checkins)

	logs, err := h.engine.Logs(ctx, instanceID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, core.SyncFailure, logs[0].Status)
}

func TestCheckInRejectsNegativePages(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CheckIn(context.Background(), instanceID, Metrics{TotalPages: -1}, TriggerManual)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCheckInTimeoutIsRecordedAsFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.declare(t)
	h.authority.block = true

	started := time.Now()
	res, err := h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 1}, TriggerScheduled)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)

	assert.Equal(t, core.SyncFailure, res.Status)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
	assert.Equal(t, core.HealthError, res.Health.Status)

	d, err := h.engine.Declaration(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, core.DeclarationPending, d.Status)
	assert.Nil(t, d.LastSyncAt)
}

// Success at T, failure at T+40m: health stays ok until the freshness window
// after T has passed, then the failed attempt turns it into an error.
func TestHealthFreshnessScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.declare(t)

	t0 := h.clock.Now()
	res, err := h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 2}, TriggerManual)
	require.NoError(t, err)
	require.Equal(t, core.SyncSuccess, res.Status)

	h.clock.Advance(40 * time.Minute)
	h.authority.setFail(core.SyncTransport("test", errors.New("authority unavailable")))
	res, err = h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 2}, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, core.SyncFailure, res.Status)
	assert.Equal(t, core.HealthOK, res.Health.Status)

	h.clock.Advance(23*time.Hour + 19*time.Minute)
	report, err := h.engine.Health(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, core.HealthOK, report.Status)
	require.NotNil(t, report.StaleAt)
	assert.True(t, report.StaleAt.Equal(t0.Add(24*time.Hour)))

	h.clock.Advance(2 * time.Minute)
	report, err = h.engine.Health(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, core.HealthError, report.Status)
	assert.Equal(t, core.SyncFailure, report.LastAttemptStatus)
	assert.Contains(t, report.LastError, "authority unavailable")

	d, err := h.engine.Declaration(ctx, instanceID)
	require.NoError(t, err)
	assert.True(t, d.LastSyncAt.Equal(t0))
}

func TestHealthSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.declare(t)
	_, err := h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 2}, TriggerManual)
	require.NoError(t, err)

	restarted := NewEngine(h.store, h.authority, h.engine.Config(), zap.NewNop(), WithNow(h.clock.Now))
	report, err := restarted.Health(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, core.HealthOK, report.Status)
	assert.True(t, report.NextCheckInAt.Equal(h.clock.Now().Add(30*time.Minute)))
}

func TestHealthCacheExpiresAtStaleness(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisstore.NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness(t, WithHealthCache(client))
	ctx := context.Background()
	h.declare(t)
	_, err := h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 2}, TriggerManual)
	require.NoError(t, err)

	report, err := h.engine.Health(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, core.HealthOK, report.Status)
	assert.True(t, mr.Exists("sot:health:"+instanceID))

	// The cached ok report must not outlive the freshness window.
	h.clock.Advance(25 * time.Hour)
	report, err = h.engine.Health(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, core.HealthWarning, report.Status)
}

func TestConcurrentCheckInsAreSerialized(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisstore.NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness(t, WithLocker(redisstore.NewLocker(client, 10*time.Second)))
	h.engine.cfg.Timeout = 5 * time.Second
	ctx := context.Background()
	h.declare(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.clock.Advance(time.Second)
			res, err := h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 2}, TriggerManual)
			assert.NoError(t, err)
			if res != nil {
				assert.Equal(t, core.SyncSuccess, res.Status)
			}
		}()
	}
	wg.Wait()

	logs, err := h.engine.Logs(ctx, instanceID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 10)
	for i := 1; i < len(logs); i++ {
		assert.False(t, logs[i].CreatedAt.After(logs[i-1].CreatedAt), "logs must be ordered newest first")
	}

	d, err := h.engine.Declaration(ctx, instanceID)
	require.NoError(t, err)
	assert.True(t, d.LastSyncAt.Equal(h.clock.Now()))
}

func TestCheckInWhileAnotherProcessHoldsTheLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisstore.NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness(t, WithLocker(redisstore.NewLocker(client, time.Minute)))
	h.engine.cfg.LockWait = 100 * time.Millisecond
	ctx := context.Background()
	h.declare(t)

	other := redisstore.NewLocker(client, time.Minute)
	release, err := other.Acquire(ctx, "sot:checkin:"+instanceID)
	require.NoError(t, err)

	res, err := h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 2}, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, core.SyncFailure, res.Status)
	assert.Contains(t, res.Error, "another check-in is still running")
	assert.Empty(t, h.authority.checkins)

	logs, err := h.engine.Logs(ctx, instanceID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, core.SyncFailure, logs[0].Status)

	release()
	h.clock.Advance(time.Minute)

	res, err = h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 2}, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, core.SyncSuccess, res.Status)
	assert.Equal(t, core.HealthOK, res.Health.Status)
}

func TestCheckInWaitsForShortLivedHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisstore.NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness(t, WithLocker(redisstore.NewLocker(client, time.Minute)))
	h.engine.cfg.LockWait = 5 * time.Second
	ctx := context.Background()
	h.declare(t)

	release, err := redisstore.NewLocker(client, time.Minute).Acquire(ctx, "sot:checkin:"+instanceID)
	require.NoError(t, err)
	go func() {
		time.Sleep(100 * time.Millisecond)
		release()
	}()

	res, err := h.engine.CheckIn(ctx, instanceID, Metrics{TotalPages: 2}, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, core.SyncSuccess, res.Status)
}

func TestLockWaitCoversAFullCheckIn(t *testing.T) {
	cfg := EngineConfig{Timeout: 10 * time.Second}
	cfg.setDefaults()
	assert.Greater(t, cfg.LockWait, cfg.Timeout+logWriteTimeout)
}

func TestRunScheduledUsesLogCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.declare(t)

	// The declaration push left no log entry, so a check-in is due now.
	res, err := h.engine.RunScheduled(ctx, instanceID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, core.SyncSuccess, res.Status)
	assert.Equal(t, TriggerScheduled, res.Log.Details.Trigger)
	assert.Equal(t, 2, res.Log.Details.TotalPages)

	h.clock.Advance(10 * time.Minute)
	res, err = h.engine.RunScheduled(ctx, instanceID)
	require.NoError(t, err)
	assert.Nil(t, res)

	h.clock.Advance(20 * time.Minute)
	due, next, err := h.engine.Due(ctx, instanceID)
	require.NoError(t, err)
	assert.True(t, due)
	assert.True(t, next.Equal(h.clock.Now()))
}

func TestHTTPAuthority(t *testing.T) {
	var got CheckInPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/checkins":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_ = json.NewEncoder(w).Encode(Ack{Acknowledged: true, Message: "welcome back"})
		case "/api/v1/declarations":
			_ = json.NewEncoder(w).Encode(Ack{Acknowledged: false, Message: "unknown tenant"})
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	a := NewHTTPAuthority(srv.URL+"/", "secret", time.Second)
	ctx := context.Background()

	ack, err := a.CheckIn(ctx, CheckInPayload{ClientID: instanceID, Status: "active", Version: "1.1.1",
		Metrics: CheckInMetrics{TotalPages: 3, InstalledTools: []string{"crm"}}})
	require.NoError(t, err)
	assert.Equal(t, "welcome back", ack.Message)
	assert.Equal(t, instanceID, got.ClientID)
	assert.Equal(t, 3, got.Metrics.TotalPages)

	_, err = a.Declare(ctx, DeclarationDocument{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSyncTransport)
	assert.Contains(t, err.Error(), "unknown tenant")
}

func TestHTTPAuthorityErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/checkins" {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("{not json"))
	}))
	addr := srv.URL
	ctx := context.Background()

	_, err := NewHTTPAuthority(addr, "", time.Second).CheckIn(ctx, CheckInPayload{})
	assert.ErrorIs(t, err, core.ErrSyncTransport)
	assert.Contains(t, err.Error(), "503")

	_, err = NewHTTPAuthority(addr, "", time.Second).Declare(ctx, DeclarationDocument{})
	assert.ErrorIs(t, err, core.ErrSyncTransport)

	srv.Close()
	_, err = NewHTTPAuthority(addr, "", time.Second).CheckIn(ctx, CheckInPayload{})
	assert.ErrorIs(t, err, core.ErrSyncTransport)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")

	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Lock("a")()
	}()

	select {
	case <-done:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}
