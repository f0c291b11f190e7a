// Package sot declares instances to the central source of truth, runs
// check-ins against it and derives the health shown to operators.
package sot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/events"
	"github.com/leozw/blueprint-sot/internal/metrics"
	"github.com/leozw/blueprint-sot/internal/storage"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// logWriteTimeout bounds the sync log write, which must happen even when the
// caller's context is already done.
const logWriteTimeout = 5 * time.Second

type EngineConfig struct {
	CheckInInterval time.Duration
	Timeout         time.Duration
	FreshnessWindow time.Duration
	// LockWait bounds the wait for a check-in running in another process.
	// It defaults to longer than one full check-in.
	LockWait time.Duration
}

func (c *EngineConfig) setDefaults() {
	if c.CheckInInterval <= 0 {
		c.CheckInInterval = 30 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = 24 * time.Hour
	}
	if c.LockWait <= 0 {
		c.LockWait = c.Timeout + logWriteTimeout + time.Second
	}
}

// Locker serializes check-ins for one instance across processes.
type Locker interface {
	Acquire(ctx context.Context, name string) (func(), error)
}

// HealthCache stores derived reports for a short time.
type HealthCache interface {
	CacheHealth(ctx context.Context, instanceID string, report interface{}) error
	GetCachedHealth(ctx context.Context, instanceID string, dest interface{}) error
	InvalidateHealth(ctx context.Context, instanceID string) error
}

type engineStore interface {
	storage.SOT
	GetClientProfile(ctx context.Context, instanceID string) (*core.ClientProfile, error)
}

type Metrics struct {
	TotalPages     int      `json:"totalPages" validate:"gte=0"`
	InstalledTools []string `json:"installedTools"`
}

type SyncResult struct {
	InstanceID string           `json:"instanceId"`
	Status     core.SyncStatus  `json:"status"`
	Message    string           `json:"message"`
	Error      string           `json:"error,omitempty"`
	Log        *core.SotSyncLog `json:"log"`
	Health     HealthReport     `json:"health"`
}

type Engine struct {
	store     engineStore
	authority Authority
	locker    Locker
	cache     HealthCache
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger
	cfg       EngineConfig
	now       func() time.Time

	locks *keyedMutex
}

type EngineOption func(*Engine)

func WithLocker(l Locker) EngineOption {
	return func(e *Engine) { e.locker = l }
}

func WithHealthCache(c HealthCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

func WithEventPublisher(p events.Publisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

func WithCollector(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store engineStore, authority Authority, cfg EngineConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	cfg.setDefaults()
	e := &Engine{
		store:     store,
		authority: authority,
		publisher: events.Noop{},
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// CheckIn pushes metrics to the authority and records the attempt. Transport
// failures and rejections are recorded as failure log entries and reported
// in the result, not returned as errors.
func (e *Engine) CheckIn(ctx context.Context, instanceID string, m Metrics, trigger string) (*SyncResult, error) {
	const op = "sot.CheckIn"

	if strings.TrimSpace(instanceID) == "" {
		return nil, core.Validation(op, "instance id is required")
	}
	if m.TotalPages < 0 {
		return nil, core.Validation(op, "totalPages must not be negative")
	}
	m.InstalledTools = normalizeTools(m.InstalledTools)
	if trigger == "" {
		trigger = TriggerManual
	}

	unlock := e.locks.Lock(instanceID)
	defer unlock()

	logger := e.logger.With(zap.String("instance_id", instanceID), zap.String("trigger", trigger))
	details := core.SyncDetails{
		Trigger:        trigger,
		TotalPages:     m.TotalPages,
		InstalledTools: m.InstalledTools,
	}
	tenantID := e.tenantOf(ctx, instanceID)

	if e.locker != nil {
		lctx, cancel := context.WithTimeout(ctx, e.cfg.LockWait)
		release, err := e.locker.Acquire(lctx, "sot:checkin:"+instanceID)
		cancel()
		if err != nil {
			details.Message = "check-in skipped"
			details.Error = core.SyncTransport(op, fmt.Errorf("another check-in is still running: %w", err)).Error()
			return e.recordFailure(ctx, instanceID, details, tenantID, logger)
		}
		defer release()
	}

	decl, err := e.store.GetDeclaration(ctx, instanceID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	if decl == nil {
		details.Message = "check-in skipped"
		details.Error = "instance is not declared"
		return e.recordFailure(ctx, instanceID, details, tenantID, logger)
	}

	payload := CheckInPayload{
		ClientID: instanceID,
		Status:   string(decl.Status),
		Version:  decl.BlueprintVersion,
		Metrics:  CheckInMetrics{TotalPages: m.TotalPages, InstalledTools: m.InstalledTools},
	}

	actx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	started := time.Now()
	ack, err := e.authority.CheckIn(actx, payload)
	latency := time.Since(started)
	cancel()
	details.LatencyMs = latency.Milliseconds()

	if e.metrics != nil {
		status := core.SyncSuccess
		if err != nil {
			status = core.SyncFailure
		}
		e.metrics.RecordCheckIn(tenantID, instanceID, status, latency.Seconds())
	}

	if err != nil {
		if !errors.Is(err, core.ErrSyncTransport) {
			err = core.SyncTransport(op, err)
		}
		details.Message = "check-in failed"
		details.Error = err.Error()
		return e.recordFailure(ctx, instanceID, details, tenantID, logger)
	}

	details.Message = "check-in acknowledged"
	if ack.Message != "" {
		details.Message = ack.Message
	}

	now := e.now()
	metric := &core.SotMetric{
		InstanceID:     instanceID,
		TotalPages:     m.TotalPages,
		InstalledTools: core.StringSlice(m.InstalledTools),
		LastSyncAt:     now,
	}
	entry := &core.SotSyncLog{
		InstanceID: instanceID,
		EventType:  core.SyncEventCheckIn,
		Status:     core.SyncSuccess,
		Details:    details,
		CreatedAt:  now,
	}

	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer wcancel()
	if err := e.store.RecordSyncSuccess(wctx, metric, entry); err != nil {
		logger.Error("Failed to record check-in", zap.Error(err))
		return nil, err
	}

	logger.Info("Check-in acknowledged",
		zap.Int("total_pages", m.TotalPages),
		zap.Int64("latency_ms", details.LatencyMs),
	)
	if e.metrics != nil {
		e.metrics.RecordLastSync(tenantID, instanceID, float64(now.Unix()))
	}
	e.publish(wctx, events.SubjectCheckInSuccess, instanceID, entry)

	return e.result(wctx, instanceID, entry, tenantID)
}

func (e *Engine) recordFailure(ctx context.Context, instanceID string, details core.SyncDetails, tenantID string, logger *zap.Logger) (*SyncResult, error) {
	entry := &core.SotSyncLog{
		InstanceID: instanceID,
		EventType:  core.SyncEventCheckIn,
		Status:     core.SyncFailure,
		Details:    details,
		CreatedAt:  e.now(),
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := e.store.AppendSyncLog(wctx, entry); err != nil {
		logger.Error("Failed to record check-in failure", zap.String("cause", details.Error), zap.Error(err))
		return nil, err
	}

	logger.Warn("Check-in failed", zap.String("error", details.Error))
	e.publish(wctx, events.SubjectCheckInFailure, instanceID, entry)

	return e.result(wctx, instanceID, entry, tenantID)
}

func (e *Engine) result(ctx context.Context, instanceID string, entry *core.SotSyncLog, tenantID string) (*SyncResult, error) {
	if e.cache != nil {
		if err := e.cache.InvalidateHealth(ctx, instanceID); err != nil {
			e.logger.Debug("Failed to invalidate health cache", zap.Error(err))
		}
	}

	report, err := e.computeHealth(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordHealth(tenantID, instanceID, report.Status)
	}

	return &SyncResult{
		InstanceID: instanceID,
		Status:     entry.Status,
		Message:    entry.Details.Message,
		Error:      entry.Details.Error,
		Log:        entry,
		Health:     report,
	}, nil
}

// Health reports the derived status of an instance. Cached reports are
// used only until the moment the derived status could change.
func (e *Engine) Health(ctx context.Context, instanceID string) (HealthReport, error) {
	if e.cache != nil {
		var cached HealthReport
		if err := e.cache.GetCachedHealth(ctx, instanceID, &cached); err == nil {
			if cached.StaleAt == nil || e.now().Before(*cached.StaleAt) {
				return cached, nil
			}
		}
	}

	report, err := e.computeHealth(ctx, instanceID)
	if err != nil {
		return report, err
	}
	if e.metrics != nil {
		e.metrics.RecordHealth(e.tenantOf(ctx, instanceID), instanceID, report.Status)
	}

	if e.cache != nil {
		if err := e.cache.CacheHealth(ctx, instanceID, report); err != nil {
			e.logger.Debug("Failed to cache health report", zap.Error(err))
		}
	}
	return report, nil
}

func (e *Engine) computeHealth(ctx context.Context, instanceID string) (HealthReport, error) {
	decl, err := e.store.GetDeclaration(ctx, instanceID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return HealthReport{}, err
	}
	latest, err := e.store.LatestSyncLog(ctx, instanceID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return HealthReport{}, err
	}
	return BuildHealthReport(instanceID, decl, latest, e.now(), e.cfg), nil
}

// Due reports whether the scheduled check-in for instanceID should run now.
// The latest sync log entry is the cursor, so a restart needs no timer state.
func (e *Engine) Due(ctx context.Context, instanceID string) (bool, time.Time, error) {
	latest, err := e.store.LatestSyncLog(ctx, instanceID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return false, time.Time{}, err
	}
	now := e.now()
	next := NextCheckIn(latest, now, e.cfg.CheckInInterval)
	return !now.Before(next), next, nil
}

// CollectMetrics reads the local profile to build check-in metrics.
func (e *Engine) CollectMetrics(ctx context.Context, instanceID string) (Metrics, error) {
	profile, err := e.store.GetClientProfile(ctx, instanceID)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{TotalPages: len(profile.Pages), InstalledTools: profile.InstalledTools()}, nil
}

// RunScheduled performs a check-in if one is due. It reports whether a
// check-in ran.
func (e *Engine) RunScheduled(ctx context.Context, instanceID string) (*SyncResult, error) {
	due, _, err := e.Due(ctx, instanceID)
	if err != nil || !due {
		return nil, err
	}

	m, err := e.CollectMetrics(ctx, instanceID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	return e.CheckIn(ctx, instanceID, m, TriggerScheduled)
}

func (e *Engine) Logs(ctx context.Context, instanceID string, limit int) ([]*core.SotSyncLog, error) {
	return e.store.ListSyncLogs(ctx, instanceID, limit)
}

func (e *Engine) LatestMetric(ctx context.Context, instanceID string) (*core.SotMetric, error) {
	return e.store.GetMetric(ctx, instanceID)
}

func (e *Engine) tenantOf(ctx context.Context, instanceID string) string {
	profile, err := e.store.GetClientProfile(ctx, instanceID)
	if err != nil {
		return ""
	}
	return profile.TenantID
}

func (e *Engine) publish(ctx context.Context, subject, instanceID string, entry *core.SotSyncLog) {
	err := e.publisher.Publish(ctx, subject, events.CheckInEvent{
		InstanceID:     instanceID,
		Status:         string(entry.Status),
		TotalPages:     entry.Details.TotalPages,
		InstalledTools: entry.Details.InstalledTools,
		Error:          entry.Details.Error,
		At:             entry.CreatedAt,
	})
	if err != nil {
		e.logger.Warn("Failed to publish check-in event", zap.String("subject", subject), zap.Error(err))
	}
}

func normalizeTools(tools []string) []string {
	seen := make(map[string]bool, len(tools))
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
