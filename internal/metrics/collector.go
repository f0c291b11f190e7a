package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/leozw/blueprint-sot/internal/config"
	"github.com/leozw/blueprint-sot/internal/core"
)

var healthStatuses = []core.HealthStatus{core.HealthOK, core.HealthWarning, core.HealthError}

type Collector struct {
	config   *config.MetricsConfig
	gatherer prometheus.Gatherer

	// Clone metrics
	cloneRequests     *prometheus.CounterVec
	cloneOperations   *prometheus.CounterVec
	cloneDuration     *prometheus.HistogramVec
	cloneSweepActions *prometheus.CounterVec

	// Export metrics
	exportsTotal *prometheus.CounterVec

	// SOT metrics
	checkinsTotal    *prometheus.CounterVec
	checkinDuration  *prometheus.HistogramVec
	lastSyncTime     *prometheus.GaugeVec
	instanceHealth   *prometheus.GaugeVec
	declarationsPush *prometheus.CounterVec

	// System health metrics
	queueSize         *prometheus.GaugeVec
	workerUtilization *prometheus.GaugeVec
}

// NewCollector registers every metric on reg. Pass prometheus.NewRegistry()
// in tests so collectors do not clash on the default registry.
func NewCollector(cfg config.MetricsConfig, reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		config:   &cfg,
		gatherer: reg,

		cloneRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blueprint_clone_requests_total",
				Help: "Clone requests by outcome (accepted, replayed, rejected)",
			},
			[]string{"tenant_id", "result"},
		),

		cloneOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blueprint_clone_operations_total",
				Help: "Clone operations that reached a terminal status",
			},
			[]string{"tenant_id", "template_id", "status"},
		),

		cloneDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blueprint_clone_provisioning_duration_seconds",
				Help:    "Time spent provisioning a clone",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
			},
			[]string{"tenant_id", "status"},
		),

		cloneSweepActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blueprint_clone_sweep_actions_total",
				Help: "Operations touched by the stuck-operation sweep",
			},
			[]string{"tenant_id", "action"},
		),

		exportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blueprint_exports_total",
				Help: "Blueprint exports by validation status",
			},
			[]string{"tenant_id", "instance_id", "validation_status"},
		),

		checkinsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sot_checkins_total",
				Help: "SOT check-in attempts by status",
			},
			[]string{"tenant_id", "instance_id", "status"},
		),

		checkinDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sot_checkin_duration_seconds",
				Help:    "Round trip time of SOT check-ins",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tenant_id", "instance_id"},
		),

		lastSyncTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sot_last_successful_sync_timestamp_seconds",
				Help: "Unix time of the last acknowledged check-in",
			},
			[]string{"tenant_id", "instance_id"},
		),

		instanceHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sot_instance_health",
				Help: "Derived SOT health, 1 for the current status and 0 otherwise",
			},
			[]string{"tenant_id", "instance_id", "status"},
		),

		declarationsPush: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sot_declarations_total",
				Help: "Declarations pushed to the SOT authority by status",
			},
			[]string{"tenant_id", "instance_id", "status"},
		),

		queueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blueprint_clone_queue_size",
				Help: "Clone jobs waiting in the queue",
			},
			[]string{"tenant_id", "queue"},
		),

		workerUtilization: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blueprint_worker_utilization_ratio",
				Help: "Fraction of clone workers currently busy",
			},
			[]string{"tenant_id", "pool"},
		),
	}
}

func (c *Collector) tenant(tenantID string) string {
	if tenantID == "" {
		return c.config.DefaultOrg
	}
	return tenantID
}

func (c *Collector) RecordCloneRequest(tenantID, result string) {
	c.cloneRequests.WithLabelValues(c.tenant(tenantID), result).Inc()
}

func (c *Collector) RecordCloneCompleted(op *core.CloneOperation, tenantID string) {
	tenant := c.tenant(tenantID)
	templateID := formatID(op.TemplateID)
	c.cloneOperations.WithLabelValues(tenant, templateID, string(op.Status)).Inc()

	if op.CompletedAt != nil {
		c.cloneDuration.WithLabelValues(tenant, string(op.Status)).
			Observe(op.CompletedAt.Sub(op.StartedAt).Seconds())
	}
}

func (c *Collector) RecordSweep(tenantID, action string) {
	c.cloneSweepActions.WithLabelValues(c.tenant(tenantID), action).Inc()
}

func (c *Collector) RecordExport(e *core.BlueprintExport, tenantID string) {
	c.exportsTotal.WithLabelValues(c.tenant(tenantID), e.InstanceID, string(e.ValidationStatus)).Inc()
}

func (c *Collector) RecordCheckIn(tenantID, instanceID string, status core.SyncStatus, latencySeconds float64) {
	tenant := c.tenant(tenantID)
	c.checkinsTotal.WithLabelValues(tenant, instanceID, string(status)).Inc()
	c.checkinDuration.WithLabelValues(tenant, instanceID).Observe(latencySeconds)
}

func (c *Collector) RecordLastSync(tenantID, instanceID string, unixSeconds float64) {
	c.lastSyncTime.WithLabelValues(c.tenant(tenantID), instanceID).Set(unixSeconds)
}

func (c *Collector) RecordHealth(tenantID, instanceID string, status core.HealthStatus) {
	tenant := c.tenant(tenantID)
	for _, s := range healthStatuses {
		value := 0.0
		if s == status {
			value = 1.0
		}
		c.instanceHealth.WithLabelValues(tenant, instanceID, string(s)).Set(value)
	}
}

func (c *Collector) RecordDeclaration(tenantID, instanceID string, status core.SyncStatus) {
	c.declarationsPush.WithLabelValues(c.tenant(tenantID), instanceID, string(status)).Inc()
}

func (c *Collector) RecordWorkerMetrics(poolName string, queueSize int, utilization float64) {
	tenant := c.tenant("")
	c.queueSize.WithLabelValues(tenant, poolName).Set(float64(queueSize))
	c.workerUtilization.WithLabelValues(tenant, poolName).Set(utilization)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
