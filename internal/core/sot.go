package core

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type InstanceType string

const (
	InstanceClientSite      InstanceType = "client_site"
	InstanceMarketplace     InstanceType = "marketplace"
	InstanceAdminPortal     InstanceType = "admin_portal"
	InstanceAnalyticsEngine InstanceType = "analytics_engine"
	InstanceTemplate        InstanceType = "template"
)

var instanceTypes = []InstanceType{
	InstanceClientSite,
	InstanceMarketplace,
	InstanceAdminPortal,
	InstanceAnalyticsEngine,
	InstanceTemplate,
}

// ParseInstanceType accepts only the closed set of declared instance types.
func ParseInstanceType(s string) (InstanceType, error) {
	for _, t := range instanceTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", Validation("sot.ParseInstanceType", "unknown instance type %q", s)
}

type DeclarationStatus string

const (
	DeclarationPending  DeclarationStatus = "pending"
	DeclarationActive   DeclarationStatus = "active"
	DeclarationInactive DeclarationStatus = "inactive"
)

// SotDeclaration is the one-per-instance registration with the SOT.
type SotDeclaration struct {
	ID               int64             `json:"id" db:"id"`
	InstanceID       string            `json:"instanceId" db:"instance_id"`
	InstanceType     InstanceType      `json:"instanceType" db:"instance_type"`
	BlueprintVersion string            `json:"blueprintVersion" db:"blueprint_version"`
	ToolsSupported   StringSlice       `json:"toolsSupported" db:"tools_supported"`
	CallbackURL      string            `json:"callbackUrl" db:"callback_url"`
	Status           DeclarationStatus `json:"status" db:"status"`
	IsTemplate       bool              `json:"isTemplate" db:"is_template"`
	IsCloneable      bool              `json:"isCloneable" db:"is_cloneable"`
	LastSyncAt       *time.Time        `json:"lastSyncAt,omitempty" db:"last_sync_at"`
	CreatedAt        time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time         `json:"updatedAt" db:"updated_at"`
}

type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncFailure SyncStatus = "failure"
)

const (
	SyncEventCheckIn     = "checkin"
	SyncEventDeclaration = "declaration"
)

type SyncDetails struct {
	Message        string   `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
	Trigger        string   `json:"trigger,omitempty"`
	TotalPages     int      `json:"totalPages,omitempty"`
	InstalledTools []string `json:"installedTools,omitempty"`
	LatencyMs      int64    `json:"latencyMs,omitempty"`
}

func (d SyncDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *SyncDetails) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	return scanJSON(value, d)
}

// SotSyncLog is append-only: one row per sync attempt.
type SotSyncLog struct {
	ID         int64       `json:"id" db:"id"`
	InstanceID string      `json:"instanceId" db:"instance_id"`
	EventType  string      `json:"eventType" db:"event_type"`
	Status     SyncStatus  `json:"status" db:"status"`
	Details    SyncDetails `json:"details" db:"details"`
	CreatedAt  time.Time   `json:"createdAt" db:"created_at"`
}

// SotMetric is the latest metric snapshot acknowledged by the SOT.
type SotMetric struct {
	InstanceID     string      `json:"instanceId" db:"instance_id"`
	TotalPages     int         `json:"totalPages" db:"total_pages"`
	InstalledTools StringSlice `json:"installedTools" db:"installed_tools"`
	LastSyncAt     time.Time   `json:"lastSyncAt" db:"last_sync_at"`
}

type HealthStatus string

const (
	HealthOK      HealthStatus = "ok"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)
