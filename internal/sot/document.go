package sot

import (
	"time"

	"github.com/leozw/blueprint-sot/internal/core"
)

const DeclarationSchemaVersion = "1.0"

// DeclarationDocument is the full v1 identity document sent to the SOT
// authority when an instance declares itself.
type DeclarationDocument struct {
	SchemaVersion string            `json:"schemaVersion"`
	System        SystemSection     `json:"system"`
	Blueprint     BlueprintSection  `json:"blueprint"`
	Tools         ToolRegistry      `json:"tools"`
	FeatureFlags  core.FeatureFlags `json:"featureFlags"`
	Tenant        TenantSection     `json:"tenant"`
	Security      SecuritySection   `json:"security"`
	Monitoring    MonitoringSection `json:"monitoring"`
	GeneratedAt   time.Time         `json:"generatedAt"`
}

type SystemSection struct {
	InstanceID   string            `json:"instanceId"`
	InstanceType core.InstanceType `json:"instanceType"`
	CallbackURL  string            `json:"callbackUrl"`
	Status       string            `json:"status"`
}

type BlueprintSection struct {
	Version     string `json:"version"`
	IsTemplate  bool   `json:"isTemplate"`
	IsCloneable bool   `json:"isCloneable"`
	TotalPages  int    `json:"totalPages"`
}

type ToolRegistry struct {
	Supported []string `json:"supported"`
	Installed []string `json:"installed"`
}

type TenantSection struct {
	TenantID string `json:"tenantId,omitempty"`
	Name     string `json:"name,omitempty"`
}

type SecuritySection struct {
	AuthMethod     string `json:"authMethod"`
	CallbackSigned bool   `json:"callbackSigned"`
}

type MonitoringSection struct {
	CheckInIntervalSeconds int64  `json:"checkInIntervalSeconds"`
	FreshnessWindowSeconds int64  `json:"freshnessWindowSeconds"`
	HealthEndpoint         string `json:"healthEndpoint,omitempty"`
}

// BuildDeclarationDocument assembles the v1 document. profile may be nil
// when the instance has no local profile yet.
func BuildDeclarationDocument(d *core.SotDeclaration, profile *core.ClientProfile, cfg EngineConfig, now time.Time) DeclarationDocument {
	doc := DeclarationDocument{
		SchemaVersion: DeclarationSchemaVersion,
		System: SystemSection{
			InstanceID:   d.InstanceID,
			InstanceType: d.InstanceType,
			CallbackURL:  d.CallbackURL,
			Status:       string(d.Status),
		},
		Blueprint: BlueprintSection{
			Version:     d.BlueprintVersion,
			IsTemplate:  d.IsTemplate,
			IsCloneable: d.IsCloneable,
		},
		Tools: ToolRegistry{
			Supported: append([]string{}, d.ToolsSupported...),
			Installed: []string{},
		},
		FeatureFlags: core.FeatureFlags{},
		Security: SecuritySection{
			AuthMethod: "bearer",
		},
		Monitoring: MonitoringSection{
			CheckInIntervalSeconds: int64(cfg.CheckInInterval / time.Second),
			FreshnessWindowSeconds: int64(cfg.FreshnessWindow / time.Second),
		},
		GeneratedAt: now,
	}
	if d.CallbackURL != "" {
		doc.Monitoring.HealthEndpoint = d.CallbackURL + "/health"
	}

	if profile != nil {
		doc.Blueprint.TotalPages = len(profile.Pages)
		doc.Tools.Installed = profile.InstalledTools()
		for k, v := range profile.FeatureFlags {
			doc.FeatureFlags[k] = v
		}
		doc.Tenant = TenantSection{TenantID: profile.TenantID, Name: profile.Name}
	}
	return doc
}

// CheckInPayload is the minimal heartbeat the authority acknowledges.
type CheckInPayload struct {
	ClientID string         `json:"clientId"`
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Metrics  CheckInMetrics `json:"metrics"`
}

type CheckInMetrics struct {
	TotalPages     int      `json:"totalPages"`
	InstalledTools []string `json:"installedTools"`
}

type Ack struct {
	Acknowledged bool      `json:"acknowledged"`
	Message      string    `json:"message,omitempty"`
	ReceivedAt   time.Time `json:"receivedAt,omitempty"`
}
