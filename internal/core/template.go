package core

import "time"

type TemplateStatus string

const (
	TemplateActive   TemplateStatus = "active"
	TemplateInactive TemplateStatus = "inactive"
)

// Template is an instance that opted in as a clone source. Templates are
// never deleted; deactivation is a status change.
type Template struct {
	ID               int64          `json:"id" db:"id"`
	InstanceID       string         `json:"instanceId" db:"instance_id"`
	TenantID         *string        `json:"tenantId,omitempty" db:"tenant_id"`
	Name             string         `json:"name" db:"name"`
	Description      string         `json:"description" db:"description"`
	BlueprintVersion string         `json:"blueprintVersion" db:"blueprint_version"`
	Status           TemplateStatus `json:"status" db:"status"`
	IsCloneable      bool           `json:"isCloneable" db:"is_cloneable"`
	LastSyncAt       *time.Time     `json:"lastSyncAt,omitempty" db:"last_sync_at"`
	CreatedAt        time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time      `json:"updatedAt" db:"updated_at"`
}

// AcceptsClones reports whether the template may be the source of a new
// clone operation.
func (t *Template) AcceptsClones() bool {
	return t.Status == TemplateActive && t.IsCloneable
}
