package core

import "time"

type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// BlueprintExport is an immutable snapshot; only the validation fields are
// ever written after insert.
type BlueprintExport struct {
	ID                int64            `json:"id" db:"id"`
	InstanceID        string           `json:"instanceId" db:"instance_id"`
	BlueprintVersion  string           `json:"blueprintVersion" db:"blueprint_version"`
	TenantID          *string          `json:"tenantId,omitempty" db:"tenant_id"`
	IsTenantAgnostic  bool             `json:"isTenantAgnostic" db:"is_tenant_agnostic"`
	BlueprintData     Document         `json:"blueprintData" db:"blueprint_data"`
	ExportedAt        time.Time        `json:"exportedAt" db:"exported_at"`
	ExportedBy        string           `json:"exportedBy" db:"exported_by"`
	ValidationStatus  ValidationStatus `json:"validationStatus" db:"validation_status"`
	ValidationDetails *string          `json:"validationDetails,omitempty" db:"validation_details"`
}
