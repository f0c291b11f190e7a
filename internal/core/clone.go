package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type CloneStatus string

const (
	ClonePending      CloneStatus = "pending"
	CloneProvisioning CloneStatus = "provisioning"
	CloneSucceeded    CloneStatus = "succeeded"
	CloneFailed       CloneStatus = "failed"
)

func (s CloneStatus) Terminal() bool {
	return s == CloneSucceeded || s == CloneFailed
}

// CanTransitionTo encodes pending -> provisioning -> succeeded|failed.
func (s CloneStatus) CanTransitionTo(next CloneStatus) bool {
	switch s {
	case ClonePending:
		return next == CloneProvisioning
	case CloneProvisioning:
		return next == CloneSucceeded || next == CloneFailed
	default:
		return false
	}
}

const (
	CloneSourceExport = "export"
	CloneSourceLive   = "live"
)

// CloneMetadata is the template snapshot resolved when the request was
// accepted. Provisioning works from this snapshot, never a live lookup.
type CloneMetadata struct {
	TemplateName       string `json:"templateName"`
	TemplateInstanceID string `json:"templateInstanceId"`
	BlueprintVersion   string `json:"blueprintVersion"`
	ExportID           *int64 `json:"exportId,omitempty"`
	Source             string `json:"source,omitempty"`
	NewTenantID        string `json:"newTenantId,omitempty"`
	Attempt            int    `json:"attempt,omitempty"`
}

func (m CloneMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *CloneMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	return scanJSON(value, m)
}

type CloneOperation struct {
	ID                int64         `json:"id" db:"id"`
	RequestID         string        `json:"requestId" db:"request_id"`
	TemplateID        int64         `json:"templateId" db:"template_id"`
	InstanceName      string        `json:"instanceName" db:"instance_name"`
	AdminEmail        string        `json:"adminEmail" db:"admin_email"`
	AdminPasswordHash string        `json:"-" db:"admin_password_hash"`
	Status            CloneStatus   `json:"status" db:"status"`
	NewInstanceID     *string       `json:"newInstanceId,omitempty" db:"new_instance_id"`
	StartedAt         time.Time     `json:"startedAt" db:"started_at"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty" db:"completed_at"`
	ErrorMessage      *string       `json:"errorMessage,omitempty" db:"error_message"`
	Metadata          CloneMetadata `json:"metadata" db:"metadata"`
	RequestedBy       string        `json:"requestedBy,omitempty" db:"requested_by"`
	UpdatedAt         time.Time     `json:"updatedAt" db:"updated_at"`
}

// SamePayload reports whether a retried request carries the same payload as
// the stored operation. Password hashes are salted, so they are not compared.
func (op *CloneOperation) SamePayload(templateID int64, instanceName, adminEmail string) bool {
	return op.TemplateID == templateID && op.InstanceName == instanceName && op.AdminEmail == adminEmail
}

// CheckInvariants verifies the terminal-state field rules.
func (op *CloneOperation) CheckInvariants() error {
	switch op.Status {
	case CloneSucceeded:
		if op.NewInstanceID == nil || op.CompletedAt == nil {
			return fmt.Errorf("operation %d succeeded without new instance id or completion time", op.ID)
		}
	case CloneFailed:
		if op.ErrorMessage == nil || op.CompletedAt == nil {
			return fmt.Errorf("operation %d failed without error message or completion time", op.ID)
		}
		if op.NewInstanceID != nil {
			return fmt.Errorf("operation %d failed but has a new instance id", op.ID)
		}
	case ClonePending, CloneProvisioning:
		if op.CompletedAt != nil || op.NewInstanceID != nil {
			return fmt.Errorf("operation %d is %s but has terminal fields set", op.ID, op.Status)
		}
	default:
		return fmt.Errorf("operation %d has unknown status %q", op.ID, op.Status)
	}
	return nil
}

// CloneTransition is a compare-and-set status change applied by the store.
type CloneTransition struct {
	From          CloneStatus
	To            CloneStatus
	At            time.Time
	NewInstanceID *string
	ErrorMessage  *string
	Metadata      *CloneMetadata
}
