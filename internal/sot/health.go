package sot

import (
	"time"

	"github.com/leozw/blueprint-sot/internal/core"
)

// DeriveHealth computes the status badge from the declaration and the most
// recent sync log entry. It holds no state, so a restarted process reports
// the same health as before.
//
//	declaration missing                       -> warning
//	last success within the freshness window  -> ok
//	stale and the latest attempt failed       -> error
//	stale or never synced otherwise           -> warning
func DeriveHealth(d *core.SotDeclaration, latest *core.SotSyncLog, now time.Time, window time.Duration) core.HealthStatus {
	if d == nil {
		return core.HealthWarning
	}
	if d.LastSyncAt != nil && now.Sub(*d.LastSyncAt) <= window {
		return core.HealthOK
	}
	if latest != nil && latest.Status == core.SyncFailure {
		return core.HealthError
	}
	return core.HealthWarning
}

type HealthReport struct {
	InstanceID        string            `json:"instanceId"`
	Status            core.HealthStatus `json:"status"`
	Message           string            `json:"message"`
	Declared          bool              `json:"declared"`
	DeclarationStatus string            `json:"declarationStatus,omitempty"`
	LastSyncAt        *time.Time        `json:"lastSyncAt,omitempty"`
	LastAttemptAt     *time.Time        `json:"lastAttemptAt,omitempty"`
	LastAttemptStatus core.SyncStatus   `json:"lastAttemptStatus,omitempty"`
	LastError         string            `json:"lastError,omitempty"`
	NextCheckInAt     time.Time         `json:"nextCheckInAt"`
	// StaleAt is when an ok status stops being ok without a new sync.
	StaleAt   *time.Time `json:"staleAt,omitempty"`
	CheckedAt time.Time  `json:"checkedAt"`
}

// BuildHealthReport wraps DeriveHealth with the fields the status widget
// shows.
func BuildHealthReport(instanceID string, d *core.SotDeclaration, latest *core.SotSyncLog, now time.Time, cfg EngineConfig) HealthReport {
	status := DeriveHealth(d, latest, now, cfg.FreshnessWindow)
	report := HealthReport{
		InstanceID:    instanceID,
		Status:        status,
		Declared:      d != nil,
		NextCheckInAt: NextCheckIn(latest, now, cfg.CheckInInterval),
		CheckedAt:     now,
	}

	if d != nil {
		report.DeclarationStatus = string(d.Status)
		report.LastSyncAt = d.LastSyncAt
		if status == core.HealthOK {
			staleAt := d.LastSyncAt.Add(cfg.FreshnessWindow)
			report.StaleAt = &staleAt
		}
	}
	if latest != nil {
		at := latest.CreatedAt
		report.LastAttemptAt = &at
		report.LastAttemptStatus = latest.Status
		report.LastError = latest.Details.Error
	}

	switch {
	case d == nil:
		report.Message = "Instance not declared"
	case status == core.HealthOK:
		report.Message = "Synced with source of truth"
	case status == core.HealthError:
		report.Message = "Last check-in failed, sync now"
	case d.LastSyncAt == nil:
		report.Message = "Check-in required"
	default:
		report.Message = "Last successful sync is stale, check-in required"
	}
	return report
}

// NextCheckIn uses the latest sync log entry as the cursor: the next
// scheduled check-in is one interval after the last attempt, or now when
// there has never been one.
func NextCheckIn(latest *core.SotSyncLog, now time.Time, interval time.Duration) time.Time {
	if latest == nil {
		return now
	}
	return latest.CreatedAt.Add(interval)
}
