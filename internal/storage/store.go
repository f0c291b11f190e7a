// Package storage defines the repository contract of the state store. The
// postgres package is the production implementation; memory backs tests and
// single-process development runs.
package storage

import (
	"context"
	"time"

	"github.com/leozw/blueprint-sot/internal/core"
)

// Store is the transactional state store. Lookups that find nothing return
// an error matching core.ErrNotFound.
type Store interface {
	Templates
	CloneOperations
	Exports
	Profiles
	SOT
	Ping(ctx context.Context) error
	Close() error
}

type Templates interface {
	CreateTemplate(ctx context.Context, t *core.Template) error
	UpdateTemplate(ctx context.Context, t *core.Template) error
	GetTemplate(ctx context.Context, id int64) (*core.Template, error)
	GetActiveTemplateByInstance(ctx context.Context, instanceID string) (*core.Template, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]*core.Template, error)
	MarkTemplateExported(ctx context.Context, instanceID, version string, at time.Time) error
}

type CloneOperations interface {
	// CreateCloneOperation inserts op unless its request id already exists.
	// On a duplicate it loads the existing row into op and returns false.
	CreateCloneOperation(ctx context.Context, op *core.CloneOperation) (bool, error)
	GetCloneOperation(ctx context.Context, id int64) (*core.CloneOperation, error)
	GetCloneOperationByRequestID(ctx context.Context, requestID string) (*core.CloneOperation, error)
	ListCloneOperations(ctx context.Context, templateID *int64, limit int) ([]*core.CloneOperation, error)
	// TransitionCloneOperation applies tr only if the row is still in
	// tr.From. It reports whether the row changed.
	TransitionCloneOperation(ctx context.Context, id int64, tr core.CloneTransition) (bool, error)
	// ListStaleCloneOperations returns operations in status whose last
	// transition happened before cutoff.
	ListStaleCloneOperations(ctx context.Context, status core.CloneStatus, cutoff time.Time) ([]*core.CloneOperation, error)
}

type Exports interface {
	CreateBlueprintExport(ctx context.Context, e *core.BlueprintExport) error
	SetExportValidation(ctx context.Context, id int64, status core.ValidationStatus, details *string) error
	GetBlueprintExport(ctx context.Context, id int64) (*core.BlueprintExport, error)
	LatestValidExport(ctx context.Context, instanceID string) (*core.BlueprintExport, error)
}

type Profiles interface {
	CreateClientProfile(ctx context.Context, p *core.ClientProfile) error
	GetClientProfile(ctx context.Context, instanceID string) (*core.ClientProfile, error)
	// ApplyInstanceState replaces the configuration of an instance in a
	// single write.
	ApplyInstanceState(ctx context.Context, instanceID string, state core.InstanceState) error
}

type SOT interface {
	// UpsertDeclaration inserts a pending declaration or updates the
	// identity fields of an existing one, leaving status and last sync
	// untouched. d is refreshed from the stored row.
	UpsertDeclaration(ctx context.Context, d *core.SotDeclaration) error
	GetDeclaration(ctx context.Context, instanceID string) (*core.SotDeclaration, error)
	// RecordSyncSuccess stores the metric snapshot, activates the
	// declaration, advances last_sync_at monotonically and appends the log
	// entry, all in one transaction.
	RecordSyncSuccess(ctx context.Context, metric *core.SotMetric, log *core.SotSyncLog) error
	AppendSyncLog(ctx context.Context, log *core.SotSyncLog) error
	LatestSyncLog(ctx context.Context, instanceID string) (*core.SotSyncLog, error)
	ListSyncLogs(ctx context.Context, instanceID string, limit int) ([]*core.SotSyncLog, error)
	GetMetric(ctx context.Context, instanceID string) (*core.SotMetric, error)
}
