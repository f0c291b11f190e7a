// Package memory is an in-process implementation of storage.Store. It keeps
// the same uniqueness and compare-and-set guarantees as the postgres store
// so services behave identically against either.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	seq          map[string]int64
	templates    map[int64]core.Template
	operations   map[int64]core.CloneOperation
	requestIndex map[string]int64
	exports      map[int64]core.BlueprintExport
	profiles     map[string]core.ClientProfile
	declarations map[string]core.SotDeclaration
	logs         []core.SotSyncLog
	metrics      map[string]core.SotMetric

	now func() time.Time
}

func New() *Store {
	return &Store{
		seq:          make(map[string]int64),
		templates:    make(map[int64]core.Template),
		operations:   make(map[int64]core.CloneOperation),
		requestIndex: make(map[string]int64),
		exports:      make(map[int64]core.BlueprintExport),
		profiles:     make(map[string]core.ClientProfile),
		declarations: make(map[string]core.SotDeclaration),
		metrics:      make(map[string]core.SotMetric),
		now:          time.Now,
	}
}

func (s *Store) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// Templates

func (s *Store) CreateTemplate(_ context.Context, t *core.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status == core.TemplateActive {
		for _, existing := range s.templates {
			if existing.InstanceID == t.InstanceID && existing.Status == core.TemplateActive {
				return core.Conflict("memory.CreateTemplate", "instance %s already has an active template", t.InstanceID)
			}
		}
	}
	t.ID = s.next("templates")
	s.templates[t.ID] = *t
	return nil
}

func (s *Store) UpdateTemplate(_ context.Context, t *core.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[t.ID]; !ok {
		return core.NotFound("memory.UpdateTemplate", "template %d not found", t.ID)
	}
	s.templates[t.ID] = *t
	return nil
}

func (s *Store) GetTemplate(_ context.Context, id int64) (*core.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, core.NotFound("memory.GetTemplate", "template %d not found", id)
	}
	return &t, nil
}

func (s *Store) GetActiveTemplateByInstance(_ context.Context, instanceID string) (*core.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.templates {
		if t.InstanceID == instanceID && t.Status == core.TemplateActive {
			found := t
			return &found, nil
		}
	}
	return nil, core.NotFound("memory.GetActiveTemplateByInstance", "no active template for instance %s", instanceID)
}

func (s *Store) ListTemplates(_ context.Context, activeOnly bool) ([]*core.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*core.Template{}
	for _, t := range s.templates {
		if activeOnly && t.Status != core.TemplateActive {
			continue
		}
		found := t
		out = append(out, &found)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MarkTemplateExported(_ context.Context, instanceID, version string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.templates {
		if t.InstanceID == instanceID && t.Status == core.TemplateActive {
			t.BlueprintVersion = version
			t.LastSyncAt = &at
			t.UpdatedAt = at
			s.templates[id] = t
		}
	}
	return nil
}

// Clone operations

func (s *Store) CreateCloneOperation(_ context.Context, op *core.CloneOperation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.requestIndex[op.RequestID]; ok {
		*op = s.operations[id]
		return false, nil
	}
	if _, ok := s.templates[op.TemplateID]; !ok {
		return false, core.NotFound("memory.CreateCloneOperation", "template %d not found", op.TemplateID)
	}
	op.ID = s.next("clone_operations")
	if op.UpdatedAt.IsZero() {
		op.UpdatedAt = op.StartedAt
	}
	s.operations[op.ID] = *op
	s.requestIndex[op.RequestID] = op.ID
	return true, nil
}

func (s *Store) GetCloneOperation(_ context.Context, id int64) (*core.CloneOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operations[id]
	if !ok {
		return nil, core.NotFound("memory.GetCloneOperation", "clone operation %d not found", id)
	}
	return &op, nil
}

func (s *Store) GetCloneOperationByRequestID(_ context.Context, requestID string) (*core.CloneOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.requestIndex[requestID]
	if !ok {
		return nil, core.NotFound("memory.GetCloneOperationByRequestID", "no clone operation for request %s", requestID)
	}
	op := s.operations[id]
	return &op, nil
}

func (s *Store) ListCloneOperations(_ context.Context, templateID *int64, limit int) ([]*core.CloneOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*core.CloneOperation{}
	for _, op := range s.operations {
		if templateID != nil && op.TemplateID != *templateID {
			continue
		}
		found := op
		out = append(out, &found)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TransitionCloneOperation(_ context.Context, id int64, tr core.CloneTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[id]
	if !ok {
		return false, core.NotFound("memory.TransitionCloneOperation", "clone operation %d not found", id)
	}
	if op.Status != tr.From {
		return false, nil
	}
	op.Status = tr.To
	op.UpdatedAt = tr.At
	if tr.To.Terminal() {
		at := tr.At
		op.CompletedAt = &at
	}
	if tr.NewInstanceID != nil {
		op.NewInstanceID = tr.NewInstanceID
	}
	if tr.ErrorMessage != nil {
		op.ErrorMessage = tr.ErrorMessage
	}
	if tr.Metadata != nil {
		op.Metadata = *tr.Metadata
	}
	s.operations[id] = op
	return true, nil
}

func (s *Store) ListStaleCloneOperations(_ context.Context, status core.CloneStatus, cutoff time.Time) ([]*core.CloneOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*core.CloneOperation{}
	for _, op := range s.operations {
		if op.Status == status && op.UpdatedAt.Before(cutoff) {
			found := op
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Exports

func (s *Store) CreateBlueprintExport(_ context.Context, e *core.BlueprintExport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.next("blueprint_exports")
	s.exports[e.ID] = *e
	return nil
}

func (s *Store) SetExportValidation(_ context.Context, id int64, status core.ValidationStatus, details *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exports[id]
	if !ok {
		return core.NotFound("memory.SetExportValidation", "export %d not found", id)
	}
	e.ValidationStatus = status
	e.ValidationDetails = details
	s.exports[id] = e
	return nil
}

func (s *Store) GetBlueprintExport(_ context.Context, id int64) (*core.BlueprintExport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.exports[id]
	if !ok {
		return nil, core.NotFound("memory.GetBlueprintExport", "export %d not found", id)
	}
	return &e, nil
}

func (s *Store) LatestValidExport(_ context.Context, instanceID string) (*core.BlueprintExport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *core.BlueprintExport
	for _, e := range s.exports {
		if e.InstanceID != instanceID || e.ValidationStatus != core.ValidationValid {
			continue
		}
		if latest == nil || e.ID > latest.ID {
			found := e
			latest = &found
		}
	}
	if latest == nil {
		return nil, core.NotFound("memory.LatestValidExport", "no valid export for instance %s", instanceID)
	}
	return latest, nil
}

// Profiles

func (s *Store) CreateClientProfile(_ context.Context, p *core.ClientProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.InstanceID]; ok {
		return core.Conflict("memory.CreateClientProfile", "instance %s already has a profile", p.InstanceID)
	}
	p.ID = s.next("client_profiles")
	s.profiles[p.InstanceID] = *p
	return nil
}

func (s *Store) GetClientProfile(_ context.Context, instanceID string) (*core.ClientProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[instanceID]
	if !ok {
		return nil, core.NotFound("memory.GetClientProfile", "instance %s has no profile", instanceID)
	}
	return &p, nil
}

func (s *Store) ApplyInstanceState(_ context.Context, instanceID string, state core.InstanceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[instanceID]
	if !ok {
		return core.NotFound("memory.ApplyInstanceState", "instance %s has no profile", instanceID)
	}
	p.BlueprintVersion = state.BlueprintVersion
	p.Pages = state.Pages
	p.Tools = state.Tools
	p.FeatureFlags = state.FeatureFlags
	p.UpdatedAt = s.now()
	s.profiles[instanceID] = p
	return nil
}

// SOT

func (s *Store) UpsertDeclaration(_ context.Context, d *core.SotDeclaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.declarations[d.InstanceID]
	if !ok {
		d.ID = s.next("sot_declarations")
		d.Status = core.DeclarationPending
		d.LastSyncAt = nil
		d.CreatedAt = now
		d.UpdatedAt = now
		s.declarations[d.InstanceID] = *d
		return nil
	}

	existing.InstanceType = d.InstanceType
	existing.BlueprintVersion = d.BlueprintVersion
	existing.ToolsSupported = d.ToolsSupported
	existing.CallbackURL = d.CallbackURL
	existing.IsTemplate = d.IsTemplate
	existing.IsCloneable = d.IsCloneable
	existing.UpdatedAt = now
	s.declarations[d.InstanceID] = existing
	*d = existing
	return nil
}

func (s *Store) GetDeclaration(_ context.Context, instanceID string) (*core.SotDeclaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.declarations[instanceID]
	if !ok {
		return nil, core.NotFound("memory.GetDeclaration", "instance %s is not declared", instanceID)
	}
	return &d, nil
}

func (s *Store) RecordSyncSuccess(_ context.Context, metric *core.SotMetric, log *core.SotSyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.declarations[metric.InstanceID]
	if !ok {
		return core.NotFound("memory.RecordSyncSuccess", "instance %s is not declared", metric.InstanceID)
	}

	if prev, ok := s.metrics[metric.InstanceID]; !ok || !metric.LastSyncAt.Before(prev.LastSyncAt) {
		s.metrics[metric.InstanceID] = *metric
	}

	d.Status = core.DeclarationActive
	if d.LastSyncAt == nil || metric.LastSyncAt.After(*d.LastSyncAt) {
		at := metric.LastSyncAt
		d.LastSyncAt = &at
	}
	d.UpdatedAt = s.now()
	s.declarations[metric.InstanceID] = d

	s.appendLog(log)
	return nil
}

func (s *Store) AppendSyncLog(_ context.Context, log *core.SotSyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLog(log)
	return nil
}

func (s *Store) appendLog(log *core.SotSyncLog) {
	log.ID = s.next("sot_sync_logs")
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	s.logs = append(s.logs, *log)
}

func (s *Store) LatestSyncLog(_ context.Context, instanceID string) (*core.SotSyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].InstanceID == instanceID {
			found := s.logs[i]
			return &found, nil
		}
	}
	return nil, core.NotFound("memory.LatestSyncLog", "no sync log for instance %s", instanceID)
}

func (s *Store) ListSyncLogs(_ context.Context, instanceID string, limit int) ([]*core.SotSyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*core.SotSyncLog{}
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].InstanceID != instanceID {
			continue
		}
		found := s.logs[i]
		out = append(out, &found)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetMetric(_ context.Context, instanceID string) (*core.SotMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metrics[instanceID]
	if !ok {
		return nil, core.NotFound("memory.GetMetric", "no metrics for instance %s", instanceID)
	}
	return &m, nil
}
