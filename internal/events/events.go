// Package events publishes lifecycle events for clone operations, exports
// and SOT check-ins.
package events

import (
	"context"
	"sync"
	"time"
)

const (
	SubjectCloneAccepted  = "sot.clone.accepted"
	SubjectCloneSucceeded = "sot.clone.succeeded"
	SubjectCloneFailed    = "sot.clone.failed"
	SubjectCheckInSuccess = "sot.checkin.success"
	SubjectCheckInFailure = "sot.checkin.failure"
	SubjectExportCreated  = "sot.export.created"
	SubjectDeclared       = "sot.declaration.pushed"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

type CloneEvent struct {
	OperationID   int64     `json:"operationId"`
	RequestID     string    `json:"requestId"`
	TemplateID    int64     `json:"templateId"`
	TenantID      string    `json:"tenantId,omitempty"`
	Status        string    `json:"status"`
	NewInstanceID string    `json:"newInstanceId,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

type CheckInEvent struct {
	InstanceID     string    `json:"instanceId"`
	Status         string    `json:"status"`
	TotalPages     int       `json:"totalPages"`
	InstalledTools []string  `json:"installedTools"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

type ExportEvent struct {
	ExportID         int64     `json:"exportId"`
	InstanceID       string    `json:"instanceId"`
	BlueprintVersion string    `json:"blueprintVersion"`
	ValidationStatus string    `json:"validationStatus"`
	At               time.Time `json:"at"`
}

type DeclarationEvent struct {
	InstanceID       string    `json:"instanceId"`
	InstanceType     string    `json:"instanceType"`
	BlueprintVersion string    `json:"blueprintVersion"`
	Status           string    `json:"status"`
	At               time.Time `json:"at"`
}

// Noop discards every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

type Message struct {
	Subject string
	Payload any
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Publish(_ context.Context, subject string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Subject: subject, Payload: v})
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Subjects lists the subjects published so far, in order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Subject)
	}
	return out
}
