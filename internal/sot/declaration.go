package sot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/events"
)

var validate = validator.New()

type DeclareRequest struct {
	InstanceID       string   `json:"instanceId" validate:"required,max=128"`
	InstanceType     string   `json:"instanceType" validate:"required"`
	BlueprintVersion string   `json:"blueprintVersion" validate:"required"`
	ToolsSupported   []string `json:"toolsSupported"`
	CallbackURL      string   `json:"callbackUrl" validate:"required,url"`
	IsTemplate       bool     `json:"isTemplate"`
	IsCloneable      bool     `json:"isCloneable"`
}

type DeclareResult struct {
	Declaration *core.SotDeclaration `json:"declaration"`
	Pushed      bool                 `json:"pushed"`
	Error       string               `json:"error,omitempty"`
}

// Declare upserts the local declaration and pushes the full document to the
// authority. The local row survives a failed push; the failure is recorded
// in the sync log and the declaration stays pending until a check-in
// succeeds.
func (e *Engine) Declare(ctx context.Context, req DeclareRequest) (*DeclareResult, error) {
	const op = "sot.Declare"

	d, err := req.declaration()
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(d.InstanceID)
	defer unlock()

	if err := e.store.UpsertDeclaration(ctx, d); err != nil {
		return nil, err
	}

	logger := e.logger.With(zap.String("instance_id", d.InstanceID), zap.String("instance_type", string(d.InstanceType)))

	profile, err := e.store.GetClientProfile(ctx, d.InstanceID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	doc := BuildDeclarationDocument(d, profile, e.cfg, e.now())
	tenantID := ""
	if profile != nil {
		tenantID = profile.TenantID
	}

	actx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	_, pushErr := e.authority.Declare(actx, doc)
	cancel()

	result := &DeclareResult{Declaration: d, Pushed: pushErr == nil}
	status := core.SyncSuccess

	if pushErr != nil {
		if !errors.Is(pushErr, core.ErrSyncTransport) {
			pushErr = core.SyncTransport(op, pushErr)
		}
		status = core.SyncFailure
		result.Error = pushErr.Error()

		entry := &core.SotSyncLog{
			InstanceID: d.InstanceID,
			EventType:  core.SyncEventDeclaration,
			Status:     core.SyncFailure,
			Details: core.SyncDetails{
				Message: "declaration push failed",
				Error:   pushErr.Error(),
			},
			CreatedAt: e.now(),
		}
		wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
		if err := e.store.AppendSyncLog(wctx, entry); err != nil {
			logger.Error("Failed to record declaration failure", zap.Error(err))
		}
		wcancel()
		logger.Warn("Declaration push failed", zap.Error(pushErr))
	} else {
		logger.Info("Instance declared", zap.String("blueprint_version", d.BlueprintVersion))
	}

	if e.metrics != nil {
		e.metrics.RecordDeclaration(tenantID, d.InstanceID, status)
	}
	if e.cache != nil {
		if err := e.cache.InvalidateHealth(ctx, d.InstanceID); err != nil {
			logger.Debug("Failed to invalidate health cache", zap.Error(err))
		}
	}

	if pushErr == nil {
		err := e.publisher.Publish(ctx, events.SubjectDeclared, events.DeclarationEvent{
			InstanceID:       d.InstanceID,
			InstanceType:     string(d.InstanceType),
			BlueprintVersion: d.BlueprintVersion,
			Status:           string(d.Status),
			At:               e.now(),
		})
		if err != nil {
			logger.Warn("Failed to publish declaration event", zap.Error(err))
		}
	}
	return result, nil
}

// Declaration returns the stored declaration for instanceID.
func (e *Engine) Declaration(ctx context.Context, instanceID string) (*core.SotDeclaration, error) {
	return e.store.GetDeclaration(ctx, instanceID)
}

func (r DeclareRequest) declaration() (*core.SotDeclaration, error) {
	const op = "sot.Declare"

	r.InstanceID = strings.TrimSpace(r.InstanceID)
	r.CallbackURL = strings.TrimRight(strings.TrimSpace(r.CallbackURL), "/")
	r.BlueprintVersion = strings.TrimSpace(r.BlueprintVersion)

	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, core.Validation(op, "%v", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return nil, core.Validation(op, "%s", strings.Join(msgs, "; "))
	}

	instanceType, err := core.ParseInstanceType(r.InstanceType)
	if err != nil {
		return nil, err
	}
	if _, ok := core.CanonicalVersion(r.BlueprintVersion); !ok {
		return nil, core.Validation(op, "invalid blueprint version %q", r.BlueprintVersion)
	}

	return &core.SotDeclaration{
		InstanceID:       r.InstanceID,
		InstanceType:     instanceType,
		BlueprintVersion: r.BlueprintVersion,
		ToolsSupported:   core.StringSlice(normalizeTools(r.ToolsSupported)),
		CallbackURL:      r.CallbackURL,
		IsTemplate:       r.IsTemplate || instanceType == core.InstanceTemplate,
		IsCloneable:      r.IsCloneable,
	}, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be an absolute URL", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// DeclareLocal declares the instance this process runs as, using the values
// from configuration.
func (e *Engine) DeclareLocal(ctx context.Context, req DeclareRequest, retryEvery time.Duration, attempts int) (*DeclareResult, error) {
	var (
		res *DeclareResult
		err error
	)
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		res, err = e.Declare(ctx, req)
		if err != nil || res.Pushed || i == attempts-1 {
			return res, err
		}
		select {
		case <-ctx.Done():
			return res, nil
		case <-time.After(retryEvery):
		}
	}
	return res, err
}
