package clone

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/leozw/blueprint-sot/internal/core"
)

var validate = validator.New()

// Request asks for a new instance seeded from a template. TenantID names the
// tenant that will own the new instance; a fresh one is generated when empty.
type Request struct {
	RequestID     string `json:"requestId" validate:"omitempty,max=128"`
	TemplateID    int64  `json:"templateId" validate:"required,gt=0"`
	InstanceName  string `json:"instanceName" validate:"required,max=200"`
	AdminEmail    string `json:"adminEmail" validate:"required,email"`
	AdminPassword string `json:"adminPassword" validate:"required,min=8"`
	TenantID      string `json:"tenantId" validate:"omitempty,max=128"`
	Actor         string `json:"-"`
	Override      bool   `json:"override"`
}

func (r *Request) normalize() {
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.InstanceName = strings.TrimSpace(r.InstanceName)
	r.AdminEmail = strings.TrimSpace(r.AdminEmail)
	r.TenantID = strings.TrimSpace(r.TenantID)
}

func (r *Request) validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return core.Validation("clone.RequestClone", "%v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return core.Validation("clone.RequestClone", "%s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// OverridePolicy decides whether an actor may clone a template that is not
// marked cloneable. Inactive templates are never clonable, whatever the
// policy says.
type OverridePolicy interface {
	AllowOverride(ctx context.Context, actor string, t *core.Template) bool
}

// DenyOverrides is the default policy.
type DenyOverrides struct{}

func (DenyOverrides) AllowOverride(context.Context, string, *core.Template) bool { return false }

// AllowActors grants overrides to a fixed set of actors.
type AllowActors map[string]bool

func (a AllowActors) AllowOverride(_ context.Context, actor string, _ *core.Template) bool {
	return actor != "" && a[actor]
}
