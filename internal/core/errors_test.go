package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Run("kind is matched through wrapping", func(t *testing.T) {
		err := fmt.Errorf("register: %w", Validation("templates.Register", "name is required"))
		assert.True(t, errors.Is(err, ErrValidation))
		assert.False(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, "register: templates.Register: name is required", err.Error())
	})

	t.Run("cause stays reachable", func(t *testing.T) {
		err := SyncTransport("sot.CheckIn", context.DeadlineExceeded)
		assert.True(t, errors.Is(err, ErrSyncTransport))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Contains(t, err.Error(), "sync transport failure")
	})

	t.Run("errors.As exposes the op", func(t *testing.T) {
		var ce *Error
		err := NotCloneable("clone.Request", "template %d is not cloneable", 7)
		assert.True(t, errors.As(err, &ce))
		assert.Equal(t, "clone.Request", ce.Op)
		assert.Equal(t, ErrTemplateNotCloneable, ce.Kind)
	})
}
