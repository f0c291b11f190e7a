package core

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrTemplateNotCloneable = errors.New("template not cloneable")
	ErrVersionIncompatible  = errors.New("blueprint version incompatible")
	ErrProvisioning         = errors.New("provisioning failed")
	ErrSyncTransport        = errors.New("sync transport failure")
)

// Error carries a kind from the taxonomy above plus the operation that
// produced it. Both Kind and Err are visible to errors.Is / errors.As.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return newError(ErrValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newError(ErrNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return newError(ErrConflict, op, format, args...)
}

func NotCloneable(op, format string, args ...any) error {
	return newError(ErrTemplateNotCloneable, op, format, args...)
}

func VersionIncompatible(op, format string, args ...any) error {
	return newError(ErrVersionIncompatible, op, format, args...)
}

// Provisioning wraps a failure raised while materializing a clone.
func Provisioning(op string, err error) error {
	return &Error{Kind: ErrProvisioning, Op: op, Err: err}
}

// SyncTransport wraps a network or timeout failure talking to the SOT authority.
func SyncTransport(op string, err error) error {
	return &Error{Kind: ErrSyncTransport, Op: op, Err: err}
}
