package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrAccountMissing = errors.New("associated Koyeb account not found")
	// ErrNoAccountAvailable is the capacity signal: no enabled account exists.
	ErrNoAccountAvailable = errors.New("no available Koyeb accounts")
	ErrAccountInUse       = errors.New("account still hosts deployments")
)

// ErrInvalidAction is returned for an action outside the supported set.
// It is a validation error.
var ErrInvalidAction error = &ValidationError{
	Field:   "action",
	Message: "Invalid action. Must be one of: pause, resume, redeploy, sync, delete",
}

// ValidationError reports malformed input. Message is safe to show to callers.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
