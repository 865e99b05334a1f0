// Package services implements the application services behind the HTTP API:
// flow management, instance management, and the log viewer.
package services

import (
	"errors"
	"fmt"

	"github.com/flowzap/flowzap/pkg/flow"
	"github.com/flowzap/flowzap/pkg/persistence"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidDirection     = errors.New("invalid log direction")
	ErrInvalidLogStatus     = errors.New("invalid log status")
	ErrOrganizationRequired = errors.New("organization id is required")

	// Conflicts (409 Conflict).
	ErrInstanceConnected = errors.New("instance is already connected")
)

// ServiceError wraps service-level errors with operation context and an API
// error code.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks whether an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDirection) ||
		errors.Is(err, ErrInvalidLogStatus) ||
		errors.Is(err, ErrOrganizationRequired) ||
		flow.IsValidationError(err)
}

// IsConflictError checks whether an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, persistence.ErrDuplicateVersion) ||
		errors.Is(err, ErrInstanceConnected)
}

// IsNotFoundError checks whether an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Message: message, Err: err}
}
