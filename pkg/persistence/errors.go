package persistence

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every persistence implementation. Callers match
// them with errors.Is regardless of the backing store.
var (
	ErrFlowNotFound     = errors.New("flow not found")
	ErrVersionNotFound  = errors.New("flow version not found")
	ErrNoActiveVersion  = errors.New("flow has no active version")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrWaitNotFound     = errors.New("wait timer not found")
	ErrDuplicateVersion = errors.New("flow version already exists")
)

// FlowError wraps an underlying storage failure with the flow it concerns.
type FlowError struct {
	FlowID string
	Op     string
	Err    error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("flow %s: %s: %v", e.FlowID, e.Op, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// NewFlowError wraps err with flow context. Returns nil when err is nil so
// call sites can wrap unconditionally.
func NewFlowError(flowID, op string, err error) error {
	if err == nil {
		return nil
	}

	return &FlowError{FlowID: flowID, Op: op, Err: err}
}

// SessionError wraps an underlying storage failure with the session it
// concerns.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func NewSessionError(sessionID, op string, err error) error {
	if err == nil {
		return nil
	}

	return &SessionError{SessionID: sessionID, Op: op, Err: err}
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrNoActiveVersion) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrWaitNotFound)
}
