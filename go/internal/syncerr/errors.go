// Package syncerr classifies synchronization failures, keeps a bounded log of
// them and drives per-context retries.
package syncerr

import (
	"fmt"
	"time"
)

// ErrorType is the closed taxonomy of sync failures.
type ErrorType string

const (
	ConnectionError ErrorType = "CONNECTION_ERROR"
	SaveError       ErrorType = "SAVE_ERROR"
	SyncFailure     ErrorType = "SYNC_ERROR"
	PermissionError ErrorType = "PERMISSION_ERROR"
	ValidationError ErrorType = "VALIDATION_ERROR"
	ConflictError   ErrorType = "CONFLICT_ERROR"
	UnknownError    ErrorType = "UNKNOWN_ERROR"
)

// ErrorTypes lists every type in a stable order.
func ErrorTypes() []ErrorType {
	return []ErrorType{
		ConnectionError,
		SaveError,
		SyncFailure,
		PermissionError,
		ValidationError,
		ConflictError,
		UnknownError,
	}
}

// SyncError is a classified failure.
type SyncError struct {
	Type      ErrorType `json:"type"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
	Retry     bool      `json:"retry"`
	Details   string    `json:"details,omitempty"`

	cause error
}

// New builds a SyncError of a known type. Retry follows the type's policy.
func New(t ErrorType, context string, cause error) *SyncError {
	se := &SyncError{Type: t, Context: context, Retry: IsRetryable(t), cause: cause}
	if cause != nil {
		se.Details = cause.Error()
	}
	return se
}

func (e *SyncError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s in %s", e.Type, e.Context)
	}
	return fmt.Sprintf("%s in %s: %s", e.Type, e.Context, e.Details)
}

func (e *SyncError) Unwrap() error {
	return e.cause
}

// Permanent returns a non-retryable copy, used when retries are exhausted.
func (e *SyncError) Permanent() *SyncError {
	out := *e
	out.Retry = false
	return &out
}
