package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("invalid argument")
	ErrAttachment       = errors.New("attachment failure")
	ErrInvariant        = errors.New("invariant violation")
	ErrExhaustedRetries = errors.New("exhausted retries")
	ErrUnauthorized     = errors.New("unauthorized")
)

// NotFoundError indicates a document, revision or attachment is absent.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}
func (e *NotFoundError) StatusCode() int      { return http.StatusNotFound }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is an optimistic concurrency violation. The caller can
// re-read and retry.
type ConflictError struct {
	Resource string
	ID       string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Resource, e.ID, e.Message)
}
func (e *ConflictError) StatusCode() int      { return http.StatusConflict }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ValidationError indicates malformed input: bad revision histories, reserved
// body fields, invalid ids. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
func (e *ValidationError) StatusCode() int      { return http.StatusBadRequest }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// AttachmentError means the blob store could not persist or locate a blob.
type AttachmentError struct {
	Name string
	Op   string
	Err  error
}

func (e *AttachmentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("attachment %q: %s failed", e.Name, e.Op)
	}
	return fmt.Sprintf("attachment %q: %s: %v", e.Name, e.Op, e.Err)
}
func (e *AttachmentError) StatusCode() int      { return http.StatusInternalServerError }
func (e *AttachmentError) Is(target error) bool { return target == ErrAttachment }
func (e *AttachmentError) Unwrap() error        { return e.Err }

// InvariantError reports a broken revision tree. It indicates a bug and is
// never retried.
type InvariantError struct {
	DocID   string
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation on %q: %s", e.DocID, e.Message)
}
func (e *InvariantError) StatusCode() int      { return http.StatusInternalServerError }
func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// UnauthorizedError indicates authentication failure
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string        { return e.Message }
func (e *UnauthorizedError) StatusCode() int      { return http.StatusUnauthorized }
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// NewValidationError is a shorthand for a field-scoped ValidationError.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
