package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/bookpush/internal/store"
)

// ErrSubmissionNotFound indicates that the submission does not exist.
// The API layer maps it to 404.
var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionServiceError wraps unexpected errors from the submission service.
type SubmissionServiceError struct {
	// Operation is the operation that failed (e.g., "accept", "get")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for SubmissionServiceError.
func (e *SubmissionServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("submission service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *SubmissionServiceError) Unwrap() error {
	return e.Err
}

// NewSubmissionServiceError wraps err unless it maps to a service sentinel.
func NewSubmissionServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSubmissionNotFound) || errors.Is(err, store.ErrSubmissionNotFound) {
		return ErrSubmissionNotFound
	}
	return &SubmissionServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
