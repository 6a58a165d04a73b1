// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrEmptyContent is returned when required content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidSubmissionStatus is returned when a submission status is not valid.
	ErrInvalidSubmissionStatus = errors.New("invalid submission status")

	// ErrInvalidTransition is returned when a status change would move a
	// submission backwards or out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
)
