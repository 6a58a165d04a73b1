package store

import (
	"context"

	"github.com/phrazzld/bookpush/internal/domain"
)

// SubmissionStore defines the interface for submission record persistence.
type SubmissionStore interface {
	// Create saves a new submission to the store.
	// Returns validation errors from the domain Submission if data is invalid.
	Create(ctx context.Context, submission *domain.Submission) error

	// GetByID retrieves a submission by its ID.
	// Returns ErrSubmissionNotFound if the submission does not exist.
	GetByID(ctx context.Context, id string) (*domain.Submission, error)

	// UpdateStatus moves a submission to the given status.
	// Returns ErrSubmissionNotFound if the submission does not exist and
	// domain.ErrInvalidTransition if the move would leave a terminal status
	// or go backwards.
	UpdateStatus(ctx context.Context, id string, status domain.SubmissionStatus) error

	// UpdateAttachment records the artifact path delivered for a submission.
	// Returns ErrSubmissionNotFound if the submission does not exist.
	UpdateAttachment(ctx context.Context, id string, path string) error

	// FindAttachmentByKey returns the most recent non-empty attachment recorded
	// for a submission with exactly the given content key.
	// Returns ErrNotFound if there is none.
	FindAttachmentByKey(ctx context.Context, key domain.ContentKey) (string, error)

	// ListUnfinished returns the submissions that are still pending or
	// processing, oldest first.
	ListUnfinished(ctx context.Context) ([]*domain.Submission, error)
}
