package domain

import (
	"errors"
	"strconv"
	"time"
)

// SubmissionStatus represents the end-to-end processing state of a submission
type SubmissionStatus string

// Possible submission status values
const (
	SubmissionStatusPending    SubmissionStatus = "pending"
	SubmissionStatusProcessing SubmissionStatus = "processing"
	SubmissionStatusComplete   SubmissionStatus = "complete"
	SubmissionStatusError      SubmissionStatus = "error"
)

// DefaultSendType is used when a submission does not name its content type.
const DefaultSendType = "article"

// Validation errors for Submission
var (
	ErrEmptySubmissionID  = errors.New("submission ID cannot be empty")
	ErrEmptyRecipient     = errors.New("submission recipient cannot be empty")
	ErrEmptyTitle         = errors.New("submission title cannot be empty")
	ErrNegativeContentLen = errors.New("submission content size cannot be negative")
)

// ContentKey identifies a piece of content for deduplication.
// Two keys are equal only when both fields match exactly.
type ContentKey struct {
	ExternalID string `json:"external_id"`
	Size       int    `json:"size"`
}

// String renders the key as "<external id>/<size>".
func (k ContentKey) String() string {
	return k.ExternalID + "/" + strconv.Itoa(k.Size)
}

// Submission is the persisted record tracking one accepted content submission
// from intake until its artifact is delivered or it fails.
type Submission struct {
	ID            string           `json:"id"`
	ExternalID    string           `json:"external_id"`
	ContentSize   int              `json:"content_size"`
	Recipient     string           `json:"recipient"`
	Title         string           `json:"title"`
	Author        string           `json:"author"`
	SendType      string           `json:"send_type"`
	ClientVersion string           `json:"client_version,omitempty"`
	Status        SubmissionStatus `json:"status"`
	AttachmentRef *string          `json:"attachment_ref,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewSubmission creates a pending Submission with a freshly generated ID.
func NewSubmission(key ContentKey, recipient, title, author string) (*Submission, error) {
	now := time.Now().UTC()
	s := &Submission{
		ID:          NewRecordID(),
		ExternalID:  key.ExternalID,
		ContentSize: key.Size,
		Recipient:   recipient,
		Title:       title,
		Author:      author,
		SendType:    DefaultSendType,
		Status:      SubmissionStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Key returns the content key used for deduplication.
func (s *Submission) Key() ContentKey {
	return ContentKey{ExternalID: s.ExternalID, Size: s.ContentSize}
}

// Validate checks if the Submission has valid data.
func (s *Submission) Validate() error {
	if s.ID == "" {
		return ErrEmptySubmissionID
	}
	if !IsRecordID(s.ID) {
		return ErrInvalidID
	}
	if s.Recipient == "" {
		return ErrEmptyRecipient
	}
	if s.Title == "" {
		return ErrEmptyTitle
	}
	if s.ContentSize < 0 {
		return ErrNegativeContentLen
	}
	if !IsValidSubmissionStatus(s.Status) {
		return ErrInvalidSubmissionStatus
	}
	return nil
}

// UpdateStatus moves the submission to status if the move is allowed by
// CanTransition and refreshes UpdatedAt.
func (s *Submission) UpdateStatus(status SubmissionStatus) error {
	if err := CanTransition(s.Status, status); err != nil {
		return err
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// SetAttachment records the artifact delivered for this submission.
func (s *Submission) SetAttachment(path string) {
	s.AttachmentRef = &path
	s.UpdatedAt = time.Now().UTC()
}

// IsTerminal reports whether status is complete or error.
func (st SubmissionStatus) IsTerminal() bool {
	return st == SubmissionStatusComplete || st == SubmissionStatusError
}

func (st SubmissionStatus) rank() int {
	switch st {
	case SubmissionStatusPending:
		return 0
	case SubmissionStatusProcessing:
		return 1
	case SubmissionStatusComplete, SubmissionStatusError:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a submission may move from one status to another.
// Moves go forward along pending → processing → {complete | error}. Repeating a
// non-terminal status is allowed, nothing leaves a terminal status.
func CanTransition(from, to SubmissionStatus) error {
	if !IsValidSubmissionStatus(from) || !IsValidSubmissionStatus(to) {
		return ErrInvalidSubmissionStatus
	}
	if from.IsTerminal() {
		return ErrInvalidTransition
	}
	if to.rank() < from.rank() {
		return ErrInvalidTransition
	}
	return nil
}

// IsValidSubmissionStatus checks if the given status is a known SubmissionStatus.
func IsValidSubmissionStatus(status SubmissionStatus) bool {
	return status.rank() >= 0
}

// IsZero reports whether the key carries no external identifier.
// Zero keys never match anything during deduplication.
func (k ContentKey) IsZero() bool {
	return k.ExternalID == ""
}
