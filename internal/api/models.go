package api

import (
	"time"

	"github.com/phrazzld/bookpush/internal/domain"
)

// Wire names of the intake fields, shared by the JSON and form encodings.
const (
	FieldBookData  = "bookData"
	FieldToMail    = "toMail"
	FieldEbookID   = "ebookId"
	FieldBookTitle = "bookTitle"
	FieldSendType  = "sendType"
	FieldVersion   = "version"
)

// SubmitRequest is the intake payload sent by the browser plugin.
type SubmitRequest struct {
	BookData  string `json:"bookData"`
	ToMail    string `json:"toMail"`
	EbookID   string `json:"ebookId"`
	BookTitle string `json:"bookTitle"`
	SendType  string `json:"sendType"`
	Version   string `json:"version"`
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SubmissionResponse is the out-of-band status of a submission.
type SubmissionResponse struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"ebookId,omitempty"`
	Title      string    `json:"bookTitle"`
	Status     string    `json:"status"`
	Finished   bool      `json:"finished"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func submissionToResponse(s *domain.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:         s.ID,
		ExternalID: s.ExternalID,
		Title:      s.Title,
		Status:     string(s.Status),
		Finished:   s.Status.IsTerminal(),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}
