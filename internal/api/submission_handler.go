package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/bookpush/internal/api/shared"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/service"
)

// AcceptedMessage is returned with every accepted submission.
const AcceptedMessage = "Submission accepted; delivery continues in the background"

// SubmissionHandler serves the intake and status endpoints.
type SubmissionHandler struct {
	submissions service.SubmissionService
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(submissions service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// CreateSubmission handles POST /api/submissions. It answers as soon as the
// submission is recorded; processing outcomes are visible only through the
// status endpoint.
func (h *SubmissionHandler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	req, err := readSubmitRequest(w, r)
	if err != nil {
		if errors.Is(err, shared.ErrBodyTooLarge) {
			HandleAPIError(w, r, err, "")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	sub, err := h.submissions.Accept(r.Context(), service.SubmissionRequest{
		Payload:       req.BookData,
		Recipient:     strings.TrimSpace(req.ToMail),
		ExternalID:    req.EbookID,
		Title:         strings.TrimSpace(req.BookTitle),
		SendType:      req.SendType,
		ClientVersion: req.Version,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to accept submission")
		return
	}

	clientID, _ := shared.GetClientID(r.Context())
	logger.FromContext(r.Context()).Debug("submission queued",
		"submission_id", sub.ID,
		"client_id", clientID)

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitResponse{
		ID:      sub.ID,
		Status:  string(sub.Status),
		Message: AcceptedMessage,
	})
}

// GetSubmission handles GET /api/submissions/{id}.
func (h *SubmissionHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := h.submissions.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get submission")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, submissionToResponse(sub))
}

// readSubmitRequest accepts a JSON body or a form submission.
func readSubmitRequest(w http.ResponseWriter, r *http.Request) (*SubmitRequest, error) {
	var req SubmitRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := shared.DecodeJSON(w, r, &req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := shared.ParseForm(w, r); err != nil {
		return nil, err
	}
	req = SubmitRequest{
		BookData:  r.FormValue(FieldBookData),
		ToMail:    r.FormValue(FieldToMail),
		EbookID:   r.FormValue(FieldEbookID),
		BookTitle: r.FormValue(FieldBookTitle),
		SendType:  r.FormValue(FieldSendType),
		Version:   r.FormValue(FieldVersion),
	}
	return &req, nil
}
