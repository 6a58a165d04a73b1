package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/bookpush/internal/api/shared"
	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/service"
	"github.com/phrazzld/bookpush/internal/service/auth"
	"github.com/phrazzld/bookpush/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Not found errors
	case errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, shared.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid):
		return "Invalid token"

	case errors.Is(err, auth.ErrMissingToken):
		return "Authorization header required"

	case errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Submission not found"

	case errors.Is(err, shared.ErrBodyTooLarge):
		return "Request body too large"

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid submission ID"

	case errors.Is(err, domain.ErrValidation):
		return SanitizeValidationError(err)

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid submission data"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validation failures into a message that
// names the offending request field without echoing its value.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", requestFieldName(fe.Field()), getValidationTagMessage(fe.Tag()))
	}

	if errors.Is(err, domain.ErrValidation) {
		// The decoder and domain messages carry no payload content.
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		if msg != "" && msg != err.Error() {
			return "Validation error: " + msg
		}
	}
	return "Validation error"
}

// ValidationFields lists the request fields that failed validation.
func ValidationFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, requestFieldName(fe.Field()))
	}
	return fields
}

// requestFieldName maps service field names back to the wire names the
// plugin sends.
func requestFieldName(field string) string {
	switch field {
	case "Payload":
		return FieldBookData
	case "Recipient":
		return FieldToMail
	case "ExternalID":
		return FieldEbookID
	case "Title":
		return FieldBookTitle
	case "SendType":
		return FieldSendType
	case "ClientVersion":
		return FieldVersion
	default:
		return field
	}
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "email":
		return "invalid email format"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err and logs the
// underlying error.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		msg = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err, ValidationFields(err)...)
}
