package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/bookpush/internal/api/shared"
	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/service"
	"github.com/phrazzld/bookpush/internal/service/auth"
	"github.com/phrazzld/bookpush/internal/store"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{auth.ErrExpiredToken, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", auth.ErrInvalidToken), http.StatusUnauthorized},
		{service.ErrSubmissionNotFound, http.StatusNotFound},
		{service.NewSubmissionServiceError("get", "failed", store.ErrSubmissionNotFound), http.StatusNotFound},
		{shared.ErrBodyTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: bad", domain.ErrValidation), http.StatusBadRequest},
		{store.ErrInvalidEntity, http.StatusBadRequest},
		{errors.New("database exploded"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err), tc.err.Error())
	}
}

func TestGetSafeErrorMessage_HidesInternals(t *testing.T) {
	t.Parallel()

	msg := GetSafeErrorMessage(errors.New("pq: password authentication failed for user bookpush"))
	assert.Equal(t, "An unexpected error occurred", msg)
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "Submission not found", GetSafeErrorMessage(service.ErrSubmissionNotFound))
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	v := validator.New()
	err := v.Struct(service.SubmissionRequest{Payload: "x", Recipient: "secret-address", Title: "T"})
	require.Error(t, err)
	wrapped := fmt.Errorf("%w: %w", domain.ErrValidation, err)

	assert.Equal(t, "Invalid toMail: invalid email format", SanitizeValidationError(wrapped))
	assert.Equal(t, []string{FieldToMail}, ValidationFields(wrapped))
	assert.NotContains(t, SanitizeValidationError(wrapped), "secret-address")

	plain := fmt.Errorf("%w: %w", domain.ErrValidation, errors.New("content has no posts"))
	assert.Equal(t, "Validation error: content has no posts", SanitizeValidationError(plain))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("other")))
}
