package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/task"
)

// SubmissionRepository is the part of store.SubmissionStore the service uses.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *domain.Submission) error
	GetByID(ctx context.Context, id string) (*domain.Submission, error)
}

// PayloadDecoder turns the raw book data into posts.
type PayloadDecoder interface {
	Decode(raw string) (*domain.Content, error)
}

// WorkStarter begins background processing of an accepted submission.
// Start must return without waiting for the work.
type WorkStarter interface {
	Start(w task.Work)
}

// SubmissionRequest is one intake request from the browser plugin.
type SubmissionRequest struct {
	Payload       string `validate:"required"`
	Recipient     string `validate:"required,email"`
	ExternalID    string `validate:"max=255"`
	Title         string `validate:"required,max=512"`
	SendType      string `validate:"omitempty,max=64"`
	ClientVersion string `validate:"omitempty,max=64"`
}

// SubmissionService accepts submissions and reports their status.
type SubmissionService interface {
	// Accept validates and records req, then starts processing it in the
	// background. Invalid requests return an error wrapping
	// domain.ErrValidation and create nothing.
	Accept(ctx context.Context, req SubmissionRequest) (*domain.Submission, error)

	// Get returns the submission with id or ErrSubmissionNotFound.
	Get(ctx context.Context, id string) (*domain.Submission, error)
}

type submissionServiceImpl struct {
	submissions SubmissionRepository
	decoder     PayloadDecoder
	starter     WorkStarter
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewSubmissionService creates a SubmissionService. It returns an error if
// any dependency is nil.
func NewSubmissionService(
	submissions SubmissionRepository,
	decoder PayloadDecoder,
	starter WorkStarter,
	l *slog.Logger,
) (SubmissionService, error) {
	switch {
	case submissions == nil:
		return nil, &SubmissionServiceError{Operation: "create_service", Message: "submissions cannot be nil"}
	case decoder == nil:
		return nil, &SubmissionServiceError{Operation: "create_service", Message: "decoder cannot be nil"}
	case starter == nil:
		return nil, &SubmissionServiceError{Operation: "create_service", Message: "starter cannot be nil"}
	}
	if l == nil {
		l = slog.Default()
	}
	return &submissionServiceImpl{
		submissions: submissions,
		decoder:     decoder,
		starter:     starter,
		validate:    validator.New(),
		logger:      l.With(slog.String("component", "submission_service")),
	}, nil
}

// Accept implements SubmissionService.
func (s *submissionServiceImpl) Accept(ctx context.Context, req SubmissionRequest) (*domain.Submission, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := s.validate.Struct(req); err != nil {
		log.Debug("submission request rejected", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	content, err := s.decoder.Decode(req.Payload)
	if err != nil {
		log.Debug("submission payload rejected", "error", err, "payload_size", len(req.Payload))
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	last, err := content.Last()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	key := domain.ContentKey{ExternalID: req.ExternalID, Size: len(req.Payload)}
	sub, err := domain.NewSubmission(key, req.Recipient, req.Title, last.OrigAuthor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if req.SendType != "" {
		sub.SendType = req.SendType
	}
	sub.ClientVersion = req.ClientVersion

	if err := s.submissions.Create(ctx, sub); err != nil {
		log.Error("failed to record submission", "submission_id", sub.ID, "error", err)
		return nil, NewSubmissionServiceError("accept", "failed to record submission", err)
	}

	work := *sub
	s.starter.Start(task.Work{
		Submission: &work,
		Posts:      content.Posts,
		Subtitle:   last.Subtitle,
	})

	log.Info("submission accepted",
		"submission_id", sub.ID,
		"content_key", key.String(),
		"posts", len(content.Posts),
		"send_type", sub.SendType,
		"client_version", sub.ClientVersion)
	return sub, nil
}

// Get implements SubmissionService.
func (s *submissionServiceImpl) Get(ctx context.Context, id string) (*domain.Submission, error) {
	if !domain.IsRecordID(id) {
		return nil, ErrSubmissionNotFound
	}
	sub, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return nil, NewSubmissionServiceError("get", "failed to load submission", err)
	}
	return sub, nil
}
