package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/bookpush/internal/domain"
)

// StatusUpdater writes the status of a submission.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status domain.SubmissionStatus) error
}

// TerminalCallback is told about a submission that reached a terminal status.
type TerminalCallback func(ctx context.Context, submissionID string, status domain.SubmissionStatus)

// HookOption configures StatusHooks.
type HookOption func(*statusHooks)

// WithTerminalCallback registers cb to run after every successful status write.
func WithTerminalCallback(cb TerminalCallback) HookOption {
	return func(h *statusHooks) {
		h.callbacks = append(h.callbacks, cb)
	}
}

type statusHooks struct {
	updater   StatusUpdater
	logger    *slog.Logger
	callbacks []TerminalCallback
}

// StatusHooks binds job outcomes to the submission named by the job's
// status_target_id: success marks it complete, failure marks it error.
func StatusHooks(updater StatusUpdater, logger *slog.Logger, opts ...HookOption) Hooks {
	h := &statusHooks{
		updater: updater,
		logger:  logger.With("component", "status_hooks"),
	}
	for _, opt := range opts {
		opt(h)
	}

	return Hooks{
		OnSuccess: func(ctx context.Context, job *Job, _ Result) error {
			return h.mark(ctx, job, domain.SubmissionStatusComplete)
		},
		OnFailure: func(ctx context.Context, job *Job, _ *Failure) error {
			return h.mark(ctx, job, domain.SubmissionStatusError)
		},
	}
}

func (h *statusHooks) mark(ctx context.Context, job *Job, status domain.SubmissionStatus) error {
	if job.StatusTargetID == "" {
		return fmt.Errorf("job %s has no status target", job.ID)
	}

	if err := h.updater.UpdateStatus(ctx, job.StatusTargetID, status); err != nil {
		return fmt.Errorf("failed to mark submission %s %s: %w", job.StatusTargetID, status, err)
	}

	h.logger.Info("submission status updated",
		"job_id", job.ID,
		"job_kind", job.Kind,
		"submission_id", job.StatusTargetID,
		"status", status)

	for _, cb := range h.callbacks {
		cb(ctx, job.StatusTargetID, status)
	}
	return nil
}

// LogHooks only log terminal outcomes. Kinds whose result does not decide a
// submission's status use them.
func LogHooks(logger *slog.Logger) Hooks {
	return Hooks{
		OnSuccess: func(_ context.Context, job *Job, result Result) error {
			logger.Debug("job succeeded",
				"job_id", job.ID,
				"job_kind", job.Kind,
				"output", result.Output)
			return nil
		},
		OnFailure: func(_ context.Context, job *Job, failure *Failure) error {
			logger.Warn("job gave up",
				"job_id", job.ID,
				"job_kind", job.Kind,
				"status_target_id", job.StatusTargetID,
				"payload", string(job.Payload),
				"error", failure)
			return nil
		},
	}
}
