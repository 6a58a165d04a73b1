package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/store"
)

// SubmissionStore implements store.SubmissionStore in memory.
type SubmissionStore struct {
	mu          sync.RWMutex
	submissions map[string]*domain.Submission
	order       []string
	logger      *slog.Logger
}

// Compile-time check to ensure SubmissionStore implements store.SubmissionStore
var _ store.SubmissionStore = (*SubmissionStore)(nil)

// NewSubmissionStore creates an empty SubmissionStore.
func NewSubmissionStore(l *slog.Logger) *SubmissionStore {
	if l == nil {
		l = slog.Default()
	}
	return &SubmissionStore{
		submissions: make(map[string]*domain.Submission),
		logger:      l.With("store", "submission"),
	}
}

// Create implements store.SubmissionStore.
func (s *SubmissionStore) Create(ctx context.Context, submission *domain.Submission) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := submission.Validate(); err != nil {
		log.Warn("invalid submission", "error", err)
		return store.NewStoreError("submission", "create", "validation failed",
			errors.Join(store.ErrInvalidEntity, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.submissions[submission.ID]; exists {
		return store.NewStoreError("submission", "create", "duplicate id", store.ErrDuplicate)
	}
	c := cloneSubmission(submission)
	s.submissions[c.ID] = c
	s.order = append(s.order, c.ID)

	log.Debug("submission created", "submission_id", submission.ID)
	return nil
}

// GetByID implements store.SubmissionStore.
func (s *SubmissionStore) GetByID(_ context.Context, id string) (*domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, store.ErrSubmissionNotFound
	}
	return cloneSubmission(sub), nil
}

// UpdateStatus implements store.SubmissionStore. Status only moves forward;
// once complete or error it never changes again.
func (s *SubmissionStore) UpdateStatus(ctx context.Context, id string, status domain.SubmissionStatus) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return store.ErrSubmissionNotFound
	}
	from := sub.Status
	if err := sub.UpdateStatus(status); err != nil {
		log.Warn("rejected submission status change",
			"submission_id", id,
			"from", from,
			"to", status)
		return store.NewStoreError("submission", "update_status", "transition not allowed",
			errors.Join(store.ErrUpdateFailed, err))
	}
	return nil
}

// UpdateAttachment implements store.SubmissionStore.
func (s *SubmissionStore) UpdateAttachment(_ context.Context, id string, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return store.ErrSubmissionNotFound
	}
	sub.SetAttachment(path)
	return nil
}

// FindAttachmentByKey implements store.SubmissionStore. The most recent
// submission with a non-empty attachment wins.
func (s *SubmissionStore) FindAttachmentByKey(_ context.Context, key domain.ContentKey) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		sub := s.submissions[s.order[i]]
		if sub.Key() != key || sub.AttachmentRef == nil || *sub.AttachmentRef == "" {
			continue
		}
		return *sub.AttachmentRef, nil
	}
	return "", store.ErrSubmissionNotFound
}

// ListUnfinished implements store.SubmissionStore.
func (s *SubmissionStore) ListUnfinished(_ context.Context) ([]*domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subs []*domain.Submission
	for _, id := range s.order {
		sub := s.submissions[id]
		if !sub.Status.IsTerminal() {
			subs = append(subs, cloneSubmission(sub))
		}
	}
	return subs, nil
}

// Count returns the number of stored submissions.
func (s *SubmissionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.submissions)
}

func cloneSubmission(sub *domain.Submission) *domain.Submission {
	c := *sub
	if sub.AttachmentRef != nil {
		ref := *sub.AttachmentRef
		c.AttachmentRef = &ref
	}
	return &c
}

func now() time.Time {
	return time.Now().UTC()
}
