package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/platform/memory"
	"github.com/phrazzld/bookpush/internal/platform/payload"
	"github.com/phrazzld/bookpush/internal/task"
)

type recordingStarter struct {
	mu    sync.Mutex
	works []task.Work
}

func (s *recordingStarter) Start(w task.Work) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.works = append(s.works, w)
}

func (s *recordingStarter) started() []task.Work {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.Work(nil), s.works...)
}

type failingRepository struct {
	err error
}

func (r failingRepository) Create(context.Context, *domain.Submission) error { return r.err }
func (r failingRepository) GetByID(context.Context, string) (*domain.Submission, error) {
	return nil, r.err
}

type fixture struct {
	svc     SubmissionService
	store   *memory.SubmissionStore
	starter *recordingStarter
	decoder *payload.Decoder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	decoder, err := payload.NewDecoder("")
	require.NoError(t, err)
	st := memory.NewSubmissionStore(logger.Discard())
	starter := &recordingStarter{}
	svc, err := NewSubmissionService(st, decoder, starter, logger.Discard())
	require.NoError(t, err)
	return fixture{svc: svc, store: st, starter: starter, decoder: decoder}
}

func (f fixture) encode(t *testing.T) string {
	t.Helper()
	raw, err := f.decoder.Encode(domain.Content{Posts: []domain.Post{
		{Title: "First", OrigAuthor: "Someone", Content: "<p>a</p>"},
		{Title: "Last", Subtitle: "The Sub", OrigAuthor: "Ann Author", Content: "<p>b</p>"},
	}})
	require.NoError(t, err)
	return raw
}

func TestAcceptRecordsAndStarts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	raw := f.encode(t)

	sub, err := f.svc.Accept(context.Background(), SubmissionRequest{
		Payload:       raw,
		Recipient:     "reader@kindle.example.com",
		ExternalID:    "1234",
		Title:         "My Book",
		ClientVersion: "2.1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SubmissionStatusPending, sub.Status)
	assert.Equal(t, "Ann Author", sub.Author)
	assert.Equal(t, domain.DefaultSendType, sub.SendType)
	assert.Equal(t, "2.1", sub.ClientVersion)
	assert.Equal(t, domain.ContentKey{ExternalID: "1234", Size: len(raw)}, sub.Key())

	stored, err := f.store.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Recipient, stored.Recipient)

	works := f.starter.started()
	require.Len(t, works, 1)
	assert.Equal(t, sub.ID, works[0].Submission.ID)
	assert.Equal(t, "The Sub", works[0].Subtitle)
	assert.Len(t, works[0].Posts, 2)
	assert.NotSame(t, sub, works[0].Submission)
}

func TestAcceptKeepsSendType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub, err := f.svc.Accept(context.Background(), SubmissionRequest{
		Payload:   f.encode(t),
		Recipient: "reader@example.com",
		Title:     "T",
		SendType:  "book",
	})
	require.NoError(t, err)
	assert.Equal(t, "book", sub.SendType)
	assert.True(t, sub.Key().IsZero())
}

func TestAcceptRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	valid := func(f fixture, t *testing.T) SubmissionRequest {
		return SubmissionRequest{Payload: f.encode(t), Recipient: "reader@example.com", Title: "Title"}
	}

	tests := []struct {
		name   string
		mutate func(*SubmissionRequest)
	}{
		{name: "missing recipient", mutate: func(r *SubmissionRequest) { r.Recipient = "" }},
		{name: "bad recipient", mutate: func(r *SubmissionRequest) { r.Recipient = "not-an-address" }},
		{name: "missing title", mutate: func(r *SubmissionRequest) { r.Title = "" }},
		{name: "missing payload", mutate: func(r *SubmissionRequest) { r.Payload = "" }},
		{name: "undecodable payload", mutate: func(r *SubmissionRequest) { r.Payload = "@@not base64@@" }},
		{name: "no posts", mutate: func(r *SubmissionRequest) { r.Payload = `{"posts":[]}` }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			req := valid(f, t)
			tc.mutate(&req)

			sub, err := f.svc.Accept(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Nil(t, sub)
			assert.Zero(t, f.store.Count())
			assert.Empty(t, f.starter.started())
		})
	}
}

func TestAcceptStoreFailure(t *testing.T) {
	t.Parallel()

	decoder, err := payload.NewDecoder("")
	require.NoError(t, err)
	starter := &recordingStarter{}
	svc, err := NewSubmissionService(failingRepository{err: errors.New("db down")}, decoder, starter, logger.Discard())
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), SubmissionRequest{
		Payload:   `{"posts":[{"title":"x"}]}`,
		Recipient: "reader@example.com",
		Title:     "T",
	})
	var svcErr *SubmissionServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "accept", svcErr.Operation)
	assert.Empty(t, starter.started())
}

func TestGet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub, err := f.svc.Accept(context.Background(), SubmissionRequest{
		Payload:   f.encode(t),
		Recipient: "reader@example.com",
		Title:     "T",
	})
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = f.svc.Get(context.Background(), domain.NewRecordID())
	assert.ErrorIs(t, err, ErrSubmissionNotFound)

	_, err = f.svc.Get(context.Background(), "../etc")
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestNewSubmissionServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	decoder, err := payload.NewDecoder("")
	require.NoError(t, err)
	st := memory.NewSubmissionStore(nil)

	_, err = NewSubmissionService(nil, decoder, &recordingStarter{}, nil)
	assert.Error(t, err)
	_, err = NewSubmissionService(st, nil, &recordingStarter{}, nil)
	assert.Error(t, err)
	_, err = NewSubmissionService(st, decoder, nil, nil)
	assert.Error(t, err)
}
