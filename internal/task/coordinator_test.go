package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/platform/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeline struct {
	coordinator *Coordinator
	submissions *memory.SubmissionStore
	books       *memory.BookStore
	fetcher     *fakeFetcher
	renderer    *fakeRenderer
	converter   *fakeConverter
	deliverer   *fakeDeliverer
	config      CoordinatorConfig
}

func newPipeline(t *testing.T, fetcher *fakeFetcher, renderer *fakeRenderer, converter *fakeConverter, coverTemplate string) *pipeline {
	t.Helper()

	logger := setupTestLogger()
	submissions := memory.NewSubmissionStore(logger)
	books := memory.NewBookStore(logger)
	deliverer := newFakeDeliverer()

	d, _ := startDispatcher(t,
		AssetFetchDefinition(fetcher, fastPolicy(), LogHooks(logger)),
		NotifyDefinition(deliverer, fastPolicy(), StatusHooks(submissions, logger)),
	)

	root := t.TempDir()
	cfg := CoordinatorConfig{
		DataDir:          filepath.Join(root, "data"),
		OutDir:           filepath.Join(root, "out"),
		CoverDir:         filepath.Join(root, "covers"),
		CoverURLTemplate: coverTemplate,
	}

	c := NewCoordinator(d, submissions, books, NewGate(books, submissions, logger), renderer, converter, cfg, logger)
	return &pipeline{
		coordinator: c,
		submissions: submissions,
		books:       books,
		fetcher:     fetcher,
		renderer:    renderer,
		converter:   converter,
		deliverer:   deliverer,
		config:      cfg,
	}
}

func (p *pipeline) accept(t *testing.T, key domain.ContentKey) Work {
	t.Helper()
	sub, err := domain.NewSubmission(key, "reader@example.com", "Title", "Author")
	require.NoError(t, err)
	require.NoError(t, p.submissions.Create(context.Background(), sub))
	return Work{
		Submission: sub,
		Posts:      []domain.Post{{Title: "Chapter", Content: "<p>text</p>"}},
		Subtitle:   "Sub",
	}
}

func (p *pipeline) awaitStatus(t *testing.T, id string, want domain.SubmissionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		sub, err := p.submissions.GetByID(context.Background(), id)
		return err == nil && sub.Status == want
	}, 5*time.Second, 5*time.Millisecond, "submission never reached %s", want)
}

func (p *pipeline) awaitDelivery(t *testing.T) string {
	t.Helper()
	select {
	case path := <-p.deliverer.delivered:
		return path
	case <-time.After(5 * time.Second):
		t.Fatal("notification was never delivered")
		return ""
	}
}

func TestCoordinator_NoAssets(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, newFakeFetcher(), &fakeRenderer{}, &fakeConverter{}, "")
	w := p.accept(t, domain.ContentKey{ExternalID: "100", Size: 512})

	p.coordinator.Run(context.Background(), w)

	artifact := p.awaitDelivery(t)
	p.awaitStatus(t, w.Submission.ID, domain.SubmissionStatusComplete)

	assert.Equal(t, filepath.Join(p.config.OutDir, "100", "512", "Title.mobi"), artifact)
	assert.Equal(t, int32(1), p.renderer.calls.Load())
	assert.Equal(t, int32(1), p.converter.calls.Load())
	assert.Equal(t, int32(1), p.deliverer.count.Load())
	assert.Zero(t, p.fetcher.totalCalls())

	sub, err := p.submissions.GetByID(context.Background(), w.Submission.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.AttachmentRef)
	assert.Equal(t, artifact, *sub.AttachmentRef)

	book, err := p.books.FindByKey(context.Background(), w.Submission.Key())
	require.NoError(t, err)
	assert.Equal(t, artifact, book.FilePath)
	assert.Equal(t, "Sub", book.Subtitle)
}

func TestCoordinator_Deduplication(t *testing.T) {
	t.Parallel()

	asset := "https://img.example.com/a.png"
	p := newPipeline(t, newFakeFetcher(), &fakeRenderer{assets: []string{asset}}, &fakeConverter{}, "")
	key := domain.ContentKey{ExternalID: "200", Size: 1024}

	first := p.accept(t, key)
	p.coordinator.Run(context.Background(), first)
	firstArtifact := p.awaitDelivery(t)
	p.awaitStatus(t, first.Submission.ID, domain.SubmissionStatusComplete)

	second := p.accept(t, key)
	p.coordinator.Run(context.Background(), second)
	secondArtifact := p.awaitDelivery(t)
	p.awaitStatus(t, second.Submission.ID, domain.SubmissionStatusComplete)

	assert.Equal(t, firstArtifact, secondArtifact)
	assert.Equal(t, 1, p.fetcher.callCount(asset), "second submission must not fetch again")
	assert.Equal(t, int32(1), p.renderer.calls.Load())
	assert.Equal(t, int32(1), p.converter.calls.Load())
	assert.Equal(t, int32(2), p.deliverer.count.Load())
	assert.Equal(t, 1, p.books.Count())
}

func TestCoordinator_FailedAssetStillConverts(t *testing.T) {
	t.Parallel()

	good, bad := "https://img.example.com/good.png", "https://img.example.com/bad.png"
	p := newPipeline(t, newFakeFetcher(bad), &fakeRenderer{assets: []string{good, bad}}, &fakeConverter{}, "")
	w := p.accept(t, domain.ContentKey{ExternalID: "300", Size: 10})

	p.coordinator.Run(context.Background(), w)

	// Run returns only after the batch resolved, so every attempt has happened
	assert.Equal(t, DefaultMaxAttempts, p.fetcher.callCount(bad))
	assert.Equal(t, 1, p.fetcher.callCount(good))
	assert.Equal(t, int32(1), p.converter.calls.Load())

	p.awaitDelivery(t)
	p.awaitStatus(t, w.Submission.ID, domain.SubmissionStatusComplete)
}

func TestCoordinator_FetchesCover(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, newFakeFetcher(), &fakeRenderer{}, &fakeConverter{}, "https://img.example.com/covers/{id}-{type}.jpg")
	w := p.accept(t, domain.ContentKey{ExternalID: "400", Size: 3})

	p.coordinator.Run(context.Background(), w)
	p.awaitStatus(t, w.Submission.ID, domain.SubmissionStatusComplete)

	assert.Equal(t, 1, p.fetcher.callCount("https://img.example.com/covers/400-article.jpg"))

	book, err := p.books.FindByKey(context.Background(), w.Submission.Key())
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/covers/400-article.jpg", book.CoverURL)
	assert.Equal(t, p.config.CoverDir+"/covers/400-article.jpg", book.CoverPath)
}

func TestCoordinator_StageFailuresMarkError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		renderer  *fakeRenderer
		converter *fakeConverter
	}{
		{name: "render fails", renderer: &fakeRenderer{err: errors.New("bad html")}, converter: &fakeConverter{}},
		{name: "convert fails", renderer: &fakeRenderer{}, converter: &fakeConverter{err: errors.New("converter exited 1")}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := newPipeline(t, newFakeFetcher(), tc.renderer, tc.converter, "")
			w := p.accept(t, domain.ContentKey{ExternalID: "500", Size: 1})

			p.coordinator.Run(context.Background(), w)

			sub, err := p.submissions.GetByID(context.Background(), w.Submission.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.SubmissionStatusError, sub.Status)
			assert.Nil(t, sub.AttachmentRef)
			assert.Zero(t, p.deliverer.count.Load())
		})
	}
}

// Once complete, a submission keeps its status even if a late failure is
// reported for it.
func TestCoordinator_TerminalStatusIsFinal(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, newFakeFetcher(), &fakeRenderer{}, &fakeConverter{}, "")
	w := p.accept(t, domain.ContentKey{ExternalID: "600", Size: 1})

	p.coordinator.Run(context.Background(), w)
	p.awaitStatus(t, w.Submission.ID, domain.SubmissionStatusComplete)

	p.coordinator.markError(context.Background(), setupTestLogger(), w.Submission.ID)

	sub, err := p.submissions.GetByID(context.Background(), w.Submission.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusComplete, sub.Status)
}

func TestCoordinator_StartAndWait(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, newFakeFetcher(), &fakeRenderer{}, &fakeConverter{}, "")
	w := p.accept(t, domain.ContentKey{ExternalID: "700", Size: 1})

	p.coordinator.Start(w)
	require.NoError(t, p.coordinator.Wait(waitCtx(t)))

	p.awaitDelivery(t)
	p.awaitStatus(t, w.Submission.ID, domain.SubmissionStatusComplete)
}

func TestCoordinator_FailOrphaned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := setupTestLogger()
	submissions := memory.NewSubmissionStore(logger)
	books := memory.NewBookStore(logger)
	jobs := NewMemoryJobStore()

	create := func(status domain.SubmissionStatus) *domain.Submission {
		sub, err := domain.NewSubmission(domain.ContentKey{ExternalID: domain.NewRecordID(), Size: 1}, "reader@example.com", "Title", "Author")
		require.NoError(t, err)
		require.NoError(t, submissions.Create(ctx, sub))
		if status != domain.SubmissionStatusPending {
			require.NoError(t, submissions.UpdateStatus(ctx, sub.ID, status))
		}
		return sub
	}

	neverStarted := create(domain.SubmissionStatusPending)
	midBuild := create(domain.SubmissionStatusProcessing)
	awaitingNotify := create(domain.SubmissionStatusProcessing)
	notifying := create(domain.SubmissionStatusProcessing)
	done := create(domain.SubmissionStatusComplete)

	// Asset jobs alone cannot finish a submission
	asset, err := NewJob(KindAssetFetch, AssetFetchPayload{StatusTargetID: midBuild.ID, URL: "http://example.com/a.png", Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, jobs.SaveJob(ctx, asset))

	queued, err := NewJob(KindNotify, NotifyPayload{StatusTargetID: awaitingNotify.ID, AttachmentPath: "/out/a.mobi", Recipient: "reader@example.com"})
	require.NoError(t, err)
	require.NoError(t, jobs.SaveJob(ctx, queued))

	running, err := NewJob(KindNotify, NotifyPayload{StatusTargetID: notifying.ID, AttachmentPath: "/out/b.mobi", Recipient: "reader@example.com"})
	require.NoError(t, err)
	require.NoError(t, jobs.SaveJob(ctx, running))
	_, err = jobs.ClaimJob(ctx, running.ID)
	require.NoError(t, err)

	c := NewCoordinator(nil, submissions, books, NewGate(books, submissions, logger), nil, nil, CoordinatorConfig{}, logger)
	marked, err := c.FailOrphaned(ctx, jobs)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	want := map[string]domain.SubmissionStatus{
		neverStarted.ID:   domain.SubmissionStatusError,
		midBuild.ID:       domain.SubmissionStatusError,
		awaitingNotify.ID: domain.SubmissionStatusProcessing,
		notifying.ID:      domain.SubmissionStatusProcessing,
		done.ID:           domain.SubmissionStatusComplete,
	}
	for id, status := range want {
		sub, err := submissions.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, sub.Status, "submission %s", id)
	}

	// A second sweep finds nothing left to fail
	marked, err = c.FailOrphaned(ctx, jobs)
	require.NoError(t, err)
	assert.Zero(t, marked)
}
