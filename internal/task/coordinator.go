package task

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/store"
)

// Renderer writes the HTML source of a book into dir. It returns the path of
// the rendered source and the remote asset URLs it references.
type Renderer interface {
	Render(ctx context.Context, title, author string, posts []domain.Post, dir string) (string, []string, error)
}

// Converter turns a rendered source into the deliverable artifact in outDir.
type Converter interface {
	Convert(ctx context.Context, sourcePath, outDir, title string) (string, error)
}

// Submitter is the part of the Dispatcher the coordinator drives.
type Submitter interface {
	Submit(ctx context.Context, job *Job) (*Handle, error)
	SubmitGroup(ctx context.Context, jobs []*Job) (*BatchHandle, error)
}

// CoordinatorConfig holds the on-disk layout used while building artifacts.
type CoordinatorConfig struct {
	DataDir  string
	OutDir   string
	CoverDir string
	// CoverURLTemplate may contain {id} and {type}. Empty disables cover fetching.
	CoverURLTemplate string
}

// Work is one accepted submission together with its decoded content.
type Work struct {
	Submission *domain.Submission
	Posts      []domain.Post
	Subtitle   string
}

// Coordinator drives one submission from acceptance to notification on its
// own goroutine, waiting on the asset batch before converting.
type Coordinator struct {
	dispatcher  Submitter
	submissions store.SubmissionStore
	books       store.BookStore
	gate        *Gate
	renderer    Renderer
	converter   Converter
	config      CoordinatorConfig
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewCoordinator creates a Coordinator
func NewCoordinator(
	dispatcher Submitter,
	submissions store.SubmissionStore,
	books store.BookStore,
	gate *Gate,
	renderer Renderer,
	converter Converter,
	config CoordinatorConfig,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		dispatcher:  dispatcher,
		submissions: submissions,
		books:       books,
		gate:        gate,
		renderer:    renderer,
		converter:   converter,
		config:      config,
		logger:      logger.With("component", "coordinator"),
	}
}

// Start runs w on a new goroutine and returns immediately.
func (c *Coordinator) Start(w Work) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Run(context.Background(), w)
	}()
}

// Wait blocks until every started run has exited or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes w to completion. Any failure marks the submission as error;
// nothing is returned because no caller observes the run.
func (c *Coordinator) Run(ctx context.Context, w Work) {
	sub := w.Submission
	logger := c.logger.With("submission_id", sub.ID, "content_key", sub.Key().String())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("coordinator panicked", "panic", r)
			c.markError(ctx, logger, sub.ID)
		}
	}()

	if err := c.run(ctx, logger, w); err != nil {
		logger.Error("submission processing failed", "error", err)
		c.markError(ctx, logger, sub.ID)
	}
}

func (c *Coordinator) run(ctx context.Context, logger *slog.Logger, w Work) error {
	sub := w.Submission

	if err := c.submissions.UpdateStatus(ctx, sub.ID, domain.SubmissionStatusProcessing); err != nil {
		return fmt.Errorf("failed to mark submission processing: %w", err)
	}

	artifact, found := c.gate.Lookup(ctx, sub.Key())
	if found {
		logger.Info("reusing existing artifact", "artifact", artifact)
	} else {
		var err error
		artifact, err = c.build(ctx, logger, w)
		if err != nil {
			return err
		}
	}

	if err := c.submissions.UpdateAttachment(ctx, sub.ID, artifact); err != nil {
		return fmt.Errorf("failed to record attachment: %w", err)
	}

	job, err := NewJob(KindNotify, NotifyPayload{
		StatusTargetID: sub.ID,
		AttachmentPath: artifact,
		Recipient:      sub.Recipient,
		Title:          sub.Title,
		Author:         sub.Author,
	})
	if err != nil {
		return err
	}
	if _, err := c.dispatcher.Submit(ctx, job); err != nil {
		return fmt.Errorf("failed to submit notify job: %w", err)
	}

	logger.Info("notify job submitted", "job_id", job.ID, "artifact", artifact)
	return nil
}

// build renders the content, fetches its assets as one batch, waits for the
// batch, and converts the result. It returns the artifact path.
func (c *Coordinator) build(ctx context.Context, logger *slog.Logger, w Work) (string, error) {
	sub := w.Submission
	srcDir := c.contentDir(c.config.DataDir, sub)
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create source directory: %w", err)
	}

	sourcePath, assetURLs, err := c.renderer.Render(ctx, sub.Title, sub.Author, w.Posts, srcDir)
	if err != nil {
		return "", fmt.Errorf("failed to render content: %w", err)
	}

	coverURL := c.coverURL(sub)
	book, err := domain.NewBook(sub.Key(), sub.Title, w.Subtitle, sub.Author, coverURL)
	if err != nil {
		return "", fmt.Errorf("failed to build book record: %w", err)
	}
	if err := c.books.Create(ctx, book); err != nil {
		return "", fmt.Errorf("failed to create book record: %w", err)
	}

	jobs := make([]*Job, 0, len(assetURLs)+1)
	if coverURL != "" {
		if err := os.MkdirAll(c.config.CoverDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create cover directory: %w", err)
		}
		job, err := NewJob(KindAssetFetch, AssetFetchPayload{StatusTargetID: sub.ID, URL: coverURL, Dir: c.config.CoverDir})
		if err != nil {
			return "", err
		}
		jobs = append(jobs, job)
	}
	for _, u := range assetURLs {
		job, err := NewJob(KindAssetFetch, AssetFetchPayload{StatusTargetID: sub.ID, URL: u, Dir: srcDir})
		if err != nil {
			return "", err
		}
		jobs = append(jobs, job)
	}

	batch, err := c.dispatcher.SubmitGroup(ctx, jobs)
	if err != nil {
		return "", fmt.Errorf("failed to submit asset batch: %w", err)
	}

	outcomes, err := batch.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("failed waiting for asset batch: %w", err)
	}

	failed := 0
	for _, o := range outcomes {
		if !o.Succeeded() {
			failed++
		}
	}
	logger.Info("asset batch finished",
		"batch_id", batch.Batch().ID,
		"size", len(outcomes),
		"failed", failed)

	if coverURL != "" && outcomes[0].Succeeded() {
		if err := c.books.UpdateCover(ctx, book.ID, outcomes[0].Output); err != nil {
			logger.Error("failed to record cover path", "book_id", book.ID, "error", err)
		}
	}

	outDir := c.contentDir(c.config.OutDir, sub)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	artifact, err := c.converter.Convert(ctx, sourcePath, outDir, sub.Title)
	if err != nil {
		return "", fmt.Errorf("failed to convert content: %w", err)
	}

	if err := c.books.UpdateFilePath(ctx, book.ID, artifact); err != nil {
		logger.Error("failed to record book file path", "book_id", book.ID, "error", err)
	}

	return artifact, nil
}

// FailOrphaned marks as error every unfinished submission that nothing can
// still finish: its coordinator run died with the previous process and no
// unfinished notify job targets it. Call it at startup before any run starts.
// It returns the number of submissions marked.
func (c *Coordinator) FailOrphaned(ctx context.Context, jobs JobStore) (int, error) {
	subs, err := c.submissions.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished submissions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	pending, err := jobs.GetPendingJobs(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	running, err := jobs.GetRunningJobs(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to get running jobs: %w", err)
	}

	// Notify jobs finish their submission through the status hooks
	owned := make(map[string]bool)
	for _, job := range append(pending, running...) {
		if job.Kind == KindNotify {
			owned[job.StatusTargetID] = true
		}
	}

	marked := 0
	for _, sub := range subs {
		if owned[sub.ID] {
			continue
		}
		logger := c.logger.With("submission_id", sub.ID, "status", sub.Status)
		if err := c.submissions.UpdateStatus(ctx, sub.ID, domain.SubmissionStatusError); err != nil {
			logger.Error("failed to mark orphaned submission error", "error", err)
			continue
		}
		logger.Warn("orphaned submission marked error")
		marked++
	}
	return marked, nil
}

func (c *Coordinator) markError(ctx context.Context, logger *slog.Logger, id string) {
	if err := c.submissions.UpdateStatus(ctx, id, domain.SubmissionStatusError); err != nil {
		logger.Error("failed to mark submission error", "error", err)
	}
}

// contentDir returns <base>/<external id>/<size>. Submissions without an
// external id use their own ID instead.
func (c *Coordinator) contentDir(base string, sub *domain.Submission) string {
	dir := sub.ExternalID
	if dir == "" {
		dir = sub.ID
	}
	return filepath.Join(base, filepath.Base(dir), strconv.Itoa(sub.ContentSize))
}

func (c *Coordinator) coverURL(sub *domain.Submission) string {
	if c.config.CoverURLTemplate == "" || sub.ExternalID == "" {
		return ""
	}
	return strings.NewReplacer(
		"{id}", url.PathEscape(sub.ExternalID),
		"{type}", url.PathEscape(sub.SendType),
	).Replace(c.config.CoverURLTemplate)
}
