package task

import (
	"context"
	"log/slog"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/store"
)

// BookFinder looks up the book produced for a content key.
type BookFinder interface {
	FindByKey(ctx context.Context, key domain.ContentKey) (*domain.Book, error)
}

// AttachmentFinder looks up an artifact recorded on an earlier submission.
type AttachmentFinder interface {
	FindAttachmentByKey(ctx context.Context, key domain.ContentKey) (string, error)
}

// Gate recognises content that has already been converted.
type Gate struct {
	books       BookFinder
	submissions AttachmentFinder
	logger      *slog.Logger
}

// NewGate creates a deduplication gate over the book and submission stores.
func NewGate(books BookFinder, submissions AttachmentFinder, logger *slog.Logger) *Gate {
	return &Gate{
		books:       books,
		submissions: submissions,
		logger:      logger.With("component", "dedup_gate"),
	}
}

// Lookup returns the artifact already produced for key, if any. Keys match
// exactly on both fields. Lookup errors are logged and reported as a miss.
func (g *Gate) Lookup(ctx context.Context, key domain.ContentKey) (string, bool) {
	if key.IsZero() {
		return "", false
	}

	book, err := g.books.FindByKey(ctx, key)
	switch {
	case err == nil && book.HasArtifact():
		g.logger.Debug("artifact found on book", "content_key", key.String(), "book_id", book.ID)
		return book.FilePath, true
	case err != nil && !store.IsNotFoundError(err):
		g.logger.Error("book lookup failed", "content_key", key.String(), "error", err)
	}

	path, err := g.submissions.FindAttachmentByKey(ctx, key)
	switch {
	case err == nil && path != "":
		g.logger.Debug("artifact found on earlier submission", "content_key", key.String())
		return path, true
	case err != nil && !store.IsNotFoundError(err):
		g.logger.Error("submission attachment lookup failed", "content_key", key.String(), "error", err)
	}

	return "", false
}
