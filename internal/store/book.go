package store

import (
	"context"

	"github.com/phrazzld/bookpush/internal/domain"
)

// BookStore defines the interface for book (artifact) record persistence.
type BookStore interface {
	// Create saves a new book to the store.
	Create(ctx context.Context, book *domain.Book) error

	// UpdateCover records the local path of a fetched cover image.
	// Returns ErrBookNotFound if the book does not exist.
	UpdateCover(ctx context.Context, id string, path string) error

	// UpdateFilePath records the converted artifact of a book.
	// Returns ErrBookNotFound if the book does not exist.
	UpdateFilePath(ctx context.Context, id string, path string) error

	// FindByKey returns the book for exactly the given content key, preferring
	// books with an artifact and then the most recent.
	// Returns ErrBookNotFound if there is none.
	FindByKey(ctx context.Context, key domain.ContentKey) (*domain.Book, error)
}
