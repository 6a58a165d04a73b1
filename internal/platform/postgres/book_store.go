package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/store"
)

// BookStore implements store.BookStore on PostgreSQL.
type BookStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.BookStore = (*BookStore)(nil)

// NewBookStore creates a BookStore using db. If l is nil, slog.Default() is used.
func NewBookStore(db store.DBTX, l *slog.Logger) *BookStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if l == nil {
		l = slog.Default()
	}
	return &BookStore{
		db:     db,
		logger: l.With(slog.String("component", "book_store")),
	}
}

const bookColumns = `id, external_id, content_size, title, subtitle, author,
	cover_url, cover_path, file_path, created_at, updated_at`

// Create implements store.BookStore.
func (s *BookStore) Create(ctx context.Context, book *domain.Book) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := book.Validate(); err != nil {
		return store.NewStoreError("book", "create", "validation failed",
			errors.Join(store.ErrInvalidEntity, err))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (`+bookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		book.ID, book.ExternalID, book.ContentSize, book.Title, book.Subtitle, book.Author,
		book.CoverURL, book.CoverPath, book.FilePath, book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create book", "book_id", book.ID, "error", err)
		return store.NewStoreError("book", "create", "insert failed", MapError(err))
	}
	return nil
}

// UpdateCover implements store.BookStore.
func (s *BookStore) UpdateCover(ctx context.Context, id string, path string) error {
	return s.setColumn(ctx, "update_cover", "cover_path", id, path)
}

// UpdateFilePath implements store.BookStore.
func (s *BookStore) UpdateFilePath(ctx context.Context, id string, path string) error {
	return s.setColumn(ctx, "update_file_path", "file_path", id, path)
}

// setColumn writes one path column. column is never caller supplied.
func (s *BookStore) setColumn(ctx context.Context, op, column, id, value string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE books SET `+column+` = $1, updated_at = $2 WHERE id = $3`,
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return store.NewStoreError("book", op, "update failed", MapError(err))
	}
	return rowsAffected(result, store.ErrBookNotFound)
}

// FindByKey implements store.BookStore. Books with an artifact sort first,
// then the most recently created.
func (s *BookStore) FindByKey(ctx context.Context, key domain.ContentKey) (*domain.Book, error) {
	var b domain.Book
	err := s.db.QueryRowContext(ctx, `
		SELECT `+bookColumns+` FROM books
		WHERE external_id = $1 AND content_size = $2
		ORDER BY (file_path <> '') DESC, created_at DESC
		LIMIT 1`,
		key.ExternalID, key.Size,
	).Scan(
		&b.ID, &b.ExternalID, &b.ContentSize, &b.Title, &b.Subtitle, &b.Author,
		&b.CoverURL, &b.CoverPath, &b.FilePath, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book for %s: %w", key, MapError(err))
	}
	return &b, nil
}
