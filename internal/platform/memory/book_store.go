package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/store"
)

// BookStore implements store.BookStore in memory.
type BookStore struct {
	mu     sync.RWMutex
	books  map[string]*domain.Book
	order  []string
	logger *slog.Logger
}

// Compile-time check to ensure BookStore implements store.BookStore
var _ store.BookStore = (*BookStore)(nil)

// NewBookStore creates an empty BookStore.
func NewBookStore(l *slog.Logger) *BookStore {
	if l == nil {
		l = slog.Default()
	}
	return &BookStore{
		books:  make(map[string]*domain.Book),
		logger: l.With("store", "book"),
	}
}

// Create implements store.BookStore.
func (s *BookStore) Create(_ context.Context, book *domain.Book) error {
	if err := book.Validate(); err != nil {
		return store.NewStoreError("book", "create", "validation failed",
			errors.Join(store.ErrInvalidEntity, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.books[book.ID]; exists {
		return store.NewStoreError("book", "create", "duplicate id", store.ErrDuplicate)
	}
	c := *book
	s.books[c.ID] = &c
	s.order = append(s.order, c.ID)
	return nil
}

// UpdateCover implements store.BookStore.
func (s *BookStore) UpdateCover(_ context.Context, id string, path string) error {
	return s.update(id, func(b *domain.Book) { b.CoverPath = path })
}

// UpdateFilePath implements store.BookStore.
func (s *BookStore) UpdateFilePath(_ context.Context, id string, path string) error {
	return s.update(id, func(b *domain.Book) { b.FilePath = path })
}

func (s *BookStore) update(id string, apply func(*domain.Book)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[id]
	if !ok {
		return store.ErrBookNotFound
	}
	apply(book)
	book.UpdatedAt = now()
	return nil
}

// FindByKey implements store.BookStore. Books with an artifact are preferred,
// then the most recently created.
func (s *BookStore) FindByKey(_ context.Context, key domain.ContentKey) (*domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fallback *domain.Book
	for i := len(s.order) - 1; i >= 0; i-- {
		book := s.books[s.order[i]]
		if book.Key() != key {
			continue
		}
		if book.HasArtifact() {
			c := *book
			return &c, nil
		}
		if fallback == nil {
			fallback = book
		}
	}
	if fallback == nil {
		return nil, store.ErrBookNotFound
	}
	c := *fallback
	return &c, nil
}

// Count returns the number of stored books.
func (s *BookStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}
