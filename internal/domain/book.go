package domain

import (
	"errors"
	"time"
)

// Validation errors for Book
var (
	ErrEmptyBookID = errors.New("book ID cannot be empty")
)

// Book is the artifact record produced by converting one piece of content.
// FilePath stays empty until conversion succeeds.
type Book struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	ContentSize int       `json:"content_size"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	Author      string    `json:"author"`
	CoverURL    string    `json:"cover_url"`
	CoverPath   string    `json:"cover_path"`
	FilePath    string    `json:"file_path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewBook creates a Book for the given content key with a freshly generated ID.
func NewBook(key ContentKey, title, subtitle, author, coverURL string) (*Book, error) {
	now := time.Now().UTC()
	b := &Book{
		ID:          NewRecordID(),
		ExternalID:  key.ExternalID,
		ContentSize: key.Size,
		Title:       title,
		Subtitle:    subtitle,
		Author:      author,
		CoverURL:    coverURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Key returns the content key of the book.
func (b *Book) Key() ContentKey {
	return ContentKey{ExternalID: b.ExternalID, Size: b.ContentSize}
}

// HasArtifact reports whether the book has a converted file.
func (b *Book) HasArtifact() bool {
	return b.FilePath != ""
}

// Validate checks if the Book has valid data.
func (b *Book) Validate() error {
	if b.ID == "" {
		return ErrEmptyBookID
	}
	if !IsRecordID(b.ID) {
		return ErrInvalidID
	}
	if b.ContentSize < 0 {
		return ErrNegativeContentLen
	}
	return nil
}
