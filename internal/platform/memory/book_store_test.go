package memory

import (
	"context"
	"testing"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookStore_FindByKeyPrefersArtifact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewBookStore(nil)
	key := domain.ContentKey{ExternalID: "42", Size: 7}

	_, err := s.FindByKey(ctx, key)
	assert.ErrorIs(t, err, store.ErrBookNotFound)

	withFile, err := domain.NewBook(key, "Title", "", "Author", "")
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, withFile))
	require.NoError(t, s.UpdateFilePath(ctx, withFile.ID, "/out/42/7/Title.mobi"))

	// A later attempt that never produced a file
	pending, err := domain.NewBook(key, "Title", "", "Author", "")
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, pending))

	got, err := s.FindByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, withFile.ID, got.ID)
	assert.True(t, got.HasArtifact())
}

func TestBookStore_Updates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewBookStore(nil)
	key := domain.ContentKey{ExternalID: "1", Size: 2}

	book, err := domain.NewBook(key, "Title", "Sub", "Author", "https://img.example.com/1.jpg")
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, book))

	require.NoError(t, s.UpdateCover(ctx, book.ID, "covers/1.jpg"))
	got, err := s.FindByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "covers/1.jpg", got.CoverPath)
	assert.False(t, got.HasArtifact())

	err = s.UpdateCover(ctx, domain.NewRecordID(), "x")
	assert.ErrorIs(t, err, store.ErrBookNotFound)
	assert.Equal(t, 1, s.Count())
}
