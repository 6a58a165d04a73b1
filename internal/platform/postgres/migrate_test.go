package postgres

import (
	"context"
	"io/fs"
	"testing"

	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"migrations/00001_create_submissions.sql",
		"migrations/00002_create_books.sql",
		"migrations/00003_create_jobs.sql",
	}, files)

	for _, name := range files {
		data, err := migrationFS.ReadFile(name)
		require.NoError(t, err)
		assert.Contains(t, string(data), "-- +goose Up", name)
		assert.Contains(t, string(data), "-- +goose Down", name)
	}
}

func TestMigrateUnknownCommand(t *testing.T) {
	err := Migrate(context.Background(), nil, "sideways", logger.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown migration command")
}

func TestMigrateRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, db, "version", logger.Discard()))
	require.NoError(t, Migrate(ctx, db, "status", logger.Discard()))

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM jobs`).Scan(&n))
	assert.Zero(t, n)
}
