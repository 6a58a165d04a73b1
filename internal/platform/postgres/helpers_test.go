package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/bookpush/internal/ciutil"
	"github.com/phrazzld/bookpush/internal/platform/logger"
)

// testDB connects to the test database named by ciutil, migrates it, and empties the
// tables afterwards. Tests are skipped when the variable is unset.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	url := ciutil.TestDatabaseURL(nil)
	if url == "" {
		t.Skip(ciutil.EnvTestDatabaseURL + " not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, url)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db, "up", logger.Discard()))

	t.Cleanup(func() {
		_, _ = db.Exec(`TRUNCATE submissions, books, jobs`)
		_ = db.Close()
	})
	return db
}
