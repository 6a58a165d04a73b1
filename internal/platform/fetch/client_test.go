package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/bookpush/internal/config"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/task"
)

func testConfig() config.FetchConfig {
	return config.FetchConfig{
		Timeout:   time.Second,
		UserAgent: "bookpush-test",
		Referer:   "https://example.com/",
	}
}

func TestFetchWritesBody(t *testing.T) {
	t.Parallel()

	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotReferer = r.Referer()
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewClient(testConfig(), logger.Discard())

	path, err := c.Fetch(context.Background(), srv.URL+"/img/cover.jpg?x=1", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cover.jpg"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
	assert.Equal(t, "bookpush-test", gotUA)
	assert.Equal(t, "https://example.com/", gotReferer)
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.jpg":
			w.WriteHeader(http.StatusNotFound)
		case "/empty.jpg":
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(testConfig(), logger.Discard())

	tests := []struct {
		name string
		url  string
		kind task.FailureKind
	}{
		{name: "status", url: srv.URL + "/missing.jpg", kind: task.FailureStatus},
		{name: "empty", url: srv.URL + "/empty.jpg", kind: task.FailureEmpty},
		{name: "transport", url: "http://127.0.0.1:1/a.jpg", kind: task.FailureTransport},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			_, err := c.Fetch(context.Background(), tc.url, dir)
			require.Error(t, err)
			assert.Equal(t, tc.kind, task.Classify(err).Failure.Kind)

			entries, _ := os.ReadDir(dir)
			assert.Empty(t, entries)
		})
	}
}

func TestFetchRejectsURLWithoutName(t *testing.T) {
	t.Parallel()

	c := NewClient(testConfig(), logger.Discard())
	_, err := c.Fetch(context.Background(), "http://example.com/", t.TempDir())
	assert.ErrorIs(t, err, ErrNoFileName)
}

func TestFetchHonoursRateLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RequestsPerSecond = 10
	c := NewClient(cfg, logger.Discard())
	dir := t.TempDir()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), srv.URL+"/a.png", dir)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestFileName(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]string{
		"https://img.example.com/a/b/c.png": "c.png",
		"https://img.example.com/c.png?w=1": "c.png",
		"https://img.example.com/":          "",
		"https://img.example.com":           "",
	} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, FileName(u), raw)
	}
}
