package task

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/stretchr/testify/require"
)

// setupTestLogger creates a logger for tests
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fastPolicy retries quickly so that tests exercise every attempt.
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		Delay:          5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkerCount:           4,
		StuckJobAge:           time.Hour,
		StuckJobCheckInterval: time.Hour,
	}
}

// startDispatcher builds and starts a dispatcher over a memory store and queue.
func startDispatcher(t *testing.T, defs ...*Definition) (*Dispatcher, *MemoryJobStore) {
	t.Helper()

	logger := setupTestLogger()
	store := NewMemoryJobStore()
	queue := NewMemoryQueue(100, logger)
	d := NewDispatcher(NewRegistry(defs...), store, queue, testDispatcherConfig(), logger)
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)
	return d, store
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testPayload is a minimal Payload for engine tests.
type testPayload struct {
	StatusTargetID string `json:"status_target_id"`
	Value          string `json:"value"`
}

func (p testPayload) TargetID() string { return p.StatusTargetID }

const kindTest Kind = "test"

func newTestJob(t *testing.T, value string) *Job {
	t.Helper()
	job, err := NewJob(kindTest, testPayload{StatusTargetID: domain.NewRecordID(), Value: value})
	require.NoError(t, err)
	return job
}

func testDefinition(op Operation, hooks Hooks) *Definition {
	return &Definition{Kind: kindTest, Operation: op, Policy: fastPolicy(), Hooks: hooks}
}

// statusRecorder implements StatusUpdater and records every call.
type statusRecorder struct {
	mu      sync.Mutex
	updates map[string][]domain.SubmissionStatus
	err     error
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{updates: make(map[string][]domain.SubmissionStatus)}
}

func (r *statusRecorder) UpdateStatus(_ context.Context, id string, status domain.SubmissionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[id] = append(r.updates[id], status)
	return r.err
}

func (r *statusRecorder) get(id string) []domain.SubmissionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SubmissionStatus(nil), r.updates[id]...)
}

// fakeFetcher fails every URL listed in failing and succeeds otherwise.
type fakeFetcher struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   map[string]int
}

func newFakeFetcher(failing ...string) *fakeFetcher {
	f := &fakeFetcher{failing: make(map[string]bool), calls: make(map[string]int)}
	for _, u := range failing {
		f.failing[u] = true
	}
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	if f.failing[rawURL] {
		return "", ErrStatusCode
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return dir + "/" + u.Path[1:], nil
}

func (f *fakeFetcher) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// fakeDeliverer records deliveries and signals each one.
type fakeDeliverer struct {
	count     atomic.Int32
	failTimes atomic.Int32
	delivered chan string
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{delivered: make(chan string, 10)}
}

func (d *fakeDeliverer) Deliver(_ context.Context, attachmentPath, _, _, _ string) error {
	d.count.Add(1)
	if d.failTimes.Load() > 0 {
		d.failTimes.Add(-1)
		return ErrRejected
	}
	d.delivered <- attachmentPath
	return nil
}

// fakeRenderer returns a fixed list of asset URLs.
type fakeRenderer struct {
	assets []string
	err    error
	calls  atomic.Int32
}

func (r *fakeRenderer) Render(_ context.Context, _, _ string, _ []domain.Post, dir string) (string, []string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", nil, r.err
	}
	return dir + "/index.html", r.assets, nil
}

// fakeConverter returns a path under outDir named after the title.
type fakeConverter struct {
	err   error
	calls atomic.Int32
}

func (c *fakeConverter) Convert(_ context.Context, _, outDir, title string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return outDir + "/" + title + ".mobi", nil
}
