package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/store"
	"github.com/phrazzld/bookpush/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T) *task.Job {
	t.Helper()
	job, err := task.NewJob(task.KindNotify, task.NotifyPayload{
		StatusTargetID: "0123456789abcdef0123456789abcdef",
		AttachmentPath: "/out/book.mobi",
		Recipient:      "reader@example.com",
	})
	require.NoError(t, err)
	job.MaxAttempts = 3
	return job
}

func TestJobStoreClaimAndComplete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := NewJobStore(db, logger.Discard())

	job := newJob(t)
	require.NoError(t, s.SaveJob(ctx, job))
	assert.ErrorIs(t, s.SaveJob(ctx, job), store.ErrDuplicate)

	claimed, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateRunning, claimed.State)
	assert.Equal(t, 1, claimed.AttemptCount)
	assert.JSONEq(t, string(job.Payload), string(claimed.Payload))

	_, err = s.ClaimJob(ctx, job.ID)
	assert.ErrorIs(t, err, task.ErrJobNotClaimable)

	stale := *claimed
	stale.AttemptCount = 0
	stale.State = task.StateSucceeded
	assert.ErrorIs(t, s.UpdateJob(ctx, &stale), task.ErrAttemptSuperseded)

	claimed.State = task.StateSucceeded
	claimed.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpdateJob(ctx, claimed))

	claimed.State = task.StateRetrying
	assert.ErrorIs(t, s.UpdateJob(ctx, claimed), task.ErrJobTerminal)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateSucceeded, got.State)
}

func TestJobStoreMissing(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := NewJobStore(db, logger.Discard())

	_, err := s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	_, err = s.ClaimJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	job := newJob(t)
	assert.ErrorIs(t, s.UpdateJob(ctx, job), store.ErrJobNotFound)
}

func TestJobStoreListings(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	s := NewJobStore(db, logger.Discard())

	old := newJob(t)
	old.RunAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.SaveJob(ctx, old))

	fresh := newJob(t)
	require.NoError(t, s.SaveJob(ctx, fresh))

	running := newJob(t)
	require.NoError(t, s.SaveJob(ctx, running))
	_, err := s.ClaimJob(ctx, running.ID)
	require.NoError(t, err)

	pending, err := s.GetPendingJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Equal(t, old.ID, pending[0].ID)

	overdue, err := s.GetPendingJobs(ctx, time.Minute)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, old.ID, overdue[0].ID)

	all, err := s.GetRunningJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, running.ID, all[0].ID)

	stuck, err := s.GetRunningJobs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}
