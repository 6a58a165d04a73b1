package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/store"
	"github.com/phrazzld/bookpush/internal/task"
)

// JobStore implements task.JobStore on PostgreSQL. State changes that must
// not race (claiming, and leaving a terminal state) are single conditional
// UPDATE statements.
type JobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ task.JobStore = (*JobStore)(nil)

// NewJobStore creates a JobStore using db. If l is nil, slog.Default() is used.
func NewJobStore(db store.DBTX, l *slog.Logger) *JobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if l == nil {
		l = slog.Default()
	}
	return &JobStore{
		db:     db,
		logger: l.With(slog.String("component", "job_store")),
	}
}

const jobColumns = `id, kind, status_target_id, payload, attempt_count, max_attempts,
	state, last_error, run_at, created_at, updated_at`

// SaveJob implements task.JobStore.
func (s *JobStore) SaveJob(ctx context.Context, job *task.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.Kind, job.StatusTargetID, []byte(job.Payload), job.AttemptCount, job.MaxAttempts,
		job.State, job.LastError, job.RunAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save job",
			"job_id", job.ID,
			"kind", job.Kind,
			"error", err)
		return fmt.Errorf("failed to save job: %w", MapError(err))
	}
	return nil
}

// GetJob implements task.JobStore.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*task.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", MapError(err))
	}
	return job, nil
}

// ClaimJob implements task.JobStore.
func (s *JobStore) ClaimJob(ctx context.Context, id uuid.UUID) (*task.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET state = 'running', attempt_count = attempt_count + 1, updated_at = $2
		WHERE id = $1 AND state IN ('queued', 'retrying')
		RETURNING `+jobColumns,
		id, time.Now().UTC(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, task.ErrJobNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", MapError(err))
	}
	return job, nil
}

// UpdateJob implements task.JobStore.
func (s *JobStore) UpdateJob(ctx context.Context, job *task.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET attempt_count = $2, max_attempts = $3, state = $4, last_error = $5,
		    run_at = $6, updated_at = $7
		WHERE id = $1 AND state = 'running' AND attempt_count = $2`,
		job.ID, job.AttemptCount, job.MaxAttempts, job.State, job.LastError,
		job.RunAt, job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to update job",
			"job_id", job.ID,
			"state", job.State,
			"error", err)
		return fmt.Errorf("failed to update job: %w", MapError(err))
	}

	if err := rowsAffected(result, task.ErrAttemptSuperseded); err != nil {
		stored, getErr := s.GetJob(ctx, job.ID)
		if getErr != nil {
			return getErr
		}
		if stored.IsTerminal() {
			return task.ErrJobTerminal
		}
		return err
	}
	return nil
}

// GetPendingJobs implements task.JobStore.
func (s *JobStore) GetPendingJobs(ctx context.Context, olderThan time.Duration) ([]*task.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state IN ('queued', 'retrying')`
	args := []any{}
	if olderThan > 0 {
		query += ` AND run_at < $1`
		args = append(args, time.Now().UTC().Add(-olderThan))
	}
	return s.queryJobs(ctx, query+` ORDER BY run_at ASC`, args...)
}

// GetRunningJobs implements task.JobStore.
func (s *JobStore) GetRunningJobs(ctx context.Context, olderThan time.Duration) ([]*task.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state = 'running'`
	args := []any{}
	if olderThan > 0 {
		query += ` AND updated_at < $1`
		args = append(args, time.Now().UTC().Add(-olderThan))
	}
	return s.queryJobs(ctx, query+` ORDER BY updated_at ASC`, args...)
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*task.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query jobs", "error", err)
		return nil, fmt.Errorf("failed to query jobs: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var jobs []*task.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*task.Job, error) {
	var job task.Job
	var payload []byte
	if err := row.Scan(
		&job.ID, &job.Kind, &job.StatusTargetID, &payload, &job.AttemptCount, &job.MaxAttempts,
		&job.State, &job.LastError, &job.RunAt, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Payload = payload
	return &job, nil
}
