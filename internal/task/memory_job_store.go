package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bookpush/internal/store"
)

// MemoryJobStore implements JobStore in process memory. It backs the service
// when no database is configured and is used throughout the tests; SaveFn and
// UpdateFn can be replaced to inject failures.
type MemoryJobStore struct {
	mutex    sync.RWMutex
	jobs     map[uuid.UUID]*Job
	SaveFn   func(ctx context.Context, job *Job) error
	UpdateFn func(ctx context.Context, job *Job) error
}

// NewMemoryJobStore creates a new MemoryJobStore with default implementations
func NewMemoryJobStore() *MemoryJobStore {
	s := &MemoryJobStore{
		jobs: make(map[uuid.UUID]*Job),
	}
	s.SaveFn = s.save
	s.UpdateFn = s.update
	return s
}

// SaveJob persists a job to the memory store
func (s *MemoryJobStore) SaveJob(ctx context.Context, job *Job) error {
	return s.SaveFn(ctx, job)
}

// UpdateJob updates a stored job
func (s *MemoryJobStore) UpdateJob(ctx context.Context, job *Job) error {
	return s.UpdateFn(ctx, job)
}

func (s *MemoryJobStore) save(_ context.Context, job *Job) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) update(_ context.Context, job *Job) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, exists := s.jobs[job.ID]
	if !exists {
		return store.ErrJobNotFound
	}
	if stored.IsTerminal() {
		return ErrJobTerminal
	}
	if stored.State != StateRunning || stored.AttemptCount != job.AttemptCount {
		return ErrAttemptSuperseded
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob retrieves a copy of a job by ID
func (s *MemoryJobStore) GetJob(_ context.Context, id uuid.UUID) (*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ClaimJob moves a queued or retrying job to running
func (s *MemoryJobStore) ClaimJob(_ context.Context, id uuid.UUID) (*Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, store.ErrJobNotFound
	}
	if job.State != StateQueued && job.State != StateRetrying {
		return nil, ErrJobNotClaimable
	}

	job.State = StateRunning
	job.AttemptCount++
	job.UpdatedAt = time.Now().UTC()
	return cloneJob(job), nil
}

// GetPendingJobs retrieves queued and retrying jobs ordered by run time
func (s *MemoryJobStore) GetPendingJobs(_ context.Context, olderThan time.Duration) ([]*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cutoff := time.Now().Add(-olderThan)
	var pending []*Job
	for _, job := range s.jobs {
		if job.State != StateQueued && job.State != StateRetrying {
			continue
		}
		if olderThan == 0 || job.RunAt.Before(cutoff) {
			pending = append(pending, cloneJob(job))
		}
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].RunAt.Before(pending[j].RunAt) })
	return pending, nil
}

// GetRunningJobs retrieves jobs with "running" state
func (s *MemoryJobStore) GetRunningJobs(_ context.Context, olderThan time.Duration) ([]*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cutoff := time.Now().Add(-olderThan)
	var running []*Job
	for _, job := range s.jobs {
		if job.State != StateRunning {
			continue
		}
		// If olderThan is zero, include all running jobs
		if olderThan == 0 || job.UpdatedAt.Before(cutoff) {
			running = append(running, cloneJob(job))
		}
	}

	return running, nil
}

// Jobs returns copies of every stored job, in no particular order.
func (s *MemoryJobStore) Jobs() []*Job {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, cloneJob(job))
	}
	return jobs
}

func cloneJob(job *Job) *Job {
	c := *job
	c.Payload = append([]byte(nil), job.Payload...)
	return &c
}
