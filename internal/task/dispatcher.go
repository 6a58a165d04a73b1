package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotClaimable is returned by JobStore.ClaimJob when the job is not
// queued or retrying, for example because another delivery already ran it.
var ErrJobNotClaimable = errors.New("job is not in a runnable state")

// ErrJobTerminal is returned by JobStore.UpdateJob for jobs that already
// succeeded or failed.
var ErrJobTerminal = errors.New("job is already terminal")

// ErrAttemptSuperseded is returned by JobStore.UpdateJob when the stored job
// is no longer running the attempt being recorded.
var ErrAttemptSuperseded = errors.New("job attempt was superseded")

// requeueWait bounds how long a worker or the monitor waits for room in a
// full queue. A job that misses it stays persisted for the stuck job monitor.
const requeueWait = time.Second

// DispatcherConfig holds configuration for the dispatcher
type DispatcherConfig struct {
	// WorkerCount determines how many concurrent workers process jobs
	WorkerCount int

	// StuckJobAge defines how long a job can be running, or overdue in the
	// queue, before it's considered lost and handled again. It should exceed
	// every policy's attempt timeout.
	StuckJobAge time.Duration

	// StuckJobCheckInterval defines how often to check for stuck jobs
	// If zero, defaults to 5 minutes
	StuckJobCheckInterval time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkerCount:           2,
		StuckJobAge:           10 * time.Minute,
		StuckJobCheckInterval: time.Minute,
	}
}

// Dispatcher persists jobs, hands them to the worker pool, applies the retry
// policy of each kind, and runs terminal hooks.
type Dispatcher struct {
	registry *Registry
	store    JobStore
	queue    Queue
	pool     *WorkerPool
	config   DispatcherConfig
	logger   *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	waiting map[uuid.UUID]*resolution
	// attempts executing in this process, per job; a retry may be claimed
	// before the previous worker returns
	inFlight map[uuid.UUID]int
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(
	registry *Registry,
	store JobStore,
	queue Queue,
	config DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	// Apply default check interval if not specified
	if config.StuckJobCheckInterval == 0 {
		config.StuckJobCheckInterval = 5 * time.Minute
	}

	logger = logger.With("component", "dispatcher")
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		registry:   registry,
		store:      store,
		queue:      queue,
		pool:       NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger),
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancelFunc: cancel,
		waiting:    make(map[uuid.UUID]*resolution),
		inFlight:   make(map[uuid.UUID]int),
	}
}

// Submit persists job and enqueues it for immediate execution.
func (d *Dispatcher) Submit(ctx context.Context, job *Job) (*Handle, error) {
	return d.SubmitDelayed(ctx, job, 0)
}

// SubmitDelayed persists job and enqueues it to run after the given delay.
// The job is durably recorded before this returns. A full queue blocks the
// call until a worker makes room or ctx ends.
func (d *Dispatcher) SubmitDelayed(ctx context.Context, job *Job, after time.Duration) (*Handle, error) {
	def, err := d.registry.Get(job.Kind)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.State = StateQueued
	job.AttemptCount = 0
	job.LastError = ""
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = def.Policy.MaxAttempts
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.RunAt = now.Add(after)

	// Register before enqueueing: a fast worker may finish the job first
	res := d.register(job.ID)

	// Save job to the store first
	if err := d.store.SaveJob(ctx, job); err != nil {
		d.unregister(job.ID)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	// Then hand it to the queue
	if err := d.queue.Enqueue(ctx, job.ID, job.RunAt); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			d.unregister(job.ID)
			return nil, fmt.Errorf("failed to enqueue job: %w", err)
		}
		// The job is persisted; the stuck job monitor will enqueue it later
		d.logger.Warn("job saved but not enqueued",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"error", err)
	}

	d.logger.Debug("job submitted",
		"job_id", job.ID,
		"job_kind", job.Kind,
		"status_target_id", job.StatusTargetID,
		"run_at", job.RunAt)

	return &Handle{jobID: job.ID, res: res}, nil
}

// SubmitGroup submits jobs as one batch. The returned handle's Wait yields
// the outcomes in the order of jobs. An empty group is terminal immediately.
func (d *Dispatcher) SubmitGroup(ctx context.Context, jobs []*Job) (*BatchHandle, error) {
	batch := &BatchHandle{
		batch: JobBatch{
			ID:        uuid.New(),
			MemberIDs: make([]uuid.UUID, 0, len(jobs)),
		},
		members: make([]*Handle, 0, len(jobs)),
	}

	for _, job := range jobs {
		h, err := d.Submit(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("failed to submit batch member %s: %w", job.ID, err)
		}
		batch.batch.MemberIDs = append(batch.batch.MemberIDs, job.ID)
		batch.members = append(batch.members, h)
	}

	d.logger.Debug("batch submitted", "batch_id", batch.batch.ID, "size", len(jobs))
	return batch, nil
}

// Start recovers unfinished jobs and begins processing
func (d *Dispatcher) Start() error {
	// Workers first, so that recovery can refill a bounded queue
	d.pool.Start(d.process)

	// Recover unfinished jobs from previous runs
	if err := d.Recover(d.ctx); err != nil {
		d.pool.Stop()
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	// Start goroutine to check for stuck jobs periodically
	d.wg.Add(1)
	go d.stuckJobMonitor()

	return nil
}

// Stop gracefully shuts down the dispatcher. In-flight attempts finish first.
func (d *Dispatcher) Stop() {
	d.cancelFunc()
	d.pool.Stop()
	d.wg.Wait()
	if err := d.queue.Close(); err != nil {
		d.logger.Error("failed to close job queue", "error", err)
	}
}

// Recover re-enqueues jobs left unfinished by a previous run. Queued and
// retrying jobs keep their run time; jobs that were running when the process
// stopped count the interrupted attempt as a failure.
func (d *Dispatcher) Recover(ctx context.Context) error {
	pendingJobs, err := d.store.GetPendingJobs(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to get pending jobs: %w", err)
	}

	// Get jobs that were running (potentially interrupted by a crash)
	runningJobs, err := d.store.GetRunningJobs(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to get running jobs: %w", err)
	}

	d.logger.Info("recovering unfinished jobs",
		"pending_count", len(pendingJobs),
		"running_count", len(runningJobs))

	for _, job := range pendingJobs {
		d.requeue(ctx, job)
	}
	for _, job := range runningJobs {
		d.interrupt(ctx, job)
	}

	return nil
}

// process handles execution of a single attempt
func (d *Dispatcher) process(workerID int, jobID uuid.UUID) {
	ctx := context.Background()
	logger := d.logger.With("job_id", jobID, "worker_id", workerID)

	job, err := d.store.ClaimJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotClaimable) {
			logger.Debug("skipping delivery of job that is not runnable")
			return
		}
		logger.Error("failed to claim job", "error", err)
		return
	}

	logger = logger.With("job_kind", job.Kind, "attempt", job.AttemptCount)

	d.markInFlight(job.ID)
	defer d.clearInFlight(job.ID)

	def, err := d.registry.Get(job.Kind)
	if err != nil {
		logger.Error("no definition for job kind", "error", err)
		d.finish(ctx, job, nil, Result{Failure: &Failure{Kind: FailureInput, Err: err}})
		return
	}

	logger.Info("processing job")
	result := d.execute(def, job)
	d.complete(ctx, def, job, result)
}

// execute runs one attempt bounded by the policy's attempt timeout. Panics
// become FailurePanic results.
func (d *Dispatcher) execute(def *Definition, job *Job) Result {
	ctx := context.Background()
	if def.Policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Policy.AttemptTimeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Fail(FailurePanic, fmt.Errorf("operation panicked: %v", r))
			}
		}()
		done <- def.Operation(ctx, cloneJob(job))
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return Fail(FailureTimeout, fmt.Errorf("attempt exceeded %s: %w", def.Policy.AttemptTimeout, ctx.Err()))
	}
}

// complete records the result of an attempt and either schedules a retry or
// finishes the job.
func (d *Dispatcher) complete(ctx context.Context, def *Definition, job *Job, result Result) {
	if result.OK() {
		d.finish(ctx, job, def, result)
		return
	}

	decision := def.Policy.Decide(job.AttemptCount, job.MaxAttempts, result.Failure)
	if !decision.Retry {
		d.finish(ctx, job, def, result)
		return
	}

	now := time.Now().UTC()
	job.State = StateRetrying
	job.LastError = result.Failure.Error()
	job.RunAt = now.Add(decision.After)
	job.UpdatedAt = now

	if err := d.store.UpdateJob(ctx, job); err != nil {
		if isStaleAttempt(err) {
			d.discardStale(job, err)
			return
		}
		d.logger.Error("failed to update job for retry",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"error", err)
		return
	}

	d.logger.Info("job scheduled for retry",
		"job_id", job.ID,
		"job_kind", job.Kind,
		"attempt", job.AttemptCount,
		"max_attempts", job.MaxAttempts,
		"delay", decision.After,
		"error", job.LastError)

	if err := d.enqueue(ctx, job); err != nil {
		d.logger.Error("failed to enqueue retry, leaving it to the stuck job monitor",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"error", err)
	}
}

// finish moves job to its terminal state, runs the kind's hook, and resolves
// any handle waiting on it. def may be nil when the kind is unknown.
func (d *Dispatcher) finish(ctx context.Context, job *Job, def *Definition, result Result) {
	job.UpdatedAt = time.Now().UTC()
	if result.OK() {
		job.State = StateSucceeded
		job.LastError = ""
	} else {
		job.State = StateFailed
		job.LastError = result.Failure.Error()
	}

	if err := d.store.UpdateJob(ctx, job); err != nil {
		if isStaleAttempt(err) {
			d.discardStale(job, err)
			return
		}
		d.logger.Error("failed to update job status",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"state", job.State,
			"error", err)
	}

	if result.OK() {
		d.logger.Info("job completed successfully",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"attempts", job.AttemptCount)
	} else {
		d.logger.Error("job failed",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"status_target_id", job.StatusTargetID,
			"payload", string(job.Payload),
			"attempts", job.AttemptCount,
			"max_attempts", job.MaxAttempts,
			"failure_kind", result.Failure.Kind,
			"error", result.Failure.Err)
	}

	if def != nil {
		d.runHook(ctx, def, job, result)
	}

	d.resolve(job.ID, Outcome{
		JobID:    job.ID,
		Kind:     job.Kind,
		State:    job.State,
		Output:   result.Output,
		Failure:  result.Failure,
		Attempts: job.AttemptCount,
	})
}

// isStaleAttempt reports whether UpdateJob rejected a result because another
// attempt owns the job.
func isStaleAttempt(err error) bool {
	return errors.Is(err, ErrAttemptSuperseded) || errors.Is(err, ErrJobTerminal)
}

func (d *Dispatcher) discardStale(job *Job, err error) {
	d.logger.Warn("discarding result of superseded attempt",
		"job_id", job.ID,
		"job_kind", job.Kind,
		"attempt", job.AttemptCount,
		"error", err)
}

// runHook invokes the terminal hook. Errors and panics are logged and swallowed.
func (d *Dispatcher) runHook(ctx context.Context, def *Definition, job *Job, result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job hook panicked",
				"job_id", job.ID,
				"job_kind", job.Kind,
				"payload", string(job.Payload),
				"panic", r)
		}
	}()

	var err error
	if result.OK() {
		if def.Hooks.OnSuccess != nil {
			err = def.Hooks.OnSuccess(ctx, job, result)
		}
	} else if def.Hooks.OnFailure != nil {
		err = def.Hooks.OnFailure(ctx, job, result.Failure)
	}

	if err != nil {
		d.logger.Error("job hook failed",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"state", job.State,
			"payload", string(job.Payload),
			"error", err)
	}
}

// interrupt treats an attempt that never reported back as failed.
func (d *Dispatcher) interrupt(ctx context.Context, job *Job) {
	def, err := d.registry.Get(job.Kind)
	if err != nil {
		d.logger.Error("no definition for interrupted job", "job_id", job.ID, "error", err)
		d.finish(ctx, job, nil, Fail(FailureInput, err))
		return
	}

	d.logger.Warn("job attempt was interrupted",
		"job_id", job.ID,
		"job_kind", job.Kind,
		"attempt", job.AttemptCount)

	d.complete(ctx, def, job, Fail(FailureInterrupted, errors.New("attempt did not report a result")))
}

func (d *Dispatcher) requeue(ctx context.Context, job *Job) {
	if err := d.enqueue(ctx, job); err != nil {
		d.logger.Error("failed to requeue job",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"error", err)
	}
}

// enqueue waits at most requeueWait for room, so that workers never block
// each other on a full queue.
func (d *Dispatcher) enqueue(ctx context.Context, job *Job) error {
	ctx, cancel := context.WithTimeout(ctx, requeueWait)
	defer cancel()
	return d.queue.Enqueue(ctx, job.ID, job.RunAt)
}

// stuckJobMonitor periodically checks for jobs that have been running, or
// overdue in the queue, for too long and hands them to the workers again
func (d *Dispatcher) stuckJobMonitor() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StuckJobCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.checkStuckJobs(context.Background())
		}
	}
}

func (d *Dispatcher) checkStuckJobs(ctx context.Context) {
	stuckJobs, err := d.store.GetRunningJobs(ctx, d.config.StuckJobAge)
	if err != nil {
		d.logger.Error("failed to check for stuck jobs", "error", err)
	} else {
		for _, job := range stuckJobs {
			// Still executing here, so it is slow rather than lost
			if d.isInFlight(job.ID) {
				d.logger.Warn("job attempt is running longer than the stuck job age",
					"job_id", job.ID,
					"job_kind", job.Kind,
					"attempt", job.AttemptCount,
					"stuck_job_age", d.config.StuckJobAge)
				continue
			}
			d.logger.Info("found stuck job", "job_id", job.ID, "job_kind", job.Kind)
			d.interrupt(ctx, job)
		}
	}

	overdueJobs, err := d.store.GetPendingJobs(ctx, d.config.StuckJobAge)
	if err != nil {
		d.logger.Error("failed to check for overdue jobs", "error", err)
		return
	}
	if len(overdueJobs) > 0 {
		d.logger.Info("requeueing overdue jobs", "count", len(overdueJobs))
		for _, job := range overdueJobs {
			d.requeue(ctx, job)
		}
	}
}

func (d *Dispatcher) register(id uuid.UUID) *resolution {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, ok := d.waiting[id]
	if !ok {
		res = newResolution()
		d.waiting[id] = res
	}
	return res
}

func (d *Dispatcher) markInFlight(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight[id]++
}

func (d *Dispatcher) clearInFlight(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight[id]--
	if d.inFlight[id] <= 0 {
		delete(d.inFlight, id)
	}
}

func (d *Dispatcher) isInFlight(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[id] > 0
}

func (d *Dispatcher) unregister(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.waiting, id)
}

func (d *Dispatcher) resolve(id uuid.UUID, outcome Outcome) {
	d.mu.Lock()
	res, ok := d.waiting[id]
	delete(d.waiting, id)
	d.mu.Unlock()

	if ok {
		res.outcome = outcome
		close(res.done)
	}
}
