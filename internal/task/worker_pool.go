package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProcessFunc handles one job ID taken from the queue.
type ProcessFunc func(workerID int, jobID uuid.UUID)

// WorkerPool manages a pool of worker goroutines that take job IDs from a
// Queue. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	// queue provides the job IDs to be processed
	queue Queue

	// workerCount is the number of concurrent workers to start
	workerCount int

	// errorBackoff is how long a worker pauses after a queue error
	errorBackoff time.Duration

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is used for cancellation and shutdown signaling
	ctx context.Context

	// cancel is the function to call to cancel the context
	cancel context.CancelFunc

	// logger for structured logging
	logger *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// ErrorBackoff is the pause after a failed Dequeue. Defaults to one second.
	ErrorBackoff time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:  2,
		ErrorBackoff: time.Second,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(queue Queue, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	// Apply defaults for invalid config values
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}
	backoff := config.ErrorBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	// Create a cancelable context for shutdown coordination
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:        queue,
		workerCount:  workerCount,
		errorBackoff: backoff,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
	}
}

// Start launches the worker goroutines. It returns immediately.
func (p *WorkerPool) Start(process ProcessFunc) {
	p.logger.Info("starting worker pool", "worker_count", p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, process)
	}
}

// Stop signals all workers to stop and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) worker(id int, process ProcessFunc) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		jobID, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || p.ctx.Err() != nil {
				p.logger.Debug("stopping worker", "worker_id", id)
				return
			}

			p.logger.Error("failed to dequeue job", "worker_id", id, "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.errorBackoff):
			}
			continue
		}

		process(id, jobID)
	}
}
