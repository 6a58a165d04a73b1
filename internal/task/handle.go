package task

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrBatchPending is returned by BatchHandle.Results while any member job is
// still running or waiting for a retry.
var ErrBatchPending = errors.New("batch is not terminal yet")

// Outcome is the terminal result of one job.
type Outcome struct {
	JobID    uuid.UUID
	Kind     Kind
	State    State
	Output   string
	Failure  *Failure
	Attempts int
}

// Succeeded reports whether the job ended in the succeeded state.
func (o Outcome) Succeeded() bool {
	return o.State == StateSucceeded
}

// Handle observes one submitted job.
type Handle struct {
	jobID uuid.UUID
	res   *resolution
}

type resolution struct {
	done    chan struct{}
	outcome Outcome
}

func newResolution() *resolution {
	return &resolution{done: make(chan struct{})}
}

// JobID returns the ID of the observed job.
func (h *Handle) JobID() uuid.UUID {
	return h.jobID
}

// Wait blocks until the job is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.res.done:
		return h.res.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Poll returns the outcome without blocking. The boolean is false while the
// job is not terminal.
func (h *Handle) Poll() (Outcome, bool) {
	select {
	case <-h.res.done:
		return h.res.outcome, true
	default:
		return Outcome{}, false
	}
}

// JobBatch is a group of jobs sharing one fan-in point. It is terminal once
// every member is terminal.
type JobBatch struct {
	ID        uuid.UUID
	MemberIDs []uuid.UUID
}

// BatchHandle observes a JobBatch.
type BatchHandle struct {
	batch   JobBatch
	members []*Handle
}

// Batch returns the batch description.
func (b *BatchHandle) Batch() JobBatch {
	return b.batch
}

// Len returns the number of member jobs.
func (b *BatchHandle) Len() int {
	return len(b.members)
}

// Done reports whether every member is terminal. An empty batch is always done.
func (b *BatchHandle) Done() bool {
	for _, h := range b.members {
		if _, ok := h.Poll(); !ok {
			return false
		}
	}
	return true
}

// Wait blocks until every member job is terminal and returns their outcomes
// in submission order.
func (b *BatchHandle) Wait(ctx context.Context) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(b.members))
	for _, h := range b.members {
		o, err := h.Wait(ctx)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// Results is the non-blocking counterpart of Wait. It returns ErrBatchPending
// unless the batch is terminal.
func (b *BatchHandle) Results() ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(b.members))
	for _, h := range b.members {
		o, ok := h.Poll()
		if !ok {
			return nil, ErrBatchPending
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}
