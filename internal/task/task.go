package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a job kind and selects its Definition in the Registry.
type Kind string

// Job kinds
const (
	// KindRemoteCall posts a form to a remote HTTP endpoint
	KindRemoteCall Kind = "remote_call"
	// KindAssetFetch downloads a remote asset to a local directory
	KindAssetFetch Kind = "asset_fetch"
	// KindNotify delivers a converted artifact to its recipient
	KindNotify Kind = "notify"
)

// State represents the current state of a job
type State string

// Possible job state values
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateRetrying  State = "retrying"
	StateFailed    State = "failed"
)

// IsTerminal reports whether s is succeeded or failed.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Payload is the typed input of a job. Every payload names the submission
// whose status the job's hooks update.
type Payload interface {
	TargetID() string
}

// Job is one unit of asynchronous work with bounded retries.
// A job in a terminal state is never modified again.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	Kind           Kind            `json:"kind"`
	StatusTargetID string          `json:"status_target_id"`
	Payload        json.RawMessage `json:"payload"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	State          State           `json:"state"`
	LastError      string          `json:"last_error,omitempty"`
	RunAt          time.Time       `json:"run_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewJob creates a queued job of the given kind carrying payload as JSON.
// MaxAttempts is left at zero so that the dispatcher applies the kind's policy.
func NewJob(kind Kind, payload Payload) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	now := time.Now().UTC()
	return &Job{
		ID:             uuid.New(),
		Kind:           kind,
		StatusTargetID: payload.TargetID(),
		Payload:        data,
		State:          StateQueued,
		RunAt:          now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsTerminal reports whether the job has reached succeeded or failed.
func (j *Job) IsTerminal() bool {
	return j.State.IsTerminal()
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", j.Kind, err)
	}
	return nil
}

// JobStore defines the interface for persisting jobs
type JobStore interface {
	// SaveJob persists a new job
	SaveJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// ClaimJob atomically moves a queued or retrying job to running,
	// increments its attempt count, and returns the updated job.
	// Returns ErrJobNotClaimable if the job is in any other state.
	ClaimJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// UpdateJob records the outcome of the attempt job.AttemptCount. The
	// write only applies while the stored job is running that same attempt.
	// Returns ErrJobTerminal if the stored job is already terminal and
	// ErrAttemptSuperseded if it moved on to another state or attempt.
	UpdateJob(ctx context.Context, job *Job) error

	// GetPendingJobs retrieves queued and retrying jobs.
	// If olderThan is non-zero, only returns jobs whose run time passed
	// more than olderThan ago
	GetPendingJobs(ctx context.Context, olderThan time.Duration) ([]*Job, error)

	// GetRunningJobs retrieves jobs with "running" state.
	// If olderThan is non-zero, only returns jobs that have been in this state
	// longer than the specified duration
	GetRunningJobs(ctx context.Context, olderThan time.Duration) ([]*Job, error)
}
