package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownKind is returned when a job names a kind with no registered Definition.
var ErrUnknownKind = errors.New("unknown job kind")

// Operation performs one attempt of a job.
type Operation func(ctx context.Context, job *Job) Result

// Hooks are invoked once a job reaches a terminal state.
// Errors they return are logged by the dispatcher and never retried.
type Hooks struct {
	OnSuccess func(ctx context.Context, job *Job, result Result) error
	OnFailure func(ctx context.Context, job *Job, failure *Failure) error
}

// Definition describes one job kind: what it runs, how it is retried, and
// which hooks observe its terminal outcome.
type Definition struct {
	Kind      Kind
	Operation Operation
	Policy    RetryPolicy
	Hooks     Hooks
}

// Registry maps job kinds to their definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[Kind]*Definition
}

// NewRegistry creates a registry holding defs.
func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{defs: make(map[Kind]*Definition, len(defs))}
	for _, def := range defs {
		r.Register(def)
	}
	return r
}

// Register adds or replaces the definition for def.Kind.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Kind] = def
}

// Get returns the definition for kind.
func (r *Registry) Get(kind Kind) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return def, nil
}
