package task

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why an attempt failed.
type FailureKind string

// Failure kinds
const (
	FailureTransport   FailureKind = "transport"
	FailureStatus      FailureKind = "status"
	FailureEmpty       FailureKind = "empty_response"
	FailureRejected    FailureKind = "rejected"
	FailureTimeout     FailureKind = "timeout"
	FailurePanic       FailureKind = "panic"
	FailureInput       FailureKind = "input"
	FailureIO          FailureKind = "io"
	FailureInterrupted FailureKind = "interrupted"
)

// Errors that collaborators wrap so that operations can classify them.
var (
	ErrStatusCode    = errors.New("non-success status code")
	ErrEmptyResponse = errors.New("empty response body")
	ErrRejected      = errors.New("remote rejected request")
)

// Failure is the typed error carried by an unsuccessful Result.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is what an Operation returns for one attempt.
// A nil Failure means the attempt succeeded.
type Result struct {
	Output  string
	Failure *Failure
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

// Succeed returns a successful Result.
func Succeed(output string) Result {
	return Result{Output: output}
}

// Fail returns a failed Result of the given kind.
func Fail(kind FailureKind, err error) Result {
	return Result{Failure: &Failure{Kind: kind, Err: err}}
}

// Classify maps a collaborator error to a failed Result.
func Classify(err error) Result {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Fail(FailureTimeout, err)
	case errors.Is(err, ErrStatusCode):
		return Fail(FailureStatus, err)
	case errors.Is(err, ErrEmptyResponse):
		return Fail(FailureEmpty, err)
	case errors.Is(err, ErrRejected):
		return Fail(FailureRejected, err)
	default:
		return Fail(FailureTransport, err)
	}
}
