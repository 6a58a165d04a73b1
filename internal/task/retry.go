package task

import (
	"time"

	"github.com/phrazzld/bookpush/internal/config"
)

// DefaultMaxAttempts is the total number of attempts, the first included,
// allowed for every job kind unless configured otherwise.
const DefaultMaxAttempts = 3

// Default fixed delays before a failed attempt is retried
const (
	DefaultRemoteCallDelay = 20 * time.Second
	DefaultAssetFetchDelay = 20 * time.Second
	DefaultNotifyDelay     = 30 * time.Second
	DefaultAttemptTimeout  = 2 * time.Minute
)

// RetryPolicy is the static retry configuration of one job kind.
// Delays are fixed, not exponential.
type RetryPolicy struct {
	MaxAttempts    int
	Delay          time.Duration
	AttemptTimeout time.Duration
}

// Decision is the outcome of consulting a RetryPolicy after a failed attempt.
type Decision struct {
	Retry bool
	After time.Duration
}

// GiveUp is the decision to stop retrying.
var GiveUp = Decision{}

// Decide reports whether a job that failed its attemptCount-th attempt should
// run again. Every failure kind is treated alike; once attemptCount reaches
// maxAttempts the answer is GiveUp.
func (p RetryPolicy) Decide(attemptCount, maxAttempts int, failure *Failure) Decision {
	if failure == nil {
		return GiveUp
	}
	if maxAttempts <= 0 {
		maxAttempts = p.MaxAttempts
	}
	if attemptCount >= maxAttempts {
		return GiveUp
	}
	return Decision{Retry: true, After: p.Delay}
}

// DefaultRetryPolicy returns the built-in policy for kind.
func DefaultRetryPolicy(kind Kind) RetryPolicy {
	policy := RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
	}
	switch kind {
	case KindRemoteCall:
		policy.Delay = DefaultRemoteCallDelay
	case KindAssetFetch:
		policy.Delay = DefaultAssetFetchDelay
	case KindNotify:
		policy.Delay = DefaultNotifyDelay
	}
	return policy
}

// RetryPolicyFromConfig builds the policy for kind from explicit configuration.
// Zero values fall back to the defaults.
func RetryPolicyFromConfig(kind Kind, cfg config.TaskConfig) RetryPolicy {
	policy := DefaultRetryPolicy(kind)
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.AttemptTimeout > 0 {
		policy.AttemptTimeout = cfg.AttemptTimeout
	}

	var delay time.Duration
	switch kind {
	case KindRemoteCall:
		delay = cfg.RemoteCallDelay
	case KindAssetFetch:
		delay = cfg.AssetFetchDelay
	case KindNotify:
		delay = cfg.NotifyDelay
	}
	if delay > 0 {
		policy.Delay = delay
	}
	return policy
}
