package worker

import (
	"errors"
	"fmt"
)

// === Retry classification ===

// RetryableError wraps transient failures a job should be retried for:
// DB connection loss, lock contention, HTTP 5xx, timeouts. Anything not
// wrapped with Transient is treated as permanent and dead-lettered
// without retry.
type RetryableError struct {
	Err error
	// Policy overrides the worker pool's default RetryPolicy when set —
	// used to carry a node's own RetryConfig through to FailJob.
	Policy *RetryPolicy
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Transient marks err as retryable with exponential backoff, using the
// worker pool's default RetryPolicy.
func Transient(err error) error {
	return RetryableError{Err: err}
}

// TransientWithPolicy marks err as retryable using policy instead of the
// pool-wide default, so a node's own RetryConfig governs its backoff and
// attempt budget (§4.4.5 "the whole node is retried using retry-config").
func TransientWithPolicy(err error, policy RetryPolicy) error {
	return RetryableError{Err: err, Policy: &policy}
}

// IsRetryable reports whether err (or something it wraps) was marked
// Transient.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// RetryPolicyFor returns the policy embedded by TransientWithPolicy, if
// err carries one.
func RetryPolicyFor(err error) (RetryPolicy, bool) {
	var retryable RetryableError
	if errors.As(err, &retryable) && retryable.Policy != nil {
		return *retryable.Policy, true
	}
	return RetryPolicy{}, false
}

// === Panic handling ===

// PanicError records a recovered panic from inside job processing.
// Panicking jobs are dead-lettered immediately: a panic means a
// programming error, not a transient condition worth retrying.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic reports whether err is a PanicError.
func IsPanic(err error) bool {
	var panicErr PanicError
	return errors.As(err, &panicErr)
}

// === Worker-initiated cancellation ===

// JobCancelled signals the job is unrecoverable and should be
// dead-lettered without retry — for example, its execution was
// cancelled out from under it, or the workflow it referenced no longer
// exists.
type JobCancelled struct {
	Reason string
}

func (e JobCancelled) Error() string {
	return fmt.Sprintf("job cancelled: %s", e.Reason)
}

// IsJobCancelled reports whether err is a JobCancelled.
func IsJobCancelled(err error) bool {
	var cancelled JobCancelled
	return errors.As(err, &cancelled)
}
