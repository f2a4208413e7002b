package domain

import "errors"

// Sentinel errors returned by the persistence layer and consumed with
// errors.Is by callers that need to distinguish "not found" from other
// failures without depending on storage-specific error types.
var (
	ErrWorkflowNotFound      = errors.New("workflow not found")
	ErrNodeNotFound          = errors.New("node not found")
	ErrExecutionNotFound     = errors.New("execution not found")
	ErrExecutionStepNotFound = errors.New("execution step not found")
	ErrJobNotFound           = errors.New("job not found")
	ErrHILTaskNotFound       = errors.New("human-in-the-loop task not found")
	ErrDelayTimerNotFound    = errors.New("delay timer not found")
	ErrScheduledTriggerNotFound = errors.New("scheduled trigger not found")
	ErrDeadLetterNotFound    = errors.New("dead letter job not found")

	// ErrJobOwnershipLost is returned by a claimed-row mutation (mark
	// processing, complete, fail, dead-letter) when the row is no longer claimed by the
	// caller's worker id — another dispatcher pass reclaimed it first.
	// Callers must treat this as a no-op, not an error to retry.
	ErrJobOwnershipLost = errors.New("job is no longer claimed by this worker")

	// ErrJobNotClaimable reports a job that is already in a terminal
	// status.
	ErrJobNotClaimable = errors.New("job is not in a claimable state")

	// ErrExecutionTerminal is returned when a mutation is attempted against
	// an execution that has already reached a terminal status.
	ErrExecutionTerminal = errors.New("execution has already reached a terminal status")

	// ErrHILTaskResolved is returned internally when a webhook response or
	// timeout sweep targets an already-resolved HIL task; callers treat it
	// as the idempotent success case, not a failure.
	ErrHILTaskResolved = errors.New("human-in-the-loop task already resolved")

	ErrCyclicWorkflow     = errors.New("workflow contains a cycle")
	ErrMissingStartNode   = errors.New("workflow has no start node")
	ErrDanglingEdge       = errors.New("edge references a node that does not exist")
	ErrInvalidCronExpr    = errors.New("invalid cron expression")
)
