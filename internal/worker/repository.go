package worker

import (
	"context"
	"time"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/merge"
)

// RetryPolicy parameterizes exponential backoff with full jitter for
// job-level retries (§4.2, §7 "Transient infrastructure errors ...
// retried locally").
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Multiplier is the per-attempt backoff growth factor. Zero means 2
	// (the pool-wide default), letting a node's own RetryConfig override
	// it without every caller having to set it explicitly.
	Multiplier float64
}

// Repository is every storage operation the worker pool needs to drive
// one job to completion, suspension, or failure. Owned by this package
// (the consumer), not by the storage layer.
type Repository interface {
	// LoadExecution returns the execution row, or domain.ErrExecutionNotFound.
	LoadExecution(ctx context.Context, executionID string) (*domain.Execution, error)

	// MarkProcessing transitions a claimed job to processing, once the
	// worker actually starts running its node (§4.8 claimed/processing
	// pool-stats distinction).
	MarkProcessing(ctx context.Context, jobID, workerID string) error
	// LoadWorkflow returns the workflow definition an execution runs
	// against, or domain.ErrWorkflowNotFound.
	LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error)

	// Heartbeat stamps the execution's updated_at so stuck workers are
	// detectable (§4.2).
	Heartbeat(ctx context.Context, executionID string) error

	// IsCancelled reports whether the execution has been cancelled since
	// the job was claimed, so a worker mid-node can bail cleanly (§5
	// "Cancellation").
	IsCancelled(ctx context.Context, executionID string) (bool, error)

	// SaveStep upserts one execution step record.
	SaveStep(ctx context.Context, step domain.ExecutionStep) error

	// MarkNodesSkipped marks every execution step for nodeIDs (creating
	// one if absent) as skipped with reason, for successors along a
	// branch that was not taken.
	MarkNodesSkipped(ctx context.Context, executionID string, nodeIDs []string, reason string) error

	// AdjustActivePaths atomically changes the execution's active DAG
	// path counter by delta and returns the resulting count. The worker
	// uses this to know when the last path has terminated.
	AdjustActivePaths(ctx context.Context, executionID string, delta int) (remaining int, err error)

	// CompleteExecution marks the execution completed with the given
	// final output, only if it is not already terminal.
	CompleteExecution(ctx context.Context, executionID string, output any) error
	// FailExecution marks the execution failed with the given message,
	// only if it is not already terminal.
	FailExecution(ctx context.Context, executionID string, errMsg string) error

	// EnqueueJob inserts a new resume job for a successor node. Used for
	// fan-out (one job per successor) and for every kind of suspension
	// resumption (delay fire, HIL response, loop iteration).
	EnqueueJob(ctx context.Context, job domain.Job) error

	// CreateDelayTimer persists a delay timer row (§4.4.6, §4.4.4 loop
	// iterations). The worker marks its own job completed after this
	// returns; the delay scheduler owns firing it later.
	CreateDelayTimer(ctx context.Context, timer domain.DelayTimer) error

	// CreateHILTask transactionally creates the HIL task row, persists
	// the execution's resumption state, and enqueues the notification
	// job in one transaction (§4.4.7: "Create a HIL task row
	// (transactionally)... Persist workflow resumption state...
	// Immediately enqueue a continuation job").
	CreateHILTask(ctx context.Context, task domain.HILTask, notificationJob domain.Job) error

	// FanInExpected returns the predecessor node ids, merge strategy, and
	// optional timeout a fan-in node was authored with, so the input
	// coordinator knows what it is waiting for.
	FanInExpected(ctx context.Context, workflowID, nodeID string) (predecessors []string, strategy domain.MergeStrategy, timeout *time.Duration, err error)

	// === Job terminal-state transitions (ownership-checked) ===

	CompleteJob(ctx context.Context, jobID, workerID string) error
	FailJob(ctx context.Context, jobID, workerID, errMsg string, policy RetryPolicy) (willRetry bool, err error)
	MoveToDeadLetter(ctx context.Context, job domain.Job, workerID, errType, errMsg string, stackTrace *string) error

	merge.Repository
}
