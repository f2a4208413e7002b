package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/executor"
	"github.com/swisspipe/engine/internal/merge"
)

func captureStack() string { return string(debug.Stack()) }

// runNode loads the execution context, checks for cancellation, runs the
// node the job points at, and acts on the executor's result: persist the
// step, fan out continuation jobs, create a delay timer or HIL task, or
// terminate the execution.
func (p *Pool) runNode(ctx context.Context, workerID string, job domain.Job) error {
	execn, err := p.repo.LoadExecution(ctx, job.ExecutionID)
	if err != nil {
		if errors.Is(err, domain.ErrExecutionNotFound) {
			return JobCancelled{Reason: "execution no longer exists"}
		}
		return Transient(err)
	}
	if execn.Status.IsTerminal() {
		return nil // already resolved (e.g. cancelled) — nothing to do
	}

	cancelled, err := p.repo.IsCancelled(ctx, job.ExecutionID)
	if err != nil {
		return Transient(err)
	}
	if cancelled {
		return nil
	}

	wf, err := p.repo.LoadWorkflow(ctx, execn.WorkflowID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowNotFound) {
			return JobCancelled{Reason: "workflow no longer exists"}
		}
		return Transient(err)
	}

	node, ok := wf.NodeByID(job.Payload.NodeID)
	if !ok {
		return JobCancelled{Reason: fmt.Sprintf("node %q no longer exists in workflow", job.Payload.NodeID)}
	}

	input := execn.InputDataAsEvent()
	if job.Payload.ResumeEvent != nil {
		input = *job.Payload.ResumeEvent
	}
	loopState := job.Payload.LoopState

	now := time.Now()
	step := domain.ExecutionStep{
		ExecutionID: job.ExecutionID,
		NodeID:      node.ID,
		Status:      domain.StepRunning,
		InputData:   input.Data,
		StartedAt:   &now,
	}
	if err := p.repo.SaveStep(ctx, step); err != nil {
		return Transient(fmt.Errorf("save running step: %w", err))
	}

	result := p.exec.Execute(ctx, node, input, loopState)

	switch result.Kind {
	case executor.Proceed:
		return p.onProceed(ctx, execn, wf, node, result)
	case executor.Drop:
		return p.onTerminalPath(ctx, execn, node, domain.StepCompleted, "")
	case executor.SuspendDelay:
		return p.onSuspendDelay(ctx, execn, node, result)
	case executor.SuspendHIL:
		return p.onSuspendHIL(ctx, execn, wf, node, result)
	case executor.Failed:
		return p.onFailed(ctx, execn, wf, node, result.Err)
	default:
		return fmt.Errorf("worker: unknown executor result kind %v", result.Kind)
	}
}

func (p *Pool) onProceed(ctx context.Context, execn *domain.Execution, wf *domain.Workflow, node domain.Node, result executor.Result) error {
	completed := time.Now()
	finished := domain.ExecutionStep{
		ExecutionID: execn.ID,
		NodeID:      node.ID,
		Status:      domain.StepCompleted,
		OutputData:  result.Output.Data,
		CompletedAt: &completed,
	}
	if err := p.repo.SaveStep(ctx, finished); err != nil {
		return Transient(fmt.Errorf("save completed step: %w", err))
	}

	successors, skipped := selectSuccessors(wf, node.ID, result.Branch)
	if len(skipped) > 0 {
		if err := p.repo.MarkNodesSkipped(ctx, execn.ID, skipped, fmt.Sprintf("branch %q not taken from %s", result.Branch, node.ID)); err != nil {
			return Transient(fmt.Errorf("mark skipped: %w", err))
		}
	}

	if len(successors) == 0 {
		return p.finishPath(ctx, execn.ID, result.Output)
	}

	return p.fanOut(ctx, execn, wf, node.ID, successors, result.Output)
}

// fanOut enqueues one resume job per successor node, resolving fan-in
// predecessors through the merge coordinator before a successor with
// more than one incoming edge is allowed to run. predecessorID is the
// node that just ran, i.e. the origin of output.
func (p *Pool) fanOut(ctx context.Context, execn *domain.Execution, wf *domain.Workflow, predecessorID string, successors []string, output domain.Event) error {
	if len(successors) > 1 {
		if _, err := p.repo.AdjustActivePaths(ctx, execn.ID, len(successors)-1); err != nil {
			return Transient(fmt.Errorf("adjust active paths: %w", err))
		}
	}

	for _, successorID := range successors {
		predecessors := wf.EdgesTo(successorID)
		if len(predecessors) <= 1 {
			if err := p.enqueueResume(ctx, execn.ID, successorID, output); err != nil {
				return err
			}
			continue
		}

		successorNode, _ := wf.NodeByID(successorID)
		predIDs, strategy, timeout, err := p.repo.FanInExpected(ctx, wf.ID, successorID)
		if err != nil {
			return Transient(fmt.Errorf("load fan-in expectations: %w", err))
		}
		if strategy == "" {
			strategy = successorNode.MergeStrategy
		}
		if strategy == "" {
			strategy = domain.MergeWaitForAll
		}
		var deadline *time.Time
		if strategy == domain.MergeTimeoutBased && timeout != nil {
			d := time.Now().Add(*timeout)
			deadline = &d
		}

		arrival, err := p.merge.Arrive(ctx, execn.ID, successorID, predecessorID, output, predIDs, strategy, deadline)
		if err != nil {
			return Transient(fmt.Errorf("merge arrival: %w", err))
		}
		// A successor is only ready once every tracked predecessor has
		// reported; since fanOut only ever has the single output from
		// the node that just ran, readiness is re-checked by whichever
		// call supplies the final missing predecessor. Enqueue a resume
		// job unconditionally is wrong for true multi-predecessor
		// fan-in, so we gate on Arrival.Ready.
		if arrival.Ready {
			merged := merge.MergeEvents(arrival.Events)
			if err := p.enqueueResume(ctx, execn.ID, successorID, merged); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pool) enqueueResume(ctx context.Context, executionID, nodeID string, event domain.Event) error {
	job := domain.Job{
		ExecutionID: executionID,
		Kind:        domain.JobKindResume,
		Status:      domain.JobPending,
		ScheduledAt: time.Now(),
		Payload:     domain.JobPayload{NodeID: nodeID, ResumeEvent: &event},
	}
	if err := p.repo.EnqueueJob(ctx, job); err != nil {
		return Transient(fmt.Errorf("enqueue resume job: %w", err))
	}
	return nil
}

// finishPath closes out one DAG path (no successors to continue to) and
// completes the execution once every fanned-out path has finished.
func (p *Pool) finishPath(ctx context.Context, executionID string, output domain.Event) error {
	remaining, err := p.repo.AdjustActivePaths(ctx, executionID, -1)
	if err != nil {
		return Transient(fmt.Errorf("adjust active paths: %w", err))
	}
	if remaining <= 0 {
		if err := p.repo.CompleteExecution(ctx, executionID, output.Data); err != nil {
			return Transient(fmt.Errorf("complete execution: %w", err))
		}
	}
	return nil
}

func (p *Pool) onTerminalPath(ctx context.Context, execn *domain.Execution, node domain.Node, status domain.StepStatus, errMsg string) error {
	completed := time.Now()
	if err := p.repo.SaveStep(ctx, domain.ExecutionStep{
		ExecutionID:  execn.ID,
		NodeID:       node.ID,
		Status:       status,
		ErrorMessage: errMsg,
		CompletedAt:  &completed,
	}); err != nil {
		return Transient(fmt.Errorf("save step: %w", err))
	}
	return p.finishPath(ctx, execn.ID, domain.Event{})
}

func (p *Pool) onSuspendDelay(ctx context.Context, execn *domain.Execution, node domain.Node, result executor.Result) error {
	completed := time.Now()
	if err := p.repo.SaveStep(ctx, domain.ExecutionStep{
		ExecutionID: execn.ID,
		NodeID:      node.ID,
		Status:      domain.StepCompleted,
		OutputData:  result.Output.Data,
		CompletedAt: &completed,
	}); err != nil {
		return Transient(fmt.Errorf("save step: %w", err))
	}

	timer := domain.DelayTimer{
		ExecutionID: execn.ID,
		NodeID:      node.ID,
		FireAt:      result.Timer.FireAt,
		Kind:        result.Timer.Kind,
		LoopState:   result.Timer.LoopState,
	}
	if err := p.repo.CreateDelayTimer(ctx, timer); err != nil {
		return Transient(fmt.Errorf("create delay timer: %w", err))
	}
	return nil
}

func (p *Pool) onSuspendHIL(ctx context.Context, execn *domain.Execution, wf *domain.Workflow, node domain.Node, result executor.Result) error {
	completed := time.Now()
	if err := p.repo.SaveStep(ctx, domain.ExecutionStep{
		ExecutionID: execn.ID,
		NodeID:      node.ID,
		Status:      domain.StepCompleted,
		CompletedAt: &completed,
	}); err != nil {
		return Transient(fmt.Errorf("save step: %w", err))
	}

	task := domain.HILTask{
		ExecutionID:   execn.ID,
		NodeExecutionID: execn.ID + ":" + node.ID,
		NodeID:        node.ID,
		WorkflowID:    wf.ID,
		Title:         result.HIL.Title,
		Description:   result.HIL.Description,
		Status:        domain.HILPending,
		TimeoutAt:     result.HIL.TimeoutAt,
		TimeoutAction: result.HIL.TimeoutAction,
	}

	successors, skipped := selectSuccessors(wf, node.ID, domain.BranchNotification)
	if err := p.repo.MarkNodesSkipped(ctx, execn.ID, skipped, "not the notification branch"); err != nil {
		return Transient(fmt.Errorf("mark skipped: %w", err))
	}
	if len(successors) == 0 {
		return Transient(fmt.Errorf("human-in-loop node %s has no notification edge", node.ID))
	}

	notificationJob := domain.Job{
		ExecutionID: execn.ID,
		Kind:        domain.JobKindResume,
		Status:      domain.JobPending,
		ScheduledAt: time.Now(),
		Payload:     domain.JobPayload{NodeID: successors[0], ResumeEvent: &result.HIL.NotificationEvent},
	}

	if err := p.repo.CreateHILTask(ctx, task, notificationJob); err != nil {
		return Transient(fmt.Errorf("create hil task: %w", err))
	}
	return nil
}

func (p *Pool) onFailed(ctx context.Context, execn *domain.Execution, wf *domain.Workflow, node domain.Node, cause error) error {
	completed := time.Now()
	if err := p.repo.SaveStep(ctx, domain.ExecutionStep{
		ExecutionID:  execn.ID,
		NodeID:       node.ID,
		Status:       domain.StepFailed,
		ErrorMessage: cause.Error(),
		CompletedAt:  &completed,
	}); err != nil {
		return Transient(fmt.Errorf("save failed step: %w", err))
	}

	action := node.FailureAction
	if action == "" {
		action = domain.FailureStop
	}

	switch action {
	case domain.FailureContinue:
		successors, skipped := selectSuccessors(wf, node.ID, domain.BranchNone)
		if err := p.repo.MarkNodesSkipped(ctx, execn.ID, skipped, "branch not taken"); err != nil {
			return Transient(fmt.Errorf("mark skipped: %w", err))
		}
		if len(successors) == 0 {
			return p.finishPath(ctx, execn.ID, domain.Event{})
		}
		// downstream receives the input event unchanged (§4.4.5)
		return p.fanOut(ctx, execn, wf, node.ID, successors, domain.Event{})
	case domain.FailureRetry:
		retryErr := fmt.Errorf("node %s failed, retrying: %w", node.ID, cause)
		if node.RetryConfig != nil {
			return TransientWithPolicy(retryErr, retryPolicyFromNodeConfig(*node.RetryConfig))
		}
		return Transient(retryErr)
	default: // FailureStop
		if err := p.repo.FailExecution(ctx, execn.ID, cause.Error()); err != nil {
			return Transient(fmt.Errorf("fail execution: %w", err))
		}
		return nil
	}
}

// retryPolicyFromNodeConfig converts a node's own RetryConfig into the
// shape FailJob understands, so a node's configured attempt budget and
// backoff override the worker-pool-wide default.
func retryPolicyFromNodeConfig(rc domain.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: rc.MaxAttempts,
		BaseDelay:  rc.InitialDelay,
		MaxDelay:   rc.MaxDelay,
		Multiplier: rc.Multiplier,
	}
}

// selectSuccessors returns the successor node ids the given branch
// should follow, and the successor node ids on *other* labeled branches
// that should be marked skipped instead.
func selectSuccessors(wf *domain.Workflow, nodeID string, branch domain.EdgeBranch) (follow, skip []string) {
	for _, e := range wf.EdgesFrom(nodeID) {
		if e.Branch == branch || (branch == domain.BranchNone && e.Branch == domain.BranchNone) {
			follow = append(follow, e.To)
		} else if branch != domain.BranchNone {
			skip = append(skip, e.To)
		}
	}
	return follow, skip
}

// handleJobError routes a failed job to retry, dead-letter, or an
// ownership no-op depending on the error and the job's remaining
// attempts.
func (p *Pool) handleJobError(ctx context.Context, workerID string, job domain.Job, err error) {
	if res := p.cfg.ErrorHandler.HandleError(ctx, &job, err); res != nil && res.SetCancelled {
		if dlErr := p.repo.MoveToDeadLetter(ctx, job, workerID, "cancelled", err.Error(), nil); dlErr != nil {
			if !errors.Is(dlErr, domain.ErrJobOwnershipLost) {
				p.logDeadLetterFailure(ctx, job, dlErr)
			}
		}
		return
	}

	if IsPanic(err) {
		var panicErr PanicError
		errors.As(err, &panicErr)
		if dlErr := p.repo.MoveToDeadLetter(ctx, job, workerID, "panic", panicErr.Error(), &panicErr.StackTrace); dlErr != nil {
			if !errors.Is(dlErr, domain.ErrJobOwnershipLost) {
				p.logDeadLetterFailure(ctx, job, dlErr)
			}
		}
		return
	}

	if IsJobCancelled(err) {
		if dlErr := p.repo.MoveToDeadLetter(ctx, job, workerID, "permanent", err.Error(), nil); dlErr != nil {
			if !errors.Is(dlErr, domain.ErrJobOwnershipLost) {
				p.logDeadLetterFailure(ctx, job, dlErr)
			}
		}
		return
	}

	if IsRetryable(err) {
		policy := p.cfg.RetryPolicy
		if override, ok := RetryPolicyFor(err); ok {
			policy = override
		}
		willRetry, failErr := p.repo.FailJob(ctx, job.ID, workerID, err.Error(), policy)
		if failErr != nil {
			p.logDeadLetterFailure(ctx, job, failErr)
			return
		}
		if !willRetry {
			if dlErr := p.repo.MoveToDeadLetter(ctx, job, workerID, "exhausted", err.Error(), nil); dlErr != nil {
				if !errors.Is(dlErr, domain.ErrJobOwnershipLost) {
					p.logDeadLetterFailure(ctx, job, dlErr)
				}
			}
		}
		return
	}

	if dlErr := p.repo.MoveToDeadLetter(ctx, job, workerID, "permanent", err.Error(), nil); dlErr != nil {
		if !errors.Is(dlErr, domain.ErrJobOwnershipLost) {
			p.logDeadLetterFailure(ctx, job, dlErr)
		}
	}
}

func (p *Pool) logDeadLetterFailure(ctx context.Context, job domain.Job, err error) {
	slog.ErrorContext(ctx, "job could not be retried or dead-lettered", "job_id", job.ID, "error", err)
}
