package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/httpclient"
	"github.com/swisspipe/engine/internal/worker"
)

// Heartbeat stamps the execution's updated_at so a stuck worker is
// detectable by its staleness (§4.2).
func (s *Store) Heartbeat(ctx context.Context, executionID string) error {
	_, err := s.db.Exec(ctx, `UPDATE executions SET updated_at = now() WHERE id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// IsCancelled reports whether executionID has been cancelled since the
// caller's job was claimed.
func (s *Store) IsCancelled(ctx context.Context, executionID string) (bool, error) {
	var status domain.ExecutionStatus
	err := s.db.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1`, executionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrExecutionNotFound
		}
		return false, fmt.Errorf("is cancelled: %w", err)
	}
	return status == domain.ExecutionCancelled, nil
}

// SaveStep upserts one execution step record, keyed by (execution_id, node_id).
func (s *Store) SaveStep(ctx context.Context, step domain.ExecutionStep) error {
	inputRaw, err := toJSON(step.InputData)
	if err != nil {
		return err
	}
	outputRaw, err := toJSON(step.OutputData)
	if err != nil {
		return err
	}
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO execution_steps (id, execution_id, node_id, status, input_data, output_data, error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			status = EXCLUDED.status,
			input_data = EXCLUDED.input_data,
			output_data = EXCLUDED.output_data,
			error_message = EXCLUDED.error_message,
			started_at = COALESCE(execution_steps.started_at, EXCLUDED.started_at),
			completed_at = EXCLUDED.completed_at`,
		step.ID, step.ExecutionID, step.NodeID, step.Status, inputRaw, outputRaw, step.ErrorMessage, step.StartedAt, step.CompletedAt)
	if err != nil {
		return fmt.Errorf("save step: %w", err)
	}
	return nil
}

// MarkNodesSkipped marks every listed node id's step as skipped with
// reason, for the branch not taken out of a Condition or HIL node.
func (s *Store) MarkNodesSkipped(ctx context.Context, executionID string, nodeIDs []string, reason string) error {
	for _, nodeID := range nodeIDs {
		_, err := s.db.Exec(ctx, `
			INSERT INTO execution_steps (id, execution_id, node_id, status, error_message, completed_at)
			VALUES ($1, $2, $3, 'skipped', $4, now())
			ON CONFLICT (execution_id, node_id) DO UPDATE SET
				status = 'skipped', error_message = EXCLUDED.error_message, completed_at = now()`,
			uuid.NewString(), executionID, nodeID, reason)
		if err != nil {
			return fmt.Errorf("mark node %s skipped: %w", nodeID, err)
		}
	}
	return nil
}

// AdjustActivePaths atomically changes the execution's active-path
// counter and returns the resulting count, letting the caller detect
// when the last fan-out branch has terminated.
func (s *Store) AdjustActivePaths(ctx context.Context, executionID string, delta int) (int, error) {
	var remaining int
	err := s.db.QueryRow(ctx, `
		UPDATE executions SET active_paths = active_paths + $2, updated_at = now()
		WHERE id = $1 RETURNING active_paths`, executionID, delta).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrExecutionNotFound
		}
		return 0, fmt.Errorf("adjust active paths: %w", err)
	}
	return remaining, nil
}

// CompleteExecution marks the execution completed with output, only if
// not already terminal.
func (s *Store) CompleteExecution(ctx context.Context, executionID string, output any) error {
	outputRaw, err := toJSON(output)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE executions SET status = 'completed', output_data = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`, executionID, outputRaw)
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil // already terminal: not an error, just a no-op (crash-recovery replay)
	}
	return nil
}

// FailExecution marks the execution failed with errMsg, only if not
// already terminal.
func (s *Store) FailExecution(ctx context.Context, executionID string, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE executions SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`, executionID, errMsg)
	if err != nil {
		return fmt.Errorf("fail execution: %w", err)
	}
	return nil
}

// enqueueJob inserts one job row. Shared by EnqueueJob and
// CreateExecution's initial job.
func (s *Store) enqueueJob(ctx context.Context, job domain.Job) error {
	payloadRaw, err := toJSON(job.Payload)
	if err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO jobs (id, execution_id, kind, payload, status, priority, scheduled_at, max_retries)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)`,
		job.ID, job.ExecutionID, job.Kind, payloadRaw, job.Priority, job.ScheduledAt, job.MaxRetries)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// EnqueueJob inserts a new resume job for a successor node or a
// suspension resumption.
func (s *Store) EnqueueJob(ctx context.Context, job domain.Job) error {
	return s.enqueueJob(ctx, job)
}

// CreateDelayTimer persists a delay timer row.
func (s *Store) CreateDelayTimer(ctx context.Context, timer domain.DelayTimer) error {
	loopRaw, err := toJSON(timer.LoopState)
	if err != nil {
		return err
	}
	if timer.ID == "" {
		timer.ID = uuid.NewString()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO delay_timers (id, execution_id, node_id, fire_at, kind, loop_state)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		timer.ID, timer.ExecutionID, timer.NodeID, timer.FireAt, timer.Kind, loopRaw)
	if err != nil {
		return fmt.Errorf("create delay timer: %w", err)
	}
	return nil
}

// CreateHILTask transactionally creates the task row, persists the
// execution's resumption state, and enqueues the notification job
// (§4.4.7).
func (s *Store) CreateHILTask(ctx context.Context, task domain.HILTask, notificationJob domain.Job) error {
	return s.atomic(ctx, "create_hil_task", func(tx *Store) error {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		_, err := tx.db.Exec(ctx, `
			INSERT INTO hil_tasks (id, execution_id, node_execution_id, node_id, workflow_id, title, description, status, timeout_at, timeout_action)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9)`,
			task.ID, task.ExecutionID, task.NodeExecutionID, task.NodeID, task.WorkflowID, task.Title, task.Description, task.TimeoutAt, task.TimeoutAction)
		if err != nil {
			return fmt.Errorf("insert hil task: %w", err)
		}

		_, err = tx.db.Exec(ctx, `
			UPDATE executions SET current_node_id = $3, hil_task_id = $2, updated_at = now() WHERE id = $1`,
			task.ExecutionID, task.ID, task.NodeID)
		if err != nil {
			return fmt.Errorf("persist hil resumption state: %w", err)
		}

		return tx.enqueueJob(ctx, notificationJob)
	})
}

// FanInExpected returns the predecessor set and merge strategy a fan-in
// node was authored with. The timeout result is always nil: the nodes
// table stores no merge timeout, so a TimeoutBased join gets no deadline
// and waits for every predecessor.
func (s *Store) FanInExpected(ctx context.Context, workflowID, nodeID string) ([]string, domain.MergeStrategy, *time.Duration, error) {
	var strategy domain.MergeStrategy
	err := s.db.QueryRow(ctx, `SELECT merge_strategy FROM nodes WHERE workflow_id = $1 AND id = $2`, workflowID, nodeID).Scan(&strategy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil, domain.ErrNodeNotFound
		}
		return nil, "", nil, fmt.Errorf("fan in expected: %w", err)
	}
	if strategy == "" {
		strategy = domain.MergeWaitForAll
	}

	rows, err := s.db.Query(ctx, `SELECT from_node FROM edges WHERE workflow_id = $1 AND to_node = $2`, workflowID, nodeID)
	if err != nil {
		return nil, "", nil, fmt.Errorf("fan in predecessors: %w", err)
	}
	defer rows.Close()

	var predecessors []string
	for rows.Next() {
		var from string
		if err := rows.Scan(&from); err != nil {
			return nil, "", nil, fmt.Errorf("scan predecessor: %w", err)
		}
		predecessors = append(predecessors, from)
	}
	return predecessors, strategy, nil, rows.Err()
}

// MarkProcessing transitions a claimed job to processing, only if still
// claimed by workerID.
func (s *Store) MarkProcessing(ctx context.Context, jobID, workerID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'processing', updated_at = now() WHERE id = $1 AND claimed_by = $2`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}
	return nil
}

// CompleteJob marks a claimed job completed, only if still claimed by
// workerID (ownership-checked, §4.1).
func (s *Store) CompleteJob(ctx context.Context, jobID, workerID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'completed', updated_at = now() WHERE id = $1 AND claimed_by = $2`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}
	return nil
}

// FailJob applies policy to a failed job: either reschedules it with
// backoff (willRetry=true) or leaves it for the caller to dead-letter.
func (s *Store) FailJob(ctx context.Context, jobID, workerID, errMsg string, policy worker.RetryPolicy) (bool, error) {
	var retryCount, maxRetries int
	err := s.db.QueryRow(ctx, `
		SELECT retry_count, max_retries FROM jobs WHERE id = $1 AND claimed_by = $2`, jobID, workerID).Scan(&retryCount, &maxRetries)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrJobOwnershipLost
		}
		return false, fmt.Errorf("load job for failure: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = policy.MaxRetries
	}
	if retryCount >= maxRetries {
		return false, nil
	}

	delay, err := jitteredBackoff(policy, retryCount)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'pending', retry_count = retry_count + 1,
			scheduled_at = now() + $3, claimed_by = '', claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND claimed_by = $2`, jobID, workerID, delay)
	if err != nil {
		return false, fmt.Errorf("reschedule job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, domain.ErrJobOwnershipLost
	}
	return true, nil
}

// MoveToDeadLetter moves job out of the claimable queue permanently.
func (s *Store) MoveToDeadLetter(ctx context.Context, job domain.Job, workerID, errType, errMsg string, stackTrace *string) error {
	return s.atomic(ctx, "move_to_dead_letter", func(tx *Store) error {
		tag, err := tx.db.Exec(ctx, `
			UPDATE jobs SET status = 'dead_letter', updated_at = now() WHERE id = $1 AND claimed_by = $2`, job.ID, workerID)
		if err != nil {
			return fmt.Errorf("mark job dead letter: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrJobOwnershipLost
		}

		payloadRaw, err := toJSON(job.Payload)
		if err != nil {
			return err
		}
		stack := ""
		if stackTrace != nil {
			stack = *stackTrace
		}
		_, err = tx.db.Exec(ctx, `
			INSERT INTO dead_letter_jobs (id, original_job_id, execution_id, payload, error_type, error_message, stack_trace)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), job.ID, job.ExecutionID, payloadRaw, errType, errMsg, stack)
		if err != nil {
			return fmt.Errorf("insert dead letter row: %w", err)
		}
		return nil
	})
}

// jitteredBackoff computes backoff = min(max_delay, base_delay *
// multiplier^attempt), with multiplier 2 when the policy leaves it unset,
// and then samples a full-jitter sleep in [0, backoff) via httpclient's
// shared crypto/rand helper (§4.2, §7 "exponential backoff with full
// jitter").
func jitteredBackoff(policy worker.RetryPolicy, attempt int) (time.Duration, error) {
	base := policy.BaseDelay
	if base <= 0 {
		base = time.Minute
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	backoff := float64(base)
	for i := 0; i < attempt; i++ {
		backoff *= multiplier
		if time.Duration(backoff) > maxDelay {
			backoff = float64(maxDelay)
			break
		}
	}
	return httpclient.FullJitter(time.Duration(backoff))
}
