package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swisspipe/engine/internal/domain"
)

// ListDelayTimers returns every timer row, used to rebuild in-memory
// timers on startup (§4.5).
func (s *Store) ListDelayTimers(ctx context.Context) ([]domain.DelayTimer, error) {
	rows, err := s.db.Query(ctx, `SELECT id, execution_id, node_id, fire_at, kind, loop_state FROM delay_timers`)
	if err != nil {
		return nil, fmt.Errorf("list delay timers: %w", err)
	}
	defer rows.Close()

	var out []domain.DelayTimer
	for rows.Next() {
		var t domain.DelayTimer
		var loopRaw []byte
		if err := rows.Scan(&t.ID, &t.ExecutionID, &t.NodeID, &t.FireAt, &t.Kind, &loopRaw); err != nil {
			return nil, fmt.Errorf("scan delay timer: %w", err)
		}
		if len(loopRaw) > 0 {
			var ls domain.LoopState
			if err := fromJSON(loopRaw, &ls); err != nil {
				return nil, err
			}
			t.LoopState = &ls
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Fire atomically deletes the timer row and enqueues the resumption job
// it describes — a plain node resumption for DelayTimerDelay, or a loop
// iteration resumption (carrying LoopState) for
// DelayTimerHTTPLoopIteration (§4.5 "transactional handoff").
func (s *Store) Fire(ctx context.Context, timerID string) error {
	return s.atomic(ctx, "fire_delay_timer", func(tx *Store) error {
		var t domain.DelayTimer
		var loopRaw []byte
		err := tx.db.QueryRow(ctx, `
			SELECT id, execution_id, node_id, fire_at, kind, loop_state FROM delay_timers WHERE id = $1 FOR UPDATE`, timerID).
			Scan(&t.ID, &t.ExecutionID, &t.NodeID, &t.FireAt, &t.Kind, &loopRaw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil // already fired by a concurrent call, or cancelled
			}
			return fmt.Errorf("load timer: %w", err)
		}
		if len(loopRaw) > 0 {
			var ls domain.LoopState
			if err := fromJSON(loopRaw, &ls); err != nil {
				return err
			}
			t.LoopState = &ls
		}

		if _, err := tx.db.Exec(ctx, `DELETE FROM delay_timers WHERE id = $1`, timerID); err != nil {
			return fmt.Errorf("delete timer: %w", err)
		}

		job := domain.Job{
			ID:          uuid.NewString(),
			ExecutionID: t.ExecutionID,
			Kind:        domain.JobKindResume,
			Payload:     domain.JobPayload{NodeID: t.NodeID, LoopState: t.LoopState},
			MaxRetries:  3,
			ScheduledAt: time.Now(),
		}
		return tx.enqueueJob(ctx, job)
	})
}

// CancelForExecution removes every delay timer belonging to executionID
// (§5 "Cancellation").
func (s *Store) CancelForExecution(ctx context.Context, executionID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM delay_timers WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("cancel delay timers: %w", err)
	}
	return nil
}

// ListEnabled returns every enabled scheduled trigger, used to rebuild
// in-memory cron timers on startup (§4.6).
func (s *Store) ListEnabled(ctx context.Context) ([]domain.ScheduledTrigger, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, workflow_id, trigger_node_id, cron_expression, timezone, enabled,
		       start_date, end_date, test_payload, last_execution_time, next_execution_time,
		       execution_count, failure_count
		FROM scheduled_triggers WHERE enabled`)
	if err != nil {
		return nil, fmt.Errorf("list enabled triggers: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledTrigger
	for rows.Next() {
		var t domain.ScheduledTrigger
		var payloadRaw []byte
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.TriggerNodeID, &t.CronExpression, &t.Timezone, &t.Enabled,
			&t.StartDate, &t.EndDate, &payloadRaw, &t.LastExecutionTime, &t.NextExecutionTime,
			&t.ExecutionCount, &t.FailureCount); err != nil {
			return nil, fmt.Errorf("scan scheduled trigger: %w", err)
		}
		if err := fromJSON(payloadRaw, &t.TestPayload); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CronRepository adapts Store to cronscheduler.Repository. It is a
// distinct type (rather than a method directly on Store) because its
// CreateExecution(trigger) signature would otherwise collide with
// execservice.Repository's CreateExecution(exec, job) on the same
// receiver.
type CronRepository struct{ *Store }

// CreateExecution synthesizes a fresh execution from trigger's test
// payload and enqueues its start job (§4.6 "on fire").
func (r CronRepository) CreateExecution(ctx context.Context, trigger domain.ScheduledTrigger) error {
	now := time.Now()
	exec := domain.Execution{
		ID:         uuid.NewString(),
		WorkflowID: trigger.WorkflowID,
		Status:     domain.ExecutionPending,
		InputData:  trigger.TestPayload,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	job := domain.Job{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		Kind:        domain.JobKindStart,
		Payload:     domain.JobPayload{NodeID: trigger.TriggerNodeID},
		MaxRetries:  3,
		ScheduledAt: now,
	}
	return r.Store.CreateExecution(ctx, exec, job)
}

// RecordFire persists next/last firing times and bumps the appropriate
// counter for one scheduled trigger (§4.6).
func (s *Store) RecordFire(ctx context.Context, triggerID string, next time.Time, firedAt time.Time, ok bool) error {
	counterCol := "execution_count"
	if !ok {
		counterCol = "failure_count"
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		UPDATE scheduled_triggers SET next_execution_time = $2, last_execution_time = $3, %s = %s + 1
		WHERE id = $1`, counterCol, counterCol),
		triggerID, next, firedAt)
	if err != nil {
		return fmt.Errorf("record fire: %w", err)
	}
	return nil
}

// FindPendingByNodeExecutionID looks up a HIL task by its idempotency
// anchor.
func (s *Store) FindPendingByNodeExecutionID(ctx context.Context, nodeExecutionID string) (domain.HILTask, error) {
	var t domain.HILTask
	var responseRaw []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, execution_id, node_execution_id, node_id, workflow_id, title, description, status,
		       timeout_at, timeout_action, response_payload, created_at, resolved_at
		FROM hil_tasks WHERE node_execution_id = $1`, nodeExecutionID).
		Scan(&t.ID, &t.ExecutionID, &t.NodeExecutionID, &t.NodeID, &t.WorkflowID, &t.Title, &t.Description, &t.Status,
			&t.TimeoutAt, &t.TimeoutAction, &responseRaw, &t.CreatedAt, &t.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HILTask{}, domain.ErrHILTaskNotFound
		}
		return domain.HILTask{}, fmt.Errorf("find hil task: %w", err)
	}
	if err := fromJSON(responseRaw, &t.ResponsePayload); err != nil {
		return domain.HILTask{}, err
	}
	return t, nil
}

// ListTimedOut returns every pending HIL task whose timeout has passed.
func (s *Store) ListTimedOut(ctx context.Context, now time.Time) ([]domain.HILTask, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, execution_id, node_execution_id, node_id, workflow_id, title, description, status,
		       timeout_at, timeout_action, created_at
		FROM hil_tasks WHERE status = 'pending' AND timeout_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("list timed out hil tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.HILTask
	for rows.Next() {
		var t domain.HILTask
		if err := rows.Scan(&t.ID, &t.ExecutionID, &t.NodeExecutionID, &t.NodeID, &t.WorkflowID, &t.Title, &t.Description,
			&t.Status, &t.TimeoutAt, &t.TimeoutAction, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hil task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Resolve atomically transitions a pending HIL task to decision and
// enqueues its resumption job, or reports domain.ErrHILTaskResolved if a
// concurrent caller (webhook vs. timeout sweep) already resolved it —
// the idempotency guarantee §4.7 requires. The resumption job targets
// whichever successor edge out of the HIL node is labeled with decision
// ("approved" or "denied"), not whatever the execution's current node
// happens to be.
func (s *Store) Resolve(ctx context.Context, taskID string, decision domain.HILDecision, responsePayload any) error {
	return s.atomic(ctx, "resolve_hil_task", func(tx *Store) error {
		var executionID, workflowID, nodeID string
		err := tx.db.QueryRow(ctx, `
			SELECT execution_id, workflow_id, node_id FROM hil_tasks WHERE id = $1 AND status = 'pending' FOR UPDATE`, taskID).
			Scan(&executionID, &workflowID, &nodeID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrHILTaskResolved
			}
			return fmt.Errorf("load hil task for resolve: %w", err)
		}

		responseRaw, err := toJSON(responsePayload)
		if err != nil {
			return err
		}
		status := domain.HILStatus(decision)
		_, err = tx.db.Exec(ctx, `
			UPDATE hil_tasks SET status = $2, response_payload = $3, resolved_at = now() WHERE id = $1`,
			taskID, status, responseRaw)
		if err != nil {
			return fmt.Errorf("mark hil task resolved: %w", err)
		}

		var resumeNodeID string
		err = tx.db.QueryRow(ctx, `
			SELECT to_node FROM edges WHERE workflow_id = $1 AND from_node = $2 AND branch = $3`,
			workflowID, nodeID, string(decision)).Scan(&resumeNodeID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("resolve hil task %s: no %s edge from node %s", taskID, decision, nodeID)
			}
			return fmt.Errorf("load hil decision edge: %w", err)
		}

		event := domain.Event{
			Data:             responsePayload,
			Metadata:         map[string]string{},
			ConditionResults: map[string]bool{"hil_approved": decision == domain.HILDecisionApproved},
		}
		job := domain.Job{
			ID:          uuid.NewString(),
			ExecutionID: executionID,
			Kind:        domain.JobKindResume,
			Payload:     domain.JobPayload{NodeID: resumeNodeID, ResumeEvent: &event},
			MaxRetries:  3,
			ScheduledAt: time.Now(),
		}
		return tx.enqueueJob(ctx, job)
	})
}
