package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swisspipe/engine/internal/domain"
)

// DeleteWorkflow removes a workflow and, by FK cascade, its nodes and
// edges (§6 admin CRUD). Executions already created against it are left
// untouched — they reference workflow_id by value, not by FK, so history
// survives a workflow delete.
func (s *Store) DeleteWorkflow(ctx context.Context, workflowID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}

// ListDeadLetterJobs returns every unresolved dead-letter entry for the
// admin review surface (§7 "Dead-letter jobs are observable via admin
// read APIs").
func (s *Store) ListDeadLetterJobs(ctx context.Context) ([]domain.DeadLetterJob, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, original_job_id, execution_id, payload, error_type, error_message, stack_trace,
		       created_at, resolution, reviewed_by, review_note, reviewed_at
		FROM dead_letter_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list dead letter jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.DeadLetterJob
	for rows.Next() {
		var d domain.DeadLetterJob
		var payloadRaw []byte
		if err := rows.Scan(&d.ID, &d.OriginalJobID, &d.ExecutionID, &payloadRaw, &d.ErrorType, &d.ErrorMessage,
			&d.StackTrace, &d.CreatedAt, &d.Resolution, &d.ReviewedBy, &d.ReviewNote, &d.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter job: %w", err)
		}
		if err := fromJSON(payloadRaw, &d.Payload); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateScheduledTrigger inserts a new cron trigger (§6 admin CRUD). The
// caller is responsible for computing the initial NextExecutionTime
// (adminsvc does this via cronscheduler.ParseSchedule before calling).
func (s *Store) CreateScheduledTrigger(ctx context.Context, t domain.ScheduledTrigger) (string, error) {
	id := uuid.NewString()
	payloadRaw, err := toJSON(t.TestPayload)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO scheduled_triggers
			(id, workflow_id, trigger_node_id, cron_expression, timezone, enabled,
			 start_date, end_date, test_payload, next_execution_time, execution_count, failure_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0)`,
		id, t.WorkflowID, t.TriggerNodeID, t.CronExpression, t.Timezone, t.Enabled,
		t.StartDate, t.EndDate, payloadRaw, t.NextExecutionTime)
	if err != nil {
		return "", fmt.Errorf("insert scheduled trigger: %w", err)
	}
	return id, nil
}

// GetScheduledTrigger returns one trigger by id.
func (s *Store) GetScheduledTrigger(ctx context.Context, triggerID string) (domain.ScheduledTrigger, error) {
	var t domain.ScheduledTrigger
	var payloadRaw []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, workflow_id, trigger_node_id, cron_expression, timezone, enabled,
		       start_date, end_date, test_payload, last_execution_time, next_execution_time,
		       execution_count, failure_count
		FROM scheduled_triggers WHERE id = $1`, triggerID).
		Scan(&t.ID, &t.WorkflowID, &t.TriggerNodeID, &t.CronExpression, &t.Timezone, &t.Enabled,
			&t.StartDate, &t.EndDate, &payloadRaw, &t.LastExecutionTime, &t.NextExecutionTime,
			&t.ExecutionCount, &t.FailureCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ScheduledTrigger{}, domain.ErrScheduledTriggerNotFound
		}
		return domain.ScheduledTrigger{}, fmt.Errorf("load scheduled trigger: %w", err)
	}
	if err := fromJSON(payloadRaw, &t.TestPayload); err != nil {
		return domain.ScheduledTrigger{}, err
	}
	return t, nil
}

// ListScheduledTriggers returns every trigger regardless of enabled
// state, for the admin list endpoint.
func (s *Store) ListScheduledTriggers(ctx context.Context) ([]domain.ScheduledTrigger, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, workflow_id, trigger_node_id, cron_expression, timezone, enabled,
		       start_date, end_date, test_payload, last_execution_time, next_execution_time,
		       execution_count, failure_count
		FROM scheduled_triggers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled triggers: %w", err)
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

// UpdateScheduledTrigger overwrites the mutable fields of an existing
// trigger (§6 admin CRUD). NextExecutionTime is recomputed by the
// caller whenever CronExpression or Timezone changes.
func (s *Store) UpdateScheduledTrigger(ctx context.Context, t domain.ScheduledTrigger) error {
	payloadRaw, err := toJSON(t.TestPayload)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_triggers SET
			trigger_node_id = $2, cron_expression = $3, timezone = $4, enabled = $5,
			start_date = $6, end_date = $7, test_payload = $8, next_execution_time = $9
		WHERE id = $1`,
		t.ID, t.TriggerNodeID, t.CronExpression, t.Timezone, t.Enabled,
		t.StartDate, t.EndDate, payloadRaw, t.NextExecutionTime)
	if err != nil {
		return fmt.Errorf("update scheduled trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduledTriggerNotFound
	}
	return nil
}

// DeleteScheduledTrigger removes a trigger; the caller must also call
// cronscheduler.Scheduler.Cancel so the in-memory timer is disarmed.
func (s *Store) DeleteScheduledTrigger(ctx context.Context, triggerID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scheduled_triggers WHERE id = $1`, triggerID)
	if err != nil {
		return fmt.Errorf("delete scheduled trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduledTriggerNotFound
	}
	return nil
}
