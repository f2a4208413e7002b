package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/execservice"
)

// LoadExecution returns one execution row, satisfying both
// worker.Repository and execservice.Repository.
func (s *Store) LoadExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	var e domain.Execution
	var inputRaw, outputRaw, resumeRaw []byte
	var currentNodeID, hilTaskID string
	err := s.db.QueryRow(ctx, `
		SELECT id, workflow_id, status, input_data, output_data, error_message,
		       current_node_id, resume_event, COALESCE(hil_task_id::text, ''),
		       started_at, completed_at, updated_at
		FROM executions WHERE id = $1`, executionID).
		Scan(&e.ID, &e.WorkflowID, &e.Status, &inputRaw, &outputRaw, &e.ErrorMessage,
			&currentNodeID, &resumeRaw, &hilTaskID,
			&e.StartedAt, &e.CompletedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("load execution: %w", err)
	}

	if err := fromJSON(inputRaw, &e.InputData); err != nil {
		return nil, err
	}
	if err := fromJSON(outputRaw, &e.OutputData); err != nil {
		return nil, err
	}
	e.CurrentNodeID = currentNodeID
	e.HILTaskID = hilTaskID
	if len(resumeRaw) > 0 {
		var ev domain.Event
		if err := fromJSON(resumeRaw, &ev); err != nil {
			return nil, err
		}
		e.ResumeEvent = &ev
	}

	return &e, nil
}

// CreateExecution inserts the execution row and its first job in a
// single transaction, so a crash between the two is impossible (§4.8
// "create_execution").
func (s *Store) CreateExecution(ctx context.Context, exec domain.Execution, startJob domain.Job) error {
	return s.atomic(ctx, "create_execution", func(tx *Store) error {
		inputRaw, err := toJSON(exec.InputData)
		if err != nil {
			return err
		}
		_, err = tx.db.Exec(ctx, `
			INSERT INTO executions (id, workflow_id, status, input_data, started_at, updated_at, active_paths)
			VALUES ($1, $2, $3, $4, $5, $6, 1)`,
			exec.ID, exec.WorkflowID, exec.Status, inputRaw, exec.StartedAt, exec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
		return tx.enqueueJob(ctx, startJob)
	})
}

// ListExecutionSteps returns every node run recorded for executionID,
// oldest first.
func (s *Store) ListExecutionSteps(ctx context.Context, executionID string) ([]domain.ExecutionStep, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, execution_id, node_id, status, input_data, output_data, error_message, started_at, completed_at
		FROM execution_steps WHERE execution_id = $1 ORDER BY started_at ASC NULLS LAST`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list execution steps: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionStep
	for rows.Next() {
		var step domain.ExecutionStep
		var inputRaw, outputRaw []byte
		if err := rows.Scan(&step.ID, &step.ExecutionID, &step.NodeID, &step.Status,
			&inputRaw, &outputRaw, &step.ErrorMessage, &step.StartedAt, &step.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan execution step: %w", err)
		}
		if err := fromJSON(inputRaw, &step.InputData); err != nil {
			return nil, err
		}
		if err := fromJSON(outputRaw, &step.OutputData); err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// CancelExecution marks the execution cancelled, removes its pending
// jobs and delay timers, and clears any node buffers — a clean stop
// rather than a lingering half-suspended state (§5 "Cancellation").
func (s *Store) CancelExecution(ctx context.Context, executionID string) error {
	return s.atomic(ctx, "cancel_execution", func(tx *Store) error {
		tag, err := tx.db.Exec(ctx, `
			UPDATE executions SET status = 'cancelled', updated_at = now()
			WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`, executionID)
		if err != nil {
			return fmt.Errorf("cancel execution: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrExecutionTerminal
		}
		if _, err := tx.db.Exec(ctx, `DELETE FROM jobs WHERE execution_id = $1 AND status IN ('pending', 'claimed')`, executionID); err != nil {
			return fmt.Errorf("cancel pending jobs: %w", err)
		}
		if _, err := tx.db.Exec(ctx, `DELETE FROM delay_timers WHERE execution_id = $1`, executionID); err != nil {
			return fmt.Errorf("cancel delay timers: %w", err)
		}
		if _, err := tx.db.Exec(ctx, `UPDATE execution_steps SET node_buffer = NULL WHERE execution_id = $1`, executionID); err != nil {
			return fmt.Errorf("clear node buffers: %w", err)
		}
		return nil
	})
}

// PoolStats aggregates dispatcher/worker/queue health for the admin
// dashboard (§4.8 "get_pool_stats").
func (s *Store) PoolStats(ctx context.Context) (execservice.PoolStats, error) {
	var stats execservice.PoolStats
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM jobs WHERE status = 'pending'),
			(SELECT count(*) FROM jobs WHERE status = 'claimed'),
			(SELECT count(*) FROM jobs WHERE status = 'processing'),
			(SELECT count(*) FROM dead_letter_jobs WHERE resolution = ''),
			(SELECT count(*) FROM executions WHERE status = 'running')
	`).Scan(&stats.PendingJobs, &stats.ClaimedJobs, &stats.ProcessingJobs, &stats.DeadLetterJobs, &stats.ActiveExecutions)
	if err != nil {
		return execservice.PoolStats{}, fmt.Errorf("pool stats: %w", err)
	}
	return stats, nil
}

// PruneCompletedExecutions deletes completed/failed/cancelled executions
// beyond the newest keep rows, oldest first, keeping the table from
// growing unbounded (§6 "retention"). Running executions are never
// touched regardless of keep.
func (s *Store) PruneCompletedExecutions(ctx context.Context, keep int) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM executions
		WHERE id IN (
			SELECT id FROM executions
			WHERE status IN ('completed', 'failed', 'cancelled')
			ORDER BY completed_at DESC NULLS LAST
			OFFSET $1
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune completed executions: %w", err)
	}
	return tag.RowsAffected(), nil
}
