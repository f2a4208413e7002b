package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/swisspipe/engine/internal/dispatcher"
	"github.com/swisspipe/engine/internal/domain"
)

// ReclaimStale resets jobs stuck in claimed/processing with claimed_at
// older than threshold back to pending (§4.1 "Startup reclaim").
func (s *Store) ReclaimStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'pending', claimed_by = '', claimed_at = NULL, updated_at = now()
		WHERE status IN ('claimed', 'processing') AND claimed_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimBatch selects up to len(workerIDs) pending jobs, in priority then
// scheduled_at order, and assigns them round-robin to workerIDs in a
// single transaction using SKIP LOCKED so concurrent dispatcher ticks
// (there is only ever one in this design, but the query is safe either
// way) never double-claim a row (§4.1 steps 1-3).
func (s *Store) ClaimBatch(ctx context.Context, workerIDs []string) ([]dispatcher.ClaimedJob, error) {
	if len(workerIDs) == 0 {
		return nil, nil
	}

	var claimed []dispatcher.ClaimedJob
	err := s.atomic(ctx, "claim_batch", func(tx *Store) error {
		rows, err := tx.db.Query(ctx, `
			SELECT id FROM jobs
			WHERE status = 'pending' AND scheduled_at <= now()
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, len(workerIDs))
		if err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}
		var candidateIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan candidate: %w", err)
			}
			candidateIDs = append(candidateIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for i, jobID := range candidateIDs {
			workerID := workerIDs[i]
			var job domain.Job
			var payloadRaw []byte
			err := tx.db.QueryRow(ctx, `
				UPDATE jobs SET status = 'claimed', claimed_by = $2, claimed_at = now(), updated_at = now()
				WHERE id = $1
				RETURNING id, execution_id, kind, payload, status, priority, scheduled_at, claimed_by, claimed_at, retry_count, max_retries, created_at, updated_at`,
				jobID, workerID).Scan(
				&job.ID, &job.ExecutionID, &job.Kind, &payloadRaw, &job.Status, &job.Priority,
				&job.ScheduledAt, &job.ClaimedBy, &job.ClaimedAt, &job.RetryCount, &job.MaxRetries,
				&job.CreatedAt, &job.UpdatedAt)
			if err != nil {
				return fmt.Errorf("claim job %s: %w", jobID, err)
			}
			if err := fromJSON(payloadRaw, &job.Payload); err != nil {
				return err
			}
			claimed = append(claimed, dispatcher.ClaimedJob{Job: job, WorkerSlot: i})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Release resets a single claimed-but-undelivered job back to pending —
// used during graceful shutdown to drain a worker's channel (§4.1
// "Shutdown").
func (s *Store) Release(ctx context.Context, jobID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'pending', claimed_by = '', claimed_at = NULL, updated_at = now() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}
