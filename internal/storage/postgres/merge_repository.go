package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swisspipe/engine/internal/domain"
)

// LoadBuffer returns the partial-arrival buffer persisted on a fan-in
// node's (not-yet-run) execution step row.
func (s *Store) LoadBuffer(ctx context.Context, executionID, nodeID string) (domain.NodeBuffer, bool, error) {
	var bufRaw []byte
	err := s.db.QueryRow(ctx, `
		SELECT node_buffer FROM execution_steps WHERE execution_id = $1 AND node_id = $2`, executionID, nodeID).Scan(&bufRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NodeBuffer{}, false, nil
		}
		return domain.NodeBuffer{}, false, fmt.Errorf("load buffer: %w", err)
	}
	if len(bufRaw) == 0 {
		return domain.NodeBuffer{}, false, nil
	}
	var buf domain.NodeBuffer
	if err := fromJSON(bufRaw, &buf); err != nil {
		return domain.NodeBuffer{}, false, err
	}
	return buf, true, nil
}

// SaveBuffer persists buf as the fan-in node's partial-arrival state,
// creating a pending execution step row if none exists yet.
func (s *Store) SaveBuffer(ctx context.Context, executionID, nodeID string, buf domain.NodeBuffer) error {
	bufRaw, err := toJSON(buf)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO execution_steps (id, execution_id, node_id, status, node_buffer)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET node_buffer = EXCLUDED.node_buffer`,
		uuid.NewString(), executionID, nodeID, bufRaw)
	if err != nil {
		return fmt.Errorf("save buffer: %w", err)
	}
	return nil
}

// ClearBuffer removes the persisted buffer once the fan-in node has run
// (or been swept as timed out).
func (s *Store) ClearBuffer(ctx context.Context, executionID, nodeID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE execution_steps SET node_buffer = NULL WHERE execution_id = $1 AND node_id = $2`, executionID, nodeID)
	if err != nil {
		return fmt.Errorf("clear buffer: %w", err)
	}
	return nil
}
