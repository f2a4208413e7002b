package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swisspipe/engine/internal/domain"
)

// LoadWorkflow returns the full DAG definition (nodes + edges) for id.
func (s *Store) LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := s.db.QueryRow(ctx, `
		SELECT id, name, enabled, start_node_id, source_tracking_enabled, created_at, updated_at
		FROM workflows WHERE id = $1`, workflowID).
		Scan(&wf.ID, &wf.Name, &wf.Enabled, &wf.StartNodeID, &wf.SourceTrackingEnabled, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	nodeRows, err := s.db.Query(ctx, `
		SELECT id, name, kind, config, merge_strategy, retry_config, failure_action
		FROM nodes WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer nodeRows.Close()

	for nodeRows.Next() {
		var n domain.Node
		var configRaw, retryRaw []byte
		if err := nodeRows.Scan(&n.ID, &n.Name, &n.Kind, &configRaw, &n.MergeStrategy, &retryRaw, &n.FailureAction); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if err := fromJSON(configRaw, &n.Config); err != nil {
			return nil, err
		}
		if len(retryRaw) > 0 {
			var rc domain.RetryConfig
			if err := fromJSON(retryRaw, &rc); err != nil {
				return nil, err
			}
			n.RetryConfig = &rc
		}
		wf.Nodes = append(wf.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	edgeRows, err := s.db.Query(ctx, `SELECT from_node, to_node, branch FROM edges WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e domain.Edge
		if err := edgeRows.Scan(&e.From, &e.To, &e.Branch); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		wf.Edges = append(wf.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}

	return &wf, nil
}

// CreateWorkflow inserts a new workflow with its nodes and edges in one
// transaction (§6 admin CRUD).
func (s *Store) CreateWorkflow(ctx context.Context, wf domain.Workflow) (string, error) {
	id := uuid.NewString()
	err := s.atomic(ctx, "create_workflow", func(tx *Store) error {
		_, err := tx.db.Exec(ctx, `
			INSERT INTO workflows (id, name, enabled, start_node_id, source_tracking_enabled)
			VALUES ($1, $2, $3, $4, $5)`,
			id, wf.Name, wf.Enabled, wf.StartNodeID, wf.SourceTrackingEnabled)
		if err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}

		for _, n := range wf.Nodes {
			configRaw, err := toJSON(n.Config)
			if err != nil {
				return err
			}
			var retryRaw []byte
			if n.RetryConfig != nil {
				retryRaw, err = toJSON(n.RetryConfig)
				if err != nil {
					return err
				}
			}
			_, err = tx.db.Exec(ctx, `
				INSERT INTO nodes (workflow_id, id, name, kind, config, merge_strategy, retry_config, failure_action)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				id, n.ID, n.Name, n.Kind, configRaw, n.MergeStrategy, retryRaw, n.FailureAction)
			if err != nil {
				return fmt.Errorf("insert node %s: %w", n.ID, err)
			}
		}

		for _, e := range wf.Edges {
			_, err := tx.db.Exec(ctx, `
				INSERT INTO edges (workflow_id, from_node, to_node, branch) VALUES ($1, $2, $3, $4)`,
				id, e.From, e.To, e.Branch)
			if err != nil {
				return fmt.Errorf("insert edge %s->%s: %w", e.From, e.To, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListWorkflows returns every workflow's summary fields (nodes/edges
// omitted) for the admin list endpoint.
func (s *Store) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, enabled, start_node_id, source_tracking_enabled, created_at, updated_at
		FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []domain.Workflow
	for rows.Next() {
		var wf domain.Workflow
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Enabled, &wf.StartNodeID, &wf.SourceTrackingEnabled, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}
