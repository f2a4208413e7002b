// Package execservice is the facade the ingest HTTP surface and the
// cron/HIL/admin callers use to start, inspect, and cancel executions
// (§4.8). It never touches a node executor directly — starting an
// execution means writing the execution row and its first job, and the
// worker pool takes it from there.
package execservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/swisspipe/engine/internal/domain"
)

// Repository is the persistence contract the execution service needs.
type Repository interface {
	LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error)
	CreateExecution(ctx context.Context, exec domain.Execution, startJob domain.Job) error
	LoadExecution(ctx context.Context, executionID string) (*domain.Execution, error)
	ListExecutionSteps(ctx context.Context, executionID string) ([]domain.ExecutionStep, error)
	CancelExecution(ctx context.Context, executionID string) error
	PoolStats(ctx context.Context) (PoolStats, error)
}

// PoolStats summarizes dispatcher/worker/queue health for the admin
// get_pool_stats operation (§4.8).
type PoolStats struct {
	PendingJobs     int64
	ClaimedJobs     int64
	ProcessingJobs  int64
	DeadLetterJobs  int64
	ActiveExecutions int64
	WorkerCount     int
}

// Service implements create_execution / get_execution / cancel_execution
// / get_pool_stats.
type Service struct {
	repo Repository
}

// New returns a Service backed by repo.
func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateExecution starts a fresh Execution at triggerNodeID with the
// given input payload (§4.8 "create_execution"). An empty triggerNodeID
// defaults to the workflow's configured start node, matching the
// ingest endpoint's contract of not naming a node in its URL. The first
// job is written in the same transaction as the execution row so a
// crash between the two is impossible.
func (s *Service) CreateExecution(ctx context.Context, workflowID, triggerNodeID string, input any) (*domain.Execution, error) {
	wf, err := s.repo.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("execservice: load workflow: %w", err)
	}
	if triggerNodeID == "" {
		triggerNodeID = wf.StartNodeID
	}
	if _, ok := wf.NodeByID(triggerNodeID); !ok {
		return nil, fmt.Errorf("execservice: node %s not in workflow %s: %w", triggerNodeID, workflowID, domain.ErrNodeNotFound)
	}

	now := time.Now()
	exec := domain.Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     domain.ExecutionPending,
		InputData:  input,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	startJob := domain.Job{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		Kind:        domain.JobKindStart,
		Payload:     domain.JobPayload{NodeID: triggerNodeID},
		Status:      domain.JobPending,
		Priority:    0,
		ScheduledAt: now,
		MaxRetries:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateExecution(ctx, exec, startJob); err != nil {
		return nil, fmt.Errorf("execservice: create execution: %w", err)
	}
	return &exec, nil
}

// GetExecution returns the current state of one execution.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	exec, err := s.repo.LoadExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("execservice: load execution: %w", err)
	}
	return exec, nil
}

// GetExecutionSteps returns every node run recorded for one execution,
// in no particular guaranteed order beyond what the repository chooses
// (callers typically want started_at ascending).
func (s *Service) GetExecutionSteps(ctx context.Context, executionID string) ([]domain.ExecutionStep, error) {
	steps, err := s.repo.ListExecutionSteps(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("execservice: list steps: %w", err)
	}
	return steps, nil
}

// CancelExecution marks the execution cancelled. In-flight jobs observe
// this on their next IsCancelled check between nodes and bail cleanly
// (§5 "Cancellation"). The repository deletes the execution's delay
// timer rows; a HIL task left pending is still resolved by a response or
// the timeout sweep, and the resume job that follows finds the
// execution terminal and does nothing.
func (s *Service) CancelExecution(ctx context.Context, executionID string) error {
	exec, err := s.repo.LoadExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("execservice: load execution: %w", err)
	}
	if exec.Status.IsTerminal() {
		return fmt.Errorf("execservice: execution %s already terminal: %w", executionID, domain.ErrExecutionTerminal)
	}
	if err := s.repo.CancelExecution(ctx, executionID); err != nil {
		return fmt.Errorf("execservice: cancel execution: %w", err)
	}
	return nil
}

// GetPoolStats reports dispatcher/worker/queue health for the admin
// dashboard.
func (s *Service) GetPoolStats(ctx context.Context) (PoolStats, error) {
	stats, err := s.repo.PoolStats(ctx)
	if err != nil {
		return PoolStats{}, fmt.Errorf("execservice: pool stats: %w", err)
	}
	return stats, nil
}
