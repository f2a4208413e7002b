package execservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swisspipe/engine/internal/domain"
)

type fakeRepo struct {
	workflows  map[string]*domain.Workflow
	executions map[string]*domain.Execution
	created    []domain.Execution
	cancelled  []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		workflows:  map[string]*domain.Workflow{},
		executions: map[string]*domain.Execution{},
	}
}

func (f *fakeRepo) LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	wf, ok := f.workflows[workflowID]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return wf, nil
}

func (f *fakeRepo) CreateExecution(ctx context.Context, exec domain.Execution, startJob domain.Job) error {
	f.created = append(f.created, exec)
	e := exec
	f.executions[exec.ID] = &e
	return nil
}

func (f *fakeRepo) LoadExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	e, ok := f.executions[executionID]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return e, nil
}

func (f *fakeRepo) ListExecutionSteps(ctx context.Context, executionID string) ([]domain.ExecutionStep, error) {
	return nil, nil
}

func (f *fakeRepo) CancelExecution(ctx context.Context, executionID string) error {
	f.cancelled = append(f.cancelled, executionID)
	if e, ok := f.executions[executionID]; ok {
		e.Status = domain.ExecutionCancelled
	}
	return nil
}

func (f *fakeRepo) PoolStats(ctx context.Context) (PoolStats, error) {
	return PoolStats{WorkerCount: 5}, nil
}

func wfWithStart(id, start string) *domain.Workflow {
	return &domain.Workflow{
		ID:          id,
		StartNodeID: start,
		Nodes:       []domain.Node{{ID: start, Kind: domain.NodeKindTrigger}},
	}
}

func TestCreateExecution_DefaultsToStartNode(t *testing.T) {
	repo := newFakeRepo()
	repo.workflows["wf-1"] = wfWithStart("wf-1", "n1")
	svc := New(repo)

	exec, err := svc.CreateExecution(context.Background(), "wf-1", "", map[string]any{"x": 1})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.Equal(t, domain.ExecutionPending, exec.Status)
	assert.Equal(t, "wf-1", exec.WorkflowID)
}

func TestCreateExecution_UnknownWorkflow(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo)

	_, err := svc.CreateExecution(context.Background(), "missing", "", nil)
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestCreateExecution_UnknownNode(t *testing.T) {
	repo := newFakeRepo()
	repo.workflows["wf-1"] = wfWithStart("wf-1", "n1")
	svc := New(repo)

	_, err := svc.CreateExecution(context.Background(), "wf-1", "does-not-exist", nil)
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
}

func TestCancelExecution_AlreadyTerminal(t *testing.T) {
	repo := newFakeRepo()
	repo.executions["e1"] = &domain.Execution{ID: "e1", Status: domain.ExecutionCompleted}
	svc := New(repo)

	err := svc.CancelExecution(context.Background(), "e1")
	assert.ErrorIs(t, err, domain.ErrExecutionTerminal)
	assert.Empty(t, repo.cancelled)
}

func TestCancelExecution_Running(t *testing.T) {
	repo := newFakeRepo()
	repo.executions["e1"] = &domain.Execution{ID: "e1", Status: domain.ExecutionRunning}
	svc := New(repo)

	err := svc.CancelExecution(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, repo.cancelled)
}

func TestGetPoolStats(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo)

	stats, err := svc.GetPoolStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.WorkerCount)
}
