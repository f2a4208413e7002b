package hil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swisspipe/engine/internal/domain"
)

type fakeRepo struct {
	tasks       map[string]domain.HILTask
	resolved    []string
	resolveErrs map[string]error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tasks: map[string]domain.HILTask{}, resolveErrs: map[string]error{}}
}

func (f *fakeRepo) FindPendingByNodeExecutionID(ctx context.Context, nodeExecutionID string) (domain.HILTask, error) {
	for _, t := range f.tasks {
		if t.NodeExecutionID == nodeExecutionID {
			return t, nil
		}
	}
	return domain.HILTask{}, domain.ErrHILTaskNotFound
}

func (f *fakeRepo) ListTimedOut(ctx context.Context, now time.Time) ([]domain.HILTask, error) {
	var out []domain.HILTask
	for _, t := range f.tasks {
		if t.Status == domain.HILPending && !t.TimeoutAt.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) Resolve(ctx context.Context, taskID string, decision domain.HILDecision, responsePayload any) error {
	if err, ok := f.resolveErrs[taskID]; ok {
		return err
	}
	task, ok := f.tasks[taskID]
	if !ok || task.Status != domain.HILPending {
		return domain.ErrHILTaskResolved
	}
	task.Status = domain.HILStatus(decision)
	f.tasks[taskID] = task
	f.resolved = append(f.resolved, taskID)
	return nil
}

func TestRespond_ResolvesPendingTask(t *testing.T) {
	repo := newFakeRepo()
	repo.tasks["t1"] = domain.HILTask{ID: "t1", NodeExecutionID: "exec1:node1", Status: domain.HILPending}
	svc := New(DefaultConfig(), repo)

	err := svc.Respond(context.Background(), "exec1:node1", domain.HILDecisionApproved, map[string]any{"note": "lgtm"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, repo.resolved)
	assert.Equal(t, domain.HILStatus(domain.HILDecisionApproved), repo.tasks["t1"].Status)
}

func TestRespond_UnknownTask(t *testing.T) {
	repo := newFakeRepo()
	svc := New(DefaultConfig(), repo)

	err := svc.Respond(context.Background(), "missing", domain.HILDecisionApproved, nil)
	assert.ErrorIs(t, err, domain.ErrHILTaskNotFound)
}

func TestRespond_ReplayOfAlreadyResolvedIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.tasks["t1"] = domain.HILTask{ID: "t1", NodeExecutionID: "exec1:node1", Status: domain.HILPending}
	repo.resolveErrs["t1"] = domain.ErrHILTaskResolved
	svc := New(DefaultConfig(), repo)

	err := svc.Respond(context.Background(), "exec1:node1", domain.HILDecisionDenied, nil)
	assert.NoError(t, err, "a replayed webhook for an already-resolved task must not error")
}

func TestSweepOnce_ResolvesTimedOutTasksWithTimeoutAction(t *testing.T) {
	repo := newFakeRepo()
	repo.tasks["t1"] = domain.HILTask{
		ID:            "t1",
		NodeExecutionID: "exec1:node1",
		Status:        domain.HILPending,
		TimeoutAt:     time.Now().Add(-time.Minute),
		TimeoutAction: domain.HILDecisionDenied,
	}
	repo.tasks["t2"] = domain.HILTask{
		ID:            "t2",
		NodeExecutionID: "exec2:node1",
		Status:        domain.HILPending,
		TimeoutAt:     time.Now().Add(time.Hour),
		TimeoutAction: domain.HILDecisionApproved,
	}
	svc := New(DefaultConfig(), repo)

	svc.sweepOnce(context.Background())

	assert.Contains(t, repo.resolved, "t1")
	assert.NotContains(t, repo.resolved, "t2", "a task not yet past its deadline must not be swept")
}
