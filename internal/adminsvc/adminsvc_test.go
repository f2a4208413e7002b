package adminsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swisspipe/engine/internal/domain"
)

type fakeRepo struct {
	workflows map[string]domain.Workflow
	triggers  map[string]domain.ScheduledTrigger
	nextID    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		workflows: map[string]domain.Workflow{},
		triggers:  map[string]domain.ScheduledTrigger{},
	}
}

func (f *fakeRepo) genID() string {
	f.nextID++
	return string(rune('a' + f.nextID))
}

func (f *fakeRepo) CreateWorkflow(ctx context.Context, wf domain.Workflow) (string, error) {
	id := f.genID()
	wf.ID = id
	f.workflows[id] = wf
	return id, nil
}

func (f *fakeRepo) LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	wf, ok := f.workflows[workflowID]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return &wf, nil
}

func (f *fakeRepo) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	var out []domain.Workflow
	for _, wf := range f.workflows {
		out = append(out, wf)
	}
	return out, nil
}

func (f *fakeRepo) DeleteWorkflow(ctx context.Context, workflowID string) error {
	delete(f.workflows, workflowID)
	return nil
}

func (f *fakeRepo) CreateScheduledTrigger(ctx context.Context, t domain.ScheduledTrigger) (string, error) {
	id := f.genID()
	t.ID = id
	f.triggers[id] = t
	return id, nil
}

func (f *fakeRepo) GetScheduledTrigger(ctx context.Context, triggerID string) (domain.ScheduledTrigger, error) {
	t, ok := f.triggers[triggerID]
	if !ok {
		return domain.ScheduledTrigger{}, domain.ErrScheduledTriggerNotFound
	}
	return t, nil
}

func (f *fakeRepo) ListScheduledTriggers(ctx context.Context) ([]domain.ScheduledTrigger, error) {
	var out []domain.ScheduledTrigger
	for _, t := range f.triggers {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeRepo) UpdateScheduledTrigger(ctx context.Context, t domain.ScheduledTrigger) error {
	f.triggers[t.ID] = t
	return nil
}

func (f *fakeRepo) DeleteScheduledTrigger(ctx context.Context, triggerID string) error {
	delete(f.triggers, triggerID)
	return nil
}

func (f *fakeRepo) ListDeadLetterJobs(ctx context.Context) ([]domain.DeadLetterJob, error) {
	return nil, nil
}

func TestCreateAndGetWorkflow(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nil)

	id, err := svc.CreateWorkflow(context.Background(), domain.Workflow{Name: "demo"})
	require.NoError(t, err)

	got, err := svc.GetWorkflow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
}

func TestDeleteWorkflow(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nil)

	id, err := svc.CreateWorkflow(context.Background(), domain.Workflow{Name: "demo"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteWorkflow(context.Background(), id))
	_, err = svc.GetWorkflow(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestValidateCron_Invalid(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nil)

	_, err := svc.ValidateCron("not a cron", time.Now(), 3)
	assert.ErrorIs(t, err, domain.ErrInvalidCronExpr)
}

func TestValidateCron_Valid(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nil)

	next, err := svc.ValidateCron("0 9 * * *", time.Now(), 3)
	require.NoError(t, err)
	assert.Len(t, next, 3)
}

func TestCreateScheduledTrigger_RejectsBadCron(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nil)

	_, err := svc.CreateScheduledTrigger(context.Background(), domain.ScheduledTrigger{CronExpression: "garbage"})
	assert.ErrorIs(t, err, domain.ErrInvalidCronExpr)
}

func TestCreateScheduledTrigger_ComputesNextExecutionTime(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nil)

	id, err := svc.CreateScheduledTrigger(context.Background(), domain.ScheduledTrigger{CronExpression: "0 9 * * *"})
	require.NoError(t, err)

	trig, err := svc.GetScheduledTrigger(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, trig.NextExecutionTime.IsZero())
}
