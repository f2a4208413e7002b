package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/executor"
)

// fakeRepo is an in-memory Repository double exercising exactly the
// surface the worker pool drives a job through.
type fakeRepo struct {
	executions map[string]*domain.Execution
	workflows  map[string]*domain.Workflow
	buffers    map[string]domain.NodeBuffer

	steps           []domain.ExecutionStep
	enqueued        []domain.Job
	completedJobs   []string
	deadLettered    []string
	deadLetterTypes []string
	failJobPolicies []RetryPolicy
	failJobResult   bool
	activePaths     map[string]int
	hilTasks        []domain.HILTask
	completedExecs  []string
	failedExecs     []string
	fanInExpected   map[string][]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		executions:    map[string]*domain.Execution{},
		workflows:     map[string]*domain.Workflow{},
		buffers:       map[string]domain.NodeBuffer{},
		activePaths:   map[string]int{},
		fanInExpected: map[string][]string{},
	}
}

func (f *fakeRepo) LoadExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	e, ok := f.executions[executionID]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return e, nil
}

func (f *fakeRepo) LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	wf, ok := f.workflows[workflowID]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return wf, nil
}

func (f *fakeRepo) Heartbeat(ctx context.Context, executionID string) error { return nil }

func (f *fakeRepo) IsCancelled(ctx context.Context, executionID string) (bool, error) {
	return false, nil
}

func (f *fakeRepo) MarkProcessing(ctx context.Context, jobID, workerID string) error { return nil }

func (f *fakeRepo) SaveStep(ctx context.Context, step domain.ExecutionStep) error {
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeRepo) MarkNodesSkipped(ctx context.Context, executionID string, nodeIDs []string, reason string) error {
	return nil
}

func (f *fakeRepo) AdjustActivePaths(ctx context.Context, executionID string, delta int) (int, error) {
	f.activePaths[executionID] += delta
	return f.activePaths[executionID], nil
}

func (f *fakeRepo) CompleteExecution(ctx context.Context, executionID string, output any) error {
	f.completedExecs = append(f.completedExecs, executionID)
	return nil
}

func (f *fakeRepo) FailExecution(ctx context.Context, executionID string, errMsg string) error {
	f.failedExecs = append(f.failedExecs, executionID)
	return nil
}

func (f *fakeRepo) EnqueueJob(ctx context.Context, job domain.Job) error {
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeRepo) CreateDelayTimer(ctx context.Context, timer domain.DelayTimer) error { return nil }

func (f *fakeRepo) CreateHILTask(ctx context.Context, task domain.HILTask, notificationJob domain.Job) error {
	f.hilTasks = append(f.hilTasks, task)
	f.enqueued = append(f.enqueued, notificationJob)
	return nil
}

func (f *fakeRepo) FanInExpected(ctx context.Context, workflowID, nodeID string) ([]string, domain.MergeStrategy, *time.Duration, error) {
	return f.fanInExpected[nodeID], domain.MergeWaitForAll, nil, nil
}

func (f *fakeRepo) CompleteJob(ctx context.Context, jobID, workerID string) error {
	f.completedJobs = append(f.completedJobs, jobID)
	return nil
}

func (f *fakeRepo) FailJob(ctx context.Context, jobID, workerID, errMsg string, policy RetryPolicy) (bool, error) {
	f.failJobPolicies = append(f.failJobPolicies, policy)
	return f.failJobResult, nil
}

func (f *fakeRepo) MoveToDeadLetter(ctx context.Context, job domain.Job, workerID, errType, errMsg string, stackTrace *string) error {
	f.deadLettered = append(f.deadLettered, job.ID)
	f.deadLetterTypes = append(f.deadLetterTypes, errType)
	return nil
}

func (f *fakeRepo) LoadBuffer(ctx context.Context, executionID, nodeID string) (domain.NodeBuffer, bool, error) {
	buf, ok := f.buffers[executionID+":"+nodeID]
	return buf, ok, nil
}

func (f *fakeRepo) SaveBuffer(ctx context.Context, executionID, nodeID string, buf domain.NodeBuffer) error {
	f.buffers[executionID+":"+nodeID] = buf
	return nil
}

func (f *fakeRepo) ClearBuffer(ctx context.Context, executionID, nodeID string) error {
	delete(f.buffers, executionID+":"+nodeID)
	return nil
}

func newPoolForTest(repo *fakeRepo) *Pool {
	return New(Config{Count: 1, ChannelCapacity: 1}, repo, executor.New(nil, nil, 10))
}

// === handleJobError ===

func TestHandleJobError_DeadLettersOnceRetriesExhausted(t *testing.T) {
	repo := newFakeRepo()
	repo.failJobResult = false // FailJob reports exhaustion: no more retries
	p := newPoolForTest(repo)

	job := domain.Job{ID: "job-1"}
	p.handleJobError(context.Background(), "worker-0", job, Transient(assertErr("boom")))

	require.Len(t, repo.deadLettered, 1, "an exhausted retryable error must be dead-lettered, not silently dropped")
	assert.Equal(t, "job-1", repo.deadLettered[0])
	assert.Equal(t, "exhausted", repo.deadLetterTypes[0])
}

func TestHandleJobError_RetriesWithoutDeadLetterWhenPolicyAllows(t *testing.T) {
	repo := newFakeRepo()
	repo.failJobResult = true // still has retries left
	p := newPoolForTest(repo)

	p.handleJobError(context.Background(), "worker-0", domain.Job{ID: "job-1"}, Transient(assertErr("boom")))

	assert.Empty(t, repo.deadLettered)
}

func TestHandleJobError_UsesOverridePolicyFromTransientWithPolicy(t *testing.T) {
	repo := newFakeRepo()
	repo.failJobResult = true
	p := newPoolForTest(repo)
	p.cfg.RetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: time.Minute}

	override := RetryPolicy{MaxRetries: 10, BaseDelay: time.Second, Multiplier: 1.5}
	p.handleJobError(context.Background(), "worker-0", domain.Job{ID: "job-1"}, TransientWithPolicy(assertErr("boom"), override))

	require.Len(t, repo.failJobPolicies, 1)
	assert.Equal(t, override, repo.failJobPolicies[0])
}

func TestHandleJobError_PanicIsDeadLetteredNotRetried(t *testing.T) {
	repo := newFakeRepo()
	p := newPoolForTest(repo)

	p.handleJobError(context.Background(), "worker-0", domain.Job{ID: "job-1"}, PanicError{Value: "boom", StackTrace: "stack"})

	require.Len(t, repo.deadLettered, 1)
	assert.Equal(t, "panic", repo.deadLetterTypes[0])
	assert.Empty(t, repo.failJobPolicies)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

// === onFailed / per-node RetryConfig ===

func TestOnFailed_RetryActionUsesNodeRetryConfigWhenPresent(t *testing.T) {
	repo := newFakeRepo()
	p := newPoolForTest(repo)

	node := domain.Node{
		ID:            "n1",
		FailureAction: domain.FailureRetry,
		RetryConfig: &domain.RetryConfig{
			MaxAttempts:  7,
			InitialDelay: 5 * time.Second,
			Multiplier:   3,
			MaxDelay:     time.Minute,
		},
	}
	execn := &domain.Execution{ID: "exec-1"}
	wf := &domain.Workflow{ID: "wf-1"}

	err := p.onFailed(context.Background(), execn, wf, node, assertErr("node exploded"))
	require.Error(t, err)

	policy, ok := RetryPolicyFor(err)
	require.True(t, ok, "a node with its own RetryConfig must carry an override policy on its retry error")
	assert.Equal(t, 7, policy.MaxRetries)
	assert.Equal(t, 5*time.Second, policy.BaseDelay)
	assert.Equal(t, 3.0, policy.Multiplier)
}

func TestOnFailed_RetryActionFallsBackToPoolDefaultWithoutNodeConfig(t *testing.T) {
	repo := newFakeRepo()
	p := newPoolForTest(repo)

	node := domain.Node{ID: "n1", FailureAction: domain.FailureRetry}
	execn := &domain.Execution{ID: "exec-1"}
	wf := &domain.Workflow{ID: "wf-1"}

	err := p.onFailed(context.Background(), execn, wf, node, assertErr("node exploded"))
	require.Error(t, err)

	_, ok := RetryPolicyFor(err)
	assert.False(t, ok, "without a node RetryConfig, handleJobError should fall back to the pool-wide default")
	assert.True(t, IsRetryable(err))
}

func TestOnFailed_ContinueActionFansOutWithEmptyEvent(t *testing.T) {
	repo := newFakeRepo()
	p := newPoolForTest(repo)

	wf := &domain.Workflow{
		ID: "wf-1",
		Nodes: []domain.Node{
			{ID: "n1", FailureAction: domain.FailureContinue},
			{ID: "n2"},
		},
		Edges: []domain.Edge{{From: "n1", To: "n2"}},
	}
	execn := &domain.Execution{ID: "exec-1"}

	err := p.onFailed(context.Background(), execn, wf, wf.Nodes[0], assertErr("whoops"))
	require.NoError(t, err)
	require.Len(t, repo.enqueued, 1)
	assert.Equal(t, "n2", repo.enqueued[0].Payload.NodeID)
}

func TestOnFailed_StopActionFailsExecution(t *testing.T) {
	repo := newFakeRepo()
	p := newPoolForTest(repo)

	node := domain.Node{ID: "n1", FailureAction: domain.FailureStop}
	execn := &domain.Execution{ID: "exec-1"}
	wf := &domain.Workflow{ID: "wf-1"}

	err := p.onFailed(context.Background(), execn, wf, node, assertErr("fatal"))
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-1"}, repo.failedExecs)
}

// === fanOut / merge ===

func TestFanOut_MergeUsesFullMergeEventsNotPartialCopy(t *testing.T) {
	repo := newFakeRepo()
	p := newPoolForTest(repo)

	wf := &domain.Workflow{
		ID: "wf-1",
		Nodes: []domain.Node{
			{ID: "a"}, {ID: "b"}, {ID: "join", MergeStrategy: domain.MergeWaitForAll},
		},
		Edges: []domain.Edge{
			{From: "a", To: "join"},
			{From: "b", To: "join"},
		},
	}
	execn := &domain.Execution{ID: "exec-1"}
	repo.fanInExpected["join"] = []string{"a", "b"}

	firstOutput := domain.Event{
		Data:    "from-a",
		Headers: map[string]string{"x-trace": "abc"},
		Sources: []domain.SourceEntry{{NodeID: "a", Sequence: 0}},
	}
	require.NoError(t, p.fanOut(context.Background(), execn, wf, "a", []string{"join"}, firstOutput))
	require.Empty(t, repo.enqueued, "join must wait for the second predecessor before running")

	secondOutput := domain.Event{
		Data:    "from-b",
		Headers: map[string]string{"x-other": "def"},
		Sources: []domain.SourceEntry{{NodeID: "b", Sequence: 0}},
	}
	require.NoError(t, p.fanOut(context.Background(), execn, wf, "b", []string{"join"}, secondOutput))

	require.Len(t, repo.enqueued, 1)
	merged := repo.enqueued[0].Payload.ResumeEvent
	require.NotNil(t, merged)
	assert.Equal(t, "abc", merged.Headers["x-trace"], "merge must preserve Headers, not just Metadata/Data")
	assert.Equal(t, "def", merged.Headers["x-other"])
	assert.Len(t, merged.Sources, 2, "merge must union Sources lineage across predecessors")
}

// === onSuspendHIL ===

func TestOnSuspendHIL_TaskCarriesNodeIDForDecisionRouting(t *testing.T) {
	repo := newFakeRepo()
	p := newPoolForTest(repo)

	wf := &domain.Workflow{
		ID: "wf-1",
		Nodes: []domain.Node{
			{ID: "approve"}, {ID: "notify"},
		},
		Edges: []domain.Edge{
			{From: "approve", To: "notify", Branch: domain.BranchNotification},
		},
	}
	execn := &domain.Execution{ID: "exec-1"}
	node := domain.Node{ID: "approve"}
	result := executor.Result{
		Kind: executor.SuspendHIL,
		HIL: &executor.HILDirective{
			Title:         "Approve the thing",
			TimeoutAction: domain.HILDecisionDenied,
		},
	}

	require.NoError(t, p.onSuspendHIL(context.Background(), execn, wf, node, result))
	require.Len(t, repo.hilTasks, 1)
	assert.Equal(t, "approve", repo.hilTasks[0].NodeID, "the HIL task must record which node it suspends so Resolve can route by decision edge")
}
