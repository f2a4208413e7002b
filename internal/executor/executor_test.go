package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/httpclient"
	"github.com/swisspipe/engine/internal/jsengine"
)

func newExecutor() *Executor {
	sandbox := jsengine.New(time.Second, 2)
	client := httpclient.New(5)
	return New(sandbox, client, 10)
}

func TestExecute_Trigger(t *testing.T) {
	e := newExecutor()
	in := domain.Event{Data: "hello"}
	res := e.Execute(context.Background(), domain.Node{Kind: domain.NodeKindTrigger}, in, nil)
	assert.Equal(t, Proceed, res.Kind)
	assert.Equal(t, "hello", res.Output.Data)
	assert.Equal(t, domain.BranchNone, res.Branch)
}

func TestExecute_ConditionTrueFalse(t *testing.T) {
	e := newExecutor()
	node := domain.Node{
		ID:   "cond1",
		Kind: domain.NodeKindCondition,
		Config: domain.NodeConfig{
			Condition: &domain.ConditionConfig{FunctionText: "function condition(event) { return event.data > 5; }"},
		},
	}

	res := e.Execute(context.Background(), node, domain.Event{Data: 10}, nil)
	require.Equal(t, Proceed, res.Kind)
	assert.Equal(t, domain.BranchTrue, res.Branch)
	assert.True(t, res.Output.ConditionResults["cond1"])

	res = e.Execute(context.Background(), node, domain.Event{Data: 1}, nil)
	require.Equal(t, Proceed, res.Kind)
	assert.Equal(t, domain.BranchFalse, res.Branch)
}

func TestExecute_ConditionMissingConfig(t *testing.T) {
	e := newExecutor()
	res := e.Execute(context.Background(), domain.Node{Kind: domain.NodeKindCondition}, domain.Event{}, nil)
	require.Equal(t, Failed, res.Kind)
	var wfErr *WorkflowConstructionError
	assert.ErrorAs(t, res.Err, &wfErr)
}

func TestExecute_TransformerProceedsAndDrops(t *testing.T) {
	e := newExecutor()
	node := domain.Node{
		Kind: domain.NodeKindTransformer,
		Config: domain.NodeConfig{
			Transformer: &domain.TransformerConfig{FunctionText: "function transformer(event) { return {doubled: event.data * 2}; }"},
		},
	}
	res := e.Execute(context.Background(), node, domain.Event{Data: 3.0}, nil)
	require.Equal(t, Proceed, res.Kind)

	dropNode := domain.Node{
		Kind: domain.NodeKindTransformer,
		Config: domain.NodeConfig{
			Transformer: &domain.TransformerConfig{FunctionText: "function transformer(event) { return null; }"},
		},
	}
	res = e.Execute(context.Background(), dropNode, domain.Event{Data: 1}, nil)
	assert.Equal(t, Drop, res.Kind)
}

func TestExecute_DelaySuspends(t *testing.T) {
	e := newExecutor()
	node := domain.Node{
		Kind:   domain.NodeKindDelay,
		Config: domain.NodeConfig{Delay: &domain.DelayConfig{Duration: 5, Unit: domain.DelayUnitMinutes}},
	}
	before := time.Now()
	res := e.Execute(context.Background(), node, domain.Event{}, nil)
	require.Equal(t, SuspendDelay, res.Kind)
	require.NotNil(t, res.Timer)
	assert.Equal(t, domain.DelayTimerDelay, res.Timer.Kind)
	assert.True(t, res.Timer.FireAt.After(before.Add(4*time.Minute)))
}

func TestExecute_HumanInLoopSuspends(t *testing.T) {
	e := newExecutor()
	node := domain.Node{
		Kind: domain.NodeKindHumanInLoop,
		Config: domain.NodeConfig{HumanInLoop: &domain.HumanInLoopConfig{
			Title:         "Approve?",
			Timeout:       time.Hour,
			TimeoutAction: domain.HILDecisionDenied,
		}},
	}
	res := e.Execute(context.Background(), node, domain.Event{Data: "x"}, nil)
	require.Equal(t, SuspendHIL, res.Kind)
	require.NotNil(t, res.HIL)
	assert.Equal(t, "Approve?", res.HIL.Title)
	assert.Equal(t, domain.HILDecisionDenied, res.HIL.TimeoutAction)
}

func TestExecute_HTTPRequestProceedsOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e := newExecutor()
	node := domain.Node{
		Kind: domain.NodeKindHTTPRequest,
		Config: domain.NodeConfig{HTTPRequest: &domain.HTTPRequestConfig{
			URL:     srv.URL,
			Method:  http.MethodGet,
			Timeout: 2 * time.Second,
		}},
	}
	res := e.Execute(context.Background(), node, domain.Event{}, nil)
	require.Equal(t, Proceed, res.Kind)
	assert.Equal(t, "200", res.Output.Metadata["http_status"])
}

func TestExecute_HTTPRequestFailsWithoutLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newExecutor()
	node := domain.Node{
		Kind: domain.NodeKindHTTPRequest,
		Config: domain.NodeConfig{HTTPRequest: &domain.HTTPRequestConfig{
			URL:     srv.URL,
			Method:  http.MethodGet,
			Timeout: 2 * time.Second,
		}},
	}
	res := e.Execute(context.Background(), node, domain.Event{}, nil)
	assert.Equal(t, Failed, res.Kind)
}

func TestExecute_HTTPLoopSuspendsUntilIterationLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newExecutor()
	node := domain.Node{
		Kind: domain.NodeKindHTTPRequest,
		Config: domain.NodeConfig{HTTPRequest: &domain.HTTPRequestConfig{
			URL:     srv.URL,
			Method:  http.MethodGet,
			Timeout: 2 * time.Second,
			Loop: &domain.LoopConfig{
				MaxIterations:   1,
				IntervalSeconds: 0,
			},
		}},
	}
	res := e.Execute(context.Background(), node, domain.Event{}, nil)
	assert.Equal(t, Drop, res.Kind, "loop should stop once MaxIterations is reached")
}

func TestExecute_UnknownNodeKind(t *testing.T) {
	e := newExecutor()
	res := e.Execute(context.Background(), domain.Node{Kind: "bogus"}, domain.Event{}, nil)
	require.Equal(t, Failed, res.Kind)
	var wfErr *WorkflowConstructionError
	assert.ErrorAs(t, res.Err, &wfErr)
}
