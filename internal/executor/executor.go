// Package executor is the node executor (§4.4): a pure dispatch from
// (node definition, input event) to either an output event passed
// downstream, or a suspension directive the worker pool persists and
// acts on.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/httpclient"
	"github.com/swisspipe/engine/internal/jsengine"
)

// Kind enumerates what the worker should do with a node's result.
type Kind int

const (
	// Proceed means Output and Branch are populated; the worker should
	// follow the DAG's edges labeled Branch (or every outgoing edge, for
	// BranchNone nodes).
	Proceed Kind = iota
	// Drop means this path terminates here without failure (transformer
	// returned null): successors are marked skipped.
	Drop
	// SuspendDelay means the worker must persist a DelayTimer and exit;
	// Timer is populated.
	SuspendDelay
	// SuspendHIL means the worker must create a HILTask and enqueue the
	// notification branch; HIL is populated.
	SuspendHIL
	// Failed means the node's own logic failed; the worker applies the
	// node's FailureAction. Err explains why.
	Failed
)

// Result is what one call to Execute returns.
type Result struct {
	Kind   Kind
	Output domain.Event
	Branch domain.EdgeBranch

	Timer *TimerDirective
	HIL   *HILDirective

	Err error
}

// TimerDirective tells the worker what delay timer to persist.
type TimerDirective struct {
	FireAt    time.Time
	Kind      domain.DelayTimerKind
	LoopState *domain.LoopState
}

// HILDirective tells the worker what HIL task to create.
type HILDirective struct {
	Title         string
	Description   string
	TimeoutAt     time.Time
	TimeoutAction domain.HILDecision
	// NotificationEvent is the event the worker should enqueue along the
	// "notification" edge immediately (§4.4.7 step 3).
	NotificationEvent domain.Event
}

// WorkflowConstructionError reports a structural problem with a node
// found while executing it: an unknown node kind or missing config.
type WorkflowConstructionError struct {
	Reason string
}

func (e *WorkflowConstructionError) Error() string {
	return fmt.Sprintf("workflow construction error: %s", e.Reason)
}

// Executor dispatches node execution by kind.
type Executor struct {
	sandbox    *jsengine.Sandbox
	httpClient *httpclient.Client
	maxLoopIterations int
	now        func() time.Time
}

// New returns an Executor. maxLoopIterations is the runtime safety cap
// applied when a loop's own max_iterations is unset (§4.4.4).
func New(sandbox *jsengine.Sandbox, httpClient *httpclient.Client, maxLoopIterations int) *Executor {
	return &Executor{
		sandbox:           sandbox,
		httpClient:        httpClient,
		maxLoopIterations: maxLoopIterations,
		now:               time.Now,
	}
}

// Execute runs one node against input and returns what the worker should
// do next. loopResume, when non-nil, is the persisted loop state for an
// HttpRequest node resuming from a fired delay timer rather than running
// for the first time.
func (e *Executor) Execute(ctx context.Context, node domain.Node, input domain.Event, loopResume *domain.LoopState) Result {
	switch node.Kind {
	case domain.NodeKindTrigger:
		return e.executeTrigger(input)
	case domain.NodeKindCondition:
		return e.executeCondition(ctx, node, input)
	case domain.NodeKindTransformer:
		return e.executeTransformer(ctx, node, input)
	case domain.NodeKindHTTPRequest, domain.NodeKindOpenObserve, domain.NodeKindEmail, domain.NodeKindAnthropic:
		return e.executeHTTPFamily(ctx, node, input, loopResume)
	case domain.NodeKindDelay:
		return e.executeDelay(node, input)
	case domain.NodeKindHumanInLoop:
		return e.executeHIL(node, input)
	default:
		return Result{Kind: Failed, Err: &WorkflowConstructionError{Reason: fmt.Sprintf("unknown node kind %q", node.Kind)}}
	}
}

func (e *Executor) executeTrigger(input domain.Event) Result {
	return Result{Kind: Proceed, Output: input, Branch: domain.BranchNone}
}

func (e *Executor) executeCondition(ctx context.Context, node domain.Node, input domain.Event) Result {
	if node.Config.Condition == nil {
		return Result{Kind: Failed, Err: &WorkflowConstructionError{Reason: "condition node missing config"}}
	}
	ok, err := e.sandbox.EvalCondition(ctx, node.Config.Condition.FunctionText, input)
	if err != nil {
		return Result{Kind: Failed, Err: fmt.Errorf("condition: %w", err)}
	}
	out := domain.CloneEvent(input)
	if out.ConditionResults == nil {
		out.ConditionResults = map[string]bool{}
	}
	out.ConditionResults[node.ID] = ok
	branch := domain.BranchFalse
	if ok {
		branch = domain.BranchTrue
	}
	return Result{Kind: Proceed, Output: out, Branch: branch}
}

func (e *Executor) executeTransformer(ctx context.Context, node domain.Node, input domain.Event) Result {
	if node.Config.Transformer == nil {
		return Result{Kind: Failed, Err: &WorkflowConstructionError{Reason: "transformer node missing config"}}
	}
	data, dropped, err := e.sandbox.EvalTransformer(ctx, node.Config.Transformer.FunctionText, input)
	if err != nil {
		return Result{Kind: Failed, Err: fmt.Errorf("transformer: %w", err)}
	}
	if dropped {
		return Result{Kind: Drop}
	}
	out := domain.CloneEvent(input)
	out.Data = data
	return Result{Kind: Proceed, Output: out, Branch: domain.BranchNone}
}

func (e *Executor) executeDelay(node domain.Node, input domain.Event) Result {
	if node.Config.Delay == nil {
		return Result{Kind: Failed, Err: &WorkflowConstructionError{Reason: "delay node missing config"}}
	}
	fireAt := node.Config.Delay.FireAt(e.now())
	return Result{
		Kind: SuspendDelay,
		Timer: &TimerDirective{
			FireAt: fireAt,
			Kind:   domain.DelayTimerDelay,
		},
		Output: input,
	}
}

func (e *Executor) executeHIL(node domain.Node, input domain.Event) Result {
	cfg := node.Config.HumanInLoop
	if cfg == nil {
		return Result{Kind: Failed, Err: &WorkflowConstructionError{Reason: "human-in-loop node missing config"}}
	}
	notifyEvent := domain.CloneEvent(input)
	return Result{
		Kind: SuspendHIL,
		HIL: &HILDirective{
			Title:             cfg.Title,
			Description:       cfg.Description,
			TimeoutAt:         e.now().Add(cfg.Timeout),
			TimeoutAction:     cfg.TimeoutAction,
			NotificationEvent: notifyEvent,
		},
	}
}

func (e *Executor) executeHTTPFamily(ctx context.Context, node domain.Node, input domain.Event, loopResume *domain.LoopState) Result {
	cfg := node.Config.HTTPRequest
	if cfg == nil {
		return Result{Kind: Failed, Err: &WorkflowConstructionError{Reason: "http-family node missing config"}}
	}

	state := loopResume
	if state == nil {
		state = &domain.LoopState{StartedAt: e.now(), LastEvent: input}
	}

	resp, err := e.httpClient.Do(ctx, cfg.Method, cfg.URL, cfg.Headers, cfg.Body, cfg.Timeout, node.RetryConfig)
	if err != nil {
		state.ConsecutiveFailures++
	} else {
		state.ConsecutiveFailures = 0
	}

	out := domain.CloneEvent(state.LastEvent)
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	status := 0
	var bodyErr error
	if resp != nil {
		status = resp.Status
		var parsed any
		if len(resp.Body) > 0 {
			if jsonErr := json.Unmarshal(resp.Body, &parsed); jsonErr != nil {
				parsed = string(resp.Body)
			}
		}
		out.Data = parsed
		out.Metadata["http_status"] = fmt.Sprintf("%d", status)
		out.Metadata["response_size"] = fmt.Sprintf("%d", len(resp.Body))
	} else {
		bodyErr = err
	}

	if cfg.Loop == nil {
		if err != nil {
			return Result{Kind: Failed, Err: fmt.Errorf("http request: %w", err)}
		}
		return Result{Kind: Proceed, Output: out, Branch: domain.BranchNone}
	}

	state.Iteration++
	out.Metadata["loop_iteration"] = fmt.Sprintf("%d", state.Iteration)
	out.Metadata["consecutive_failures"] = fmt.Sprintf("%d", state.ConsecutiveFailures)
	out.Metadata["elapsed_seconds"] = fmt.Sprintf("%.3f", e.now().Sub(state.StartedAt).Seconds())
	state.LastEvent = out

	if cfg.Loop.TerminationFunctionText != "" {
		done, evalErr := e.sandbox.EvalCondition(ctx, cfg.Loop.TerminationFunctionText, out)
		if evalErr != nil {
			return Result{Kind: Failed, Err: fmt.Errorf("loop termination condition: %w", evalErr)}
		}
		if done {
			switch cfg.Loop.TerminationAction {
			case domain.LoopActionSuccess:
				return Result{Kind: Proceed, Output: out, Branch: domain.BranchNone}
			case domain.LoopActionStop:
				return Result{Kind: Drop}
			default: // LoopActionFailure
				if bodyErr == nil {
					bodyErr = errors.New("loop termination action is failure")
				}
				return Result{Kind: Failed, Err: fmt.Errorf("http loop terminated with failure action: %w", bodyErr)}
			}
		}
	}

	limit := cfg.Loop.MaxIterations
	if limit <= 0 || limit > e.maxLoopIterations {
		limit = e.maxLoopIterations
	}
	if state.Iteration >= limit {
		return Result{Kind: Drop}
	}

	nextSleep := nextLoopSleep(*cfg.Loop, state.Iteration)
	return Result{
		Kind: SuspendDelay,
		Timer: &TimerDirective{
			FireAt:    e.now().Add(nextSleep),
			Kind:      domain.DelayTimerHTTPLoopIteration,
			LoopState: state,
		},
		Output: out,
	}
}

func nextLoopSleep(loop domain.LoopConfig, iteration int) time.Duration {
	base := time.Duration(loop.IntervalSeconds * float64(time.Second))
	if loop.Backoff != domain.BackoffExponential {
		return base
	}
	mult := loop.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(base)
	for i := 0; i < iteration; i++ {
		d *= mult
	}
	sleep := time.Duration(d)
	if loop.BackoffMax > 0 && sleep > loop.BackoffMax {
		sleep = loop.BackoffMax
	}
	return sleep
}
