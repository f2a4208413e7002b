// Package jsengine evaluates user-supplied transformer, condition, and
// HTTP-loop termination functions in a sandboxed, single-shot JavaScript
// context (§4.9). It is built on dop251/goja, a pure-Go ECMAScript
// interpreter: no cgo, easy to bound with goja.Runtime.Interrupt, and
// with no filesystem/network bindings registered there is no I/O surface
// to sandbox away in the first place.
package jsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// ErrTimeout is returned when a script exceeds its wall-clock budget.
var ErrTimeout = errors.New("jsengine: evaluation exceeded time budget")

// ErrNonBoolean is returned by EvalCondition when the script's return
// value is not a JS boolean.
var ErrNonBoolean = errors.New("jsengine: condition function did not return a boolean")

// Sandbox runs scripts one at a time per call, each on a fresh
// goja.Runtime (§9 "Treat the JS interpreter as a single-shot evaluator
// ... do not share contexts across invocations"). A buffered semaphore
// channel caps how many scripts can run concurrently so JS evaluation —
// which is CPU-bound and must not starve the dispatcher or I/O — stays
// bounded regardless of worker pool size.
type Sandbox struct {
	timeout time.Duration
	tokens  chan struct{}
}

// New returns a Sandbox that evaluates at most poolSize scripts
// concurrently, each bounded by timeout wall-clock time.
func New(timeout time.Duration, poolSize int) *Sandbox {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Sandbox{
		timeout: timeout,
		tokens:  make(chan struct{}, poolSize),
	}
}

// acquire blocks until a pool slot is free or ctx is done.
func (s *Sandbox) acquire(ctx context.Context) error {
	select {
	case s.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sandbox) release() { <-s.tokens }

// run builds a fresh runtime, installs event as the global "event"
// value, evaluates src, and calls the named entry-point function with
// event as its sole argument. It never shares a runtime across calls.
func (s *Sandbox) run(ctx context.Context, src, fnName string, event any) (goja.Value, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("jsengine: marshal event: %w", err)
	}
	var eventVal any
	if err := json.Unmarshal(eventJSON, &eventVal); err != nil {
		return nil, fmt.Errorf("jsengine: unmarshal event: %w", err)
	}
	if err := vm.Set("event", eventVal); err != nil {
		return nil, fmt.Errorf("jsengine: bind event: %w", err)
	}

	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt(ErrTimeout)
	})
	defer timer.Stop()

	if _, err := vm.RunString(src); err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, ErrTimeout
		}
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("jsengine: compile/run: %w", err)
	}

	fnVal := vm.Get(fnName)
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("jsengine: %q is not defined as a function", fnName)
	}

	result, err := fn(goja.Undefined(), vm.Get("event"))
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, ErrTimeout
		}
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("jsengine: %s: %w", fnName, err)
	}
	return result, nil
}

// EvalCondition runs a `function condition(event) → boolean` script and
// returns its boolean result (§4.4.2). A thrown exception or non-boolean
// result is an error the caller surfaces as a node failure.
func (s *Sandbox) EvalCondition(ctx context.Context, functionText string, event any) (bool, error) {
	result, err := s.run(ctx, functionText, "condition", event)
	if err != nil {
		return false, err
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return false, ErrNonBoolean
	}
	b, ok := result.Export().(bool)
	if !ok {
		return false, ErrNonBoolean
	}
	return b, nil
}

// EvalTransformer runs a `function transformer(event) → event|null`
// script (§4.4.3). A nil return (JS null/undefined) signals the path
// should be dropped.
func (s *Sandbox) EvalTransformer(ctx context.Context, functionText string, event any) (result any, dropped bool, err error) {
	val, err := s.run(ctx, functionText, "transformer", event)
	if err != nil {
		return nil, false, err
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, true, nil
	}
	return val.Export(), false, nil
}
