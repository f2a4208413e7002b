package domain

import "time"

// Workflow is a user-authored DAG definition: a set of nodes and the
// directed edges between them, plus the node execution begins at.
//
// Workflow is immutable once referenced by an Execution — admin edits
// create a new row rather than mutating one an in-flight execution has
// already read, so a running DAG instance never sees its own definition
// change out from under it.
type Workflow struct {
	ID                     string
	Name                   string
	Enabled                bool
	Nodes                  []Node
	Edges                  []Edge
	StartNodeID            string
	SourceTrackingEnabled  bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NodeByID returns the node with the given id, or false if absent.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// EdgesFrom returns every edge whose From matches nodeID, in the order
// they were authored.
func (w *Workflow) EdgesFrom(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EdgesTo returns every edge whose To matches nodeID — the predecessor
// set the input coordinator needs to know about for fan-in nodes.
func (w *Workflow) EdgesTo(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.To == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Node is one DAG vertex. Config is kind-specific and stored as opaque
// JSON; the executor type-asserts the fields it needs for the node's
// Kind (§4.4).
type Node struct {
	ID            string
	Name          string
	Kind          NodeKind
	Config        NodeConfig
	MergeStrategy MergeStrategy // zero value: not a fan-in node, or WaitForAll if >1 predecessor
	RetryConfig   *RetryConfig
	FailureAction FailureAction
}

// Edge is a DAG arc. Branch disambiguates which of a node's possible
// outcomes this edge follows — Condition's "true"/"false", HIL's three
// labels. Plain single-outcome nodes use BranchNone.
type Edge struct {
	From   string
	To     string
	Branch EdgeBranch
}

// RetryConfig parameterizes exponential backoff for a node whose
// FailureAction is Retry, and independently for HttpRequest/Email/
// OpenObserve/Anthropic node transport retries (§4.4.4).
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// NextDelay computes delay_ms = min(max_delay, initial_delay *
// multiplier^attempt) per spec.md §4.4.4, attempt counted from 0.
func (r RetryConfig) NextDelay(attempt int) time.Duration {
	d := float64(r.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= r.Multiplier
	}
	delay := time.Duration(d)
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// NodeConfig is the union of every kind-specific configuration shape. A
// given Node populates only the block matching its Kind; the executor's
// dispatch (internal/executor) reads the matching block and ignores the
// rest.
type NodeConfig struct {
	Condition   *ConditionConfig
	Transformer *TransformerConfig
	HTTPRequest *HTTPRequestConfig
	Delay       *DelayConfig
	HumanInLoop *HumanInLoopConfig
}

// ConditionConfig holds the JS predicate text for a Condition node.
type ConditionConfig struct {
	FunctionText string // `function condition(event) { ... return boolean }`
}

// TransformerConfig holds the JS mapping text for a Transformer node.
type TransformerConfig struct {
	FunctionText string // `function transformer(event) { ... return event|null }`
}

// HTTPRequestConfig covers HttpRequest, Email, OpenObserve, and Anthropic
// nodes: they all perform one bounded-timeout HTTP call and share a loop
// contract (§4.4.4).
type HTTPRequestConfig struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    any
	Timeout time.Duration
	Loop    *LoopConfig
}

// LoopConfig is the optional HTTP-loop contract attached to an
// HttpRequest-family node.
type LoopConfig struct {
	MaxIterations        int // 0 == unbounded, capped by a runtime safety limit
	IntervalSeconds       float64
	Backoff              BackoffKind
	BackoffMultiplier     float64
	BackoffMax            time.Duration
	TerminationFunctionText string // `function condition(event) { ... return boolean }`
	TerminationAction     LoopTerminationAction
}

// DelayConfig is a Delay node's sleep specification (§4.4.6).
type DelayConfig struct {
	Duration int64
	Unit     DelayUnit
}

// FireAt resolves the configured duration/unit into an absolute time
// relative to from.
func (d DelayConfig) FireAt(from time.Time) time.Time {
	switch d.Unit {
	case DelayUnitMinutes:
		return from.Add(time.Duration(d.Duration) * time.Minute)
	case DelayUnitHours:
		return from.Add(time.Duration(d.Duration) * time.Hour)
	case DelayUnitDays:
		return from.Add(time.Duration(d.Duration) * 24 * time.Hour)
	default:
		return from.Add(time.Duration(d.Duration) * time.Second)
	}
}

// HumanInLoopConfig describes a HIL node's prompt and timeout policy
// (§4.4.7).
type HumanInLoopConfig struct {
	Title         string
	Description   string
	Timeout       time.Duration
	TimeoutAction HILDecision
}
