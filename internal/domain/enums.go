package domain

// NodeKind identifies what a Node does when the executor reaches it.
type NodeKind string

const (
	NodeKindTrigger      NodeKind = "trigger"
	NodeKindCondition    NodeKind = "condition"
	NodeKindTransformer  NodeKind = "transformer"
	NodeKindHTTPRequest  NodeKind = "http_request"
	NodeKindOpenObserve  NodeKind = "open_observe"
	NodeKindEmail        NodeKind = "email"
	NodeKindDelay        NodeKind = "delay"
	NodeKindAnthropic    NodeKind = "anthropic"
	NodeKindHumanInLoop  NodeKind = "human_in_loop"
)

// MergeStrategy is the policy a fan-in node uses to decide when it is ready
// to run once more than one incoming edge feeds it.
type MergeStrategy string

const (
	MergeWaitForAll   MergeStrategy = "wait_for_all"
	MergeFirstWins    MergeStrategy = "first_wins"
	MergeTimeoutBased MergeStrategy = "timeout_based"
)

// FailureAction is the per-node policy applied when the node's own logic
// fails (JS exception, non-2xx after retries exhausted, and so on).
type FailureAction string

const (
	FailureStop     FailureAction = "stop"
	FailureContinue FailureAction = "continue"
	FailureRetry    FailureAction = "retry"
)

// ExecutionStatus is the lifecycle state of one workflow invocation.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further mutation of the execution row
// (other than audit fields) is permitted.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of one node run within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// JobKind distinguishes a fresh DAG start from a resumption of an
// already-running execution.
type JobKind string

const (
	JobKindStart  JobKind = "start"
	JobKindResume JobKind = "resume"
)

// JobStatus is the lifecycle state of a durable unit of worker-pool work.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobClaimed    JobStatus = "claimed"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// IsTerminal reports whether the job will never be claimed again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobDeadLetter:
		return true
	default:
		return false
	}
}

// HILStatus is the lifecycle state of a pending human decision.
type HILStatus string

const (
	HILPending  HILStatus = "pending"
	HILApproved HILStatus = "approved"
	HILDenied   HILStatus = "denied"
	HILTimedOut HILStatus = "timed_out"
)

// HILDecision mirrors HILStatus for the subset of values a human (or a
// timeout policy) can produce as an answer.
type HILDecision string

const (
	HILDecisionApproved HILDecision = "approved"
	HILDecisionDenied   HILDecision = "denied"
)

// DelayTimerKind distinguishes the three sources of timed resumption.
type DelayTimerKind string

const (
	DelayTimerDelay             DelayTimerKind = "delay"
	DelayTimerHTTPLoopIteration DelayTimerKind = "http_loop_iteration"
	DelayTimerCronNext          DelayTimerKind = "cron_next"
)

// DelayUnit is the unit a Delay node's duration is expressed in.
type DelayUnit string

const (
	DelayUnitSeconds DelayUnit = "seconds"
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// BackoffKind selects how an HTTP-loop's inter-iteration sleep grows.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// LoopTerminationAction is the disposition applied when an HTTP loop's
// termination condition evaluates true.
type LoopTerminationAction string

const (
	LoopActionSuccess LoopTerminationAction = "success"
	LoopActionFailure LoopTerminationAction = "failure"
	LoopActionStop    LoopTerminationAction = "stop"
)

// EdgeBranch labels an outgoing edge so the executor knows which edges to
// follow for a given node outcome (Condition's true/false, HIL's three
// labels). A plain pass-through edge (Trigger, Transformer, terminal
// HttpRequest, Delay) carries the empty label.
type EdgeBranch string

const (
	BranchNone         EdgeBranch = ""
	BranchTrue         EdgeBranch = "true"
	BranchFalse        EdgeBranch = "false"
	BranchNotification EdgeBranch = "notification"
	BranchApproved     EdgeBranch = "approved"
	BranchDenied       EdgeBranch = "denied"
)
