package domain

import "time"

// Execution is one invocation of a Workflow from ingest (or a cron fire)
// to a terminal status. It also carries the crash-safe suspension state
// (§4.4.7, §9 "database-resumption design"): a worker that suspends a
// DAG path persists CurrentNodeID/ResumeEvent/HILTaskID here and exits
// rather than blocking on anything.
type Execution struct {
	ID           string
	WorkflowID   string
	Status       ExecutionStatus
	InputData    any
	OutputData   any
	ErrorMessage string

	// CurrentNodeID, ResumeEvent and HILTaskID capture where a suspended
	// path will resume. ResumeEvent is the Event snapshot at the point of
	// suspension, including any loop-iteration or HIL-response
	// augmentation the resumption job needs.
	CurrentNodeID string
	ResumeEvent   *Event
	HILTaskID     string

	// NodeBuffers holds, per fan-in node id, the predecessor outputs
	// received so far (§4.3 "Buffering"). Keyed by node id so the merge
	// decision survives a crash between partial arrivals.
	NodeBuffers map[string]NodeBuffer

	StartedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// NodeBuffer is the partial-arrival state for one fan-in node.
type NodeBuffer struct {
	Strategy  MergeStrategy
	Deadline  *time.Time // only meaningful for TimeoutBased
	Received  map[string]Event // predecessor node id -> its output
	Expected  []string         // predecessor node ids the merge strategy expects
}

// Ready reports whether the buffer satisfies its merge strategy and, if
// so, the ordered list of arrived events (WaitForAll/TimeoutBased order
// by Expected; missing TimeoutBased slots are nil-padded per spec.md
// §4.3 "Missing slots are represented as null").
func (b NodeBuffer) Ready(now time.Time) (ready bool, ordered []*Event) {
	switch b.Strategy {
	case MergeFirstWins:
		for _, id := range b.Expected {
			if ev, ok := b.Received[id]; ok {
				e := ev
				return true, []*Event{&e}
			}
		}
		return false, nil
	case MergeTimeoutBased:
		timedOut := b.Deadline != nil && !now.Before(*b.Deadline)
		complete := len(b.Received) == len(b.Expected)
		if !complete && !timedOut {
			return false, nil
		}
		ordered = make([]*Event, len(b.Expected))
		for i, id := range b.Expected {
			if ev, ok := b.Received[id]; ok {
				e := ev
				ordered[i] = &e
			}
		}
		return true, ordered
	default: // MergeWaitForAll
		if len(b.Received) < len(b.Expected) {
			return false, nil
		}
		ordered = make([]*Event, 0, len(b.Expected))
		for _, id := range b.Expected {
			if ev, ok := b.Received[id]; ok {
				e := ev
				ordered = append(ordered, &e)
			}
		}
		return true, ordered
	}
}

// ExecutionStep is one node run within an Execution.
type ExecutionStep struct {
	ID          string
	ExecutionID string
	NodeID      string
	Status      StepStatus
	InputData   any
	OutputData  any
	ErrorMessage string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// InputDataAsEvent builds the initial Event seen by a fresh (JobKindStart)
// job from the execution's original ingest payload.
func (e *Execution) InputDataAsEvent() Event {
	return Event{
		Data:             e.InputData,
		Metadata:         map[string]string{},
		ConditionResults: map[string]bool{},
	}
}

// JobPayload is the durable description of what a worker should do with
// a Job: resume a particular execution at a particular node, optionally
// carrying data the resumption needs (a loop response, a HIL decision).
type JobPayload struct {
	NodeID      string     `json:"node_id"`
	ResumeEvent *Event     `json:"resume_event,omitempty"`
	LoopState   *LoopState `json:"loop_state,omitempty"`
}

// Job is a durable unit of worker-pool work (§3).
type Job struct {
	ID          string
	ExecutionID string
	Kind        JobKind
	Payload     JobPayload
	Status      JobStatus
	Priority    int
	ScheduledAt time.Time
	ClaimedBy   string
	ClaimedAt   *time.Time
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeadLetterJob is a Job moved out of the claimable queue after
// exhausting retries, panicking, or failing permanently. Kept for admin
// review (§4.8, §7 "Dead-letter jobs are observable via admin read
// APIs").
type DeadLetterJob struct {
	ID            string
	OriginalJobID string
	ExecutionID   string
	Payload       JobPayload
	ErrorType     string // "permanent", "exhausted", "panic", "cancelled"
	ErrorMessage  string
	StackTrace    string
	CreatedAt     time.Time
	Resolution    string // "", "retried", "discarded"
	ReviewedBy    string
	ReviewNote    string
	ReviewedAt    *time.Time
}

// HILTask is a pending human decision created at a HumanInLoop node.
type HILTask struct {
	ID               string
	ExecutionID      string
	NodeExecutionID  string // unique; the idempotency anchor for webhook replays
	NodeID           string // the HumanInLoop node this task suspends, for decision-edge routing on resume
	WorkflowID       string
	Title            string
	Description      string
	Status           HILStatus
	TimeoutAt        time.Time
	TimeoutAction    HILDecision
	ResponsePayload  any
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// DelayTimer is a pending timed resumption (§3, §4.5).
type DelayTimer struct {
	ID          string
	ExecutionID string
	NodeID      string
	FireAt      time.Time
	Kind        DelayTimerKind
	LoopState   *LoopState // only populated for Kind == DelayTimerHTTPLoopIteration
}

// LoopState is the persisted progress of an in-flight HTTP loop,
// recreated on every iteration so a crash mid-loop resumes correctly.
type LoopState struct {
	Iteration          int
	ConsecutiveFailures int
	StartedAt          time.Time
	LastEvent          Event
}

// ScheduledTrigger is a cron definition that periodically creates fresh
// executions (§3, §4.6).
type ScheduledTrigger struct {
	ID               string
	WorkflowID       string
	TriggerNodeID    string
	CronExpression   string
	Timezone         string
	Enabled          bool
	StartDate        *time.Time
	EndDate          *time.Time
	TestPayload      any
	LastExecutionTime *time.Time
	NextExecutionTime time.Time
	ExecutionCount   int64
	FailureCount     int64
}

// InWindow reports whether t falls within the trigger's optional
// [StartDate, EndDate] bounds.
func (s ScheduledTrigger) InWindow(t time.Time) bool {
	if s.StartDate != nil && t.Before(*s.StartDate) {
		return false
	}
	if s.EndDate != nil && t.After(*s.EndDate) {
		return false
	}
	return true
}
