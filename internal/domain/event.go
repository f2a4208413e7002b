package domain

import "time"

// Event is the value threaded through a DAG as execution advances. It is
// the exact shape the JS sandbox sees (§4.9): field names here are the
// JSON keys goja's runtime gets, so they are not renamed for Go
// conventions the way an internal-only type would be.
type Event struct {
	Data             any               `json:"data"`
	Metadata         map[string]string `json:"metadata"`
	Headers          map[string]string `json:"headers"`
	ConditionResults map[string]bool   `json:"condition_results"`
	HILTask          *HILTaskView      `json:"hil_task,omitempty"`
	Sources          []SourceEntry     `json:"sources,omitempty"`
}

// HILTaskView is the subset of a HILTask exposed to the notification
// branch's JS/templating context, never the full row.
type HILTaskView struct {
	ID          string `json:"id"`
	CallbackURL string `json:"callback_url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SourceEntry is one entry in the optional event.sources lineage list
// (§9 open question "source tracking"). Population is gated by
// Workflow.SourceTrackingEnabled; the executor otherwise only ever copies
// the list forward unioned across fan-in branches, never interprets it.
type SourceEntry struct {
	NodeID    string    `json:"node_id"`
	NodeName  string    `json:"node_name"`
	NodeType  NodeKind  `json:"node_type"`
	Data      any       `json:"data"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// CloneEvent returns a deep-enough copy so two DAG branches fanning out
// from the same node can mutate their own copy of metadata/condition
// results without aliasing the original.
func CloneEvent(e Event) Event {
	out := Event{Data: e.Data}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	if e.Headers != nil {
		out.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			out.Headers[k] = v
		}
	}
	if e.ConditionResults != nil {
		out.ConditionResults = make(map[string]bool, len(e.ConditionResults))
		for k, v := range e.ConditionResults {
			out.ConditionResults[k] = v
		}
	}
	out.HILTask = e.HILTask
	if e.Sources != nil {
		out.Sources = append([]SourceEntry(nil), e.Sources...)
	}
	return out
}

// UnionSources merges source lineage lists from concurrently-completed
// fan-in branches by (node_id, sequence), keeping the later timestamp on
// conflict — the resolution spec.md §9 states for WaitForAll fan-in.
func UnionSources(lists ...[]SourceEntry) []SourceEntry {
	type key struct {
		nodeID   string
		sequence int
	}
	merged := make(map[key]SourceEntry)
	var order []key
	for _, list := range lists {
		for _, entry := range list {
			k := key{entry.NodeID, entry.Sequence}
			existing, ok := merged[k]
			if !ok {
				merged[k] = entry
				order = append(order, k)
				continue
			}
			if entry.Timestamp.After(existing.Timestamp) {
				merged[k] = entry
			}
		}
	}
	out := make([]SourceEntry, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k])
	}
	return out
}
