// Package merge implements the input coordinator (§4.3): deciding when a
// fan-in node is ready to run and what input event it sees, given that
// predecessors may complete in any order and at any time, including
// across a crash and restart.
package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/swisspipe/engine/internal/domain"
)

// Repository is the persistence contract merge needs. It is owned by
// this package, not by the storage layer — the consumer defines the
// shape it needs.
type Repository interface {
	// LoadBuffer returns the current partial-arrival buffer for nodeID
	// on execution, or ok=false if none exists yet.
	LoadBuffer(ctx context.Context, executionID, nodeID string) (domain.NodeBuffer, bool, error)

	// SaveBuffer persists buf as the buffer for nodeID on execution,
	// overwriting any prior state. Must be durable before Arrive returns
	// so the merge decision survives a crash (§4.3 "Buffering").
	SaveBuffer(ctx context.Context, executionID, nodeID string, buf domain.NodeBuffer) error

	// ClearBuffer removes the buffer once the node has run (or been
	// skipped), so a later re-entry to the same node id (e.g. a cycle
	// guard failure aside, a diamond re-converging) starts fresh.
	ClearBuffer(ctx context.Context, executionID, nodeID string) error
}

// Coordinator decides readiness for fan-in nodes.
type Coordinator struct {
	repo Repository
}

// New returns a Coordinator backed by repo.
func New(repo Repository) *Coordinator {
	return &Coordinator{repo: repo}
}

// Arrival is the outcome of one predecessor output arriving at a fan-in
// node.
type Arrival struct {
	// Ready is true when the merge strategy is satisfied and the node
	// should now execute with Events as its ordered input.
	Ready bool
	// Events is the ordered list of predecessor outputs (nil-padded for
	// TimeoutBased missing slots). Only meaningful when Ready is true.
	Events []*domain.Event
	// Discarded is true when this arrival itself should be marked
	// skipped rather than buffered — FirstWins after the first winner
	// has already been recorded.
	Discarded bool
}

// Arrive records one predecessor's output for a fan-in node and reports
// whether the node is now ready to run (§4.3).
func (c *Coordinator) Arrive(ctx context.Context, executionID, nodeID, predecessorID string, event domain.Event, expected []string, strategy domain.MergeStrategy, deadline *time.Time) (Arrival, error) {
	buf, ok, err := c.repo.LoadBuffer(ctx, executionID, nodeID)
	if err != nil {
		return Arrival{}, fmt.Errorf("merge: load buffer: %w", err)
	}
	if !ok {
		buf = domain.NodeBuffer{
			Strategy: strategy,
			Deadline: deadline,
			Received: make(map[string]domain.Event),
			Expected: expected,
		}
	}

	if strategy == domain.MergeFirstWins && len(buf.Received) > 0 {
		return Arrival{Discarded: true}, nil
	}

	if buf.Received == nil {
		buf.Received = make(map[string]domain.Event)
	}
	buf.Received[predecessorID] = event

	ready, ordered := buf.Ready(time.Now())
	if ready && strategy == domain.MergeFirstWins {
		// Keep the winner recorded so later arrivals are discarded.
		if err := c.repo.SaveBuffer(ctx, executionID, nodeID, buf); err != nil {
			return Arrival{}, fmt.Errorf("merge: save buffer: %w", err)
		}
		return Arrival{Ready: true, Events: ordered}, nil
	}
	if ready {
		if err := c.repo.ClearBuffer(ctx, executionID, nodeID); err != nil {
			return Arrival{}, fmt.Errorf("merge: clear buffer: %w", err)
		}
		return Arrival{Ready: true, Events: ordered}, nil
	}

	if err := c.repo.SaveBuffer(ctx, executionID, nodeID, buf); err != nil {
		return Arrival{}, fmt.Errorf("merge: save buffer: %w", err)
	}
	return Arrival{}, nil
}

// SweepTimeouts is called by the delay scheduler (or a periodic sweep)
// for TimeoutBased buffers whose deadline has elapsed without every
// predecessor arriving; it forces readiness with whatever arrived.
func (c *Coordinator) SweepTimeouts(ctx context.Context, executionID, nodeID string) (Arrival, error) {
	buf, ok, err := c.repo.LoadBuffer(ctx, executionID, nodeID)
	if err != nil {
		return Arrival{}, fmt.Errorf("merge: load buffer: %w", err)
	}
	if !ok || buf.Strategy != domain.MergeTimeoutBased {
		return Arrival{}, nil
	}
	ready, ordered := buf.Ready(time.Now())
	if !ready {
		return Arrival{}, nil
	}
	if err := c.repo.ClearBuffer(ctx, executionID, nodeID); err != nil {
		return Arrival{}, fmt.Errorf("merge: clear buffer: %w", err)
	}
	return Arrival{Ready: true, Events: ordered}, nil
}

// MergeEvents folds an ordered list of predecessor outputs into the
// single input event a fan-in node's executor call receives: Data
// becomes the ordered array of predecessor data (§4.3 "an ordered array
// of predecessor outputs"), while metadata/headers/condition results and
// source lineage are unioned from whichever events arrived.
func MergeEvents(events []*domain.Event) domain.Event {
	out := domain.Event{
		Metadata:         map[string]string{},
		ConditionResults: map[string]bool{},
	}
	data := make([]any, len(events))
	var sourceLists [][]domain.SourceEntry
	for i, ev := range events {
		if ev == nil {
			data[i] = nil
			continue
		}
		data[i] = ev.Data
		for k, v := range ev.Metadata {
			out.Metadata[k] = v
		}
		if out.Headers == nil && ev.Headers != nil {
			out.Headers = make(map[string]string, len(ev.Headers))
		}
		for k, v := range ev.Headers {
			out.Headers[k] = v
		}
		for k, v := range ev.ConditionResults {
			out.ConditionResults[k] = v
		}
		if ev.Sources != nil {
			sourceLists = append(sourceLists, ev.Sources)
		}
	}
	out.Data = data
	if len(sourceLists) > 0 {
		out.Sources = domain.UnionSources(sourceLists...)
	}
	return out
}
