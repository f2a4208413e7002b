package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testWorkflow() Workflow {
	return Workflow{
		ID:          "wf-1",
		StartNodeID: "n1",
		Nodes: []Node{
			{ID: "n1", Kind: NodeKindTrigger},
			{ID: "n2", Kind: NodeKindTransformer},
		},
		Edges: []Edge{
			{From: "n1", To: "n2"},
			{From: "n1", To: "n3", Branch: BranchTrue},
		},
	}
}

func TestWorkflow_NodeByID(t *testing.T) {
	wf := testWorkflow()

	n, ok := wf.NodeByID("n2")
	assert.True(t, ok)
	assert.Equal(t, NodeKindTransformer, n.Kind)

	_, ok = wf.NodeByID("missing")
	assert.False(t, ok)
}

func TestWorkflow_EdgesFromTo(t *testing.T) {
	wf := testWorkflow()

	from := wf.EdgesFrom("n1")
	assert.Len(t, from, 2)

	to := wf.EdgesTo("n2")
	assert.Len(t, to, 1)
	assert.Equal(t, "n1", to[0].From)

	assert.Empty(t, wf.EdgesTo("n1"))
}

func TestRetryConfig_NextDelay(t *testing.T) {
	r := RetryConfig{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
	}

	assert.Equal(t, time.Second, r.NextDelay(0))
	assert.Equal(t, 2*time.Second, r.NextDelay(1))
	assert.Equal(t, 4*time.Second, r.NextDelay(2))
	// Capped: 1s * 2^5 = 32s, clamped to MaxDelay.
	assert.Equal(t, 10*time.Second, r.NextDelay(5))
}

func TestDelayConfig_FireAt(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		unit DelayUnit
		dur  int64
		want time.Time
	}{
		{DelayUnitSeconds, 30, from.Add(30 * time.Second)},
		{DelayUnitMinutes, 5, from.Add(5 * time.Minute)},
		{DelayUnitHours, 2, from.Add(2 * time.Hour)},
		{DelayUnitDays, 1, from.Add(24 * time.Hour)},
	}
	for _, c := range cases {
		d := DelayConfig{Duration: c.dur, Unit: c.unit}
		assert.Equal(t, c.want, d.FireAt(from))
	}
}
