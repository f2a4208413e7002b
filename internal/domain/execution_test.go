package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduledTrigger_InWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	trig := ScheduledTrigger{StartDate: &start, EndDate: &end}

	assert.False(t, trig.InWindow(start.Add(-time.Hour)))
	assert.True(t, trig.InWindow(start.Add(time.Hour)))
	assert.False(t, trig.InWindow(end.Add(time.Hour)))

	unbounded := ScheduledTrigger{}
	assert.True(t, unbounded.InWindow(start))
	assert.True(t, unbounded.InWindow(end.Add(365*24*time.Hour)))
}

func TestNodeBuffer_Ready_FirstWins(t *testing.T) {
	ev := Event{Data: "a"}
	buf := NodeBuffer{
		Strategy: MergeFirstWins,
		Expected: []string{"p1", "p2"},
		Received: map[string]Event{"p2": ev},
	}

	ready, ordered := buf.Ready(time.Now())
	assert.True(t, ready)
	assert.Len(t, ordered, 1)
	assert.Equal(t, "a", ordered[0].Data)
}

func TestNodeBuffer_Ready_FirstWins_NoneArrived(t *testing.T) {
	buf := NodeBuffer{
		Strategy: MergeFirstWins,
		Expected: []string{"p1", "p2"},
		Received: map[string]Event{},
	}

	ready, ordered := buf.Ready(time.Now())
	assert.False(t, ready)
	assert.Nil(t, ordered)
}

func TestNodeBuffer_Ready_WaitForAll(t *testing.T) {
	buf := NodeBuffer{
		Strategy: MergeWaitForAll,
		Expected: []string{"p1", "p2"},
		Received: map[string]Event{"p1": {Data: "a"}},
	}
	ready, _ := buf.Ready(time.Now())
	assert.False(t, ready)

	buf.Received["p2"] = Event{Data: "b"}
	ready, ordered := buf.Ready(time.Now())
	assert.True(t, ready)
	assert.Len(t, ordered, 2)
}

func TestNodeBuffer_Ready_TimeoutBased(t *testing.T) {
	now := time.Now()
	deadline := now.Add(-time.Second) // already past

	buf := NodeBuffer{
		Strategy: MergeTimeoutBased,
		Expected: []string{"p1", "p2"},
		Received: map[string]Event{"p1": {Data: "a"}},
		Deadline: &deadline,
	}

	ready, ordered := buf.Ready(now)
	assert.True(t, ready)
	assert.Len(t, ordered, 2)
	assert.NotNil(t, ordered[0])
	assert.Nil(t, ordered[1]) // missing slot stays nil per spec.md's null-padding
}

func TestNodeBuffer_Ready_TimeoutBased_NotYetDue(t *testing.T) {
	now := time.Now()
	deadline := now.Add(time.Minute)

	buf := NodeBuffer{
		Strategy: MergeTimeoutBased,
		Expected: []string{"p1", "p2"},
		Received: map[string]Event{"p1": {Data: "a"}},
		Deadline: &deadline,
	}

	ready, ordered := buf.Ready(now)
	assert.False(t, ready)
	assert.Nil(t, ordered)
}
