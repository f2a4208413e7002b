package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatus_IsTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionCancelled}
	for _, s := range terminal {
		assert.Truef(t, s.IsTerminal(), "%s should be terminal", s)
	}

	nonTerminal := []ExecutionStatus{ExecutionPending, ExecutionRunning}
	for _, s := range nonTerminal {
		assert.Falsef(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.True(t, JobCompleted.IsTerminal())
	assert.True(t, JobDeadLetter.IsTerminal())
	assert.False(t, JobPending.IsTerminal())
	assert.False(t, JobClaimed.IsTerminal())
	assert.False(t, JobProcessing.IsTerminal())
	assert.False(t, JobFailed.IsTerminal())
}
