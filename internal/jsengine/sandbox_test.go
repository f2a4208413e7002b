package jsengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalCondition_True(t *testing.T) {
	sb := New(time.Second, 2)
	ok, err := sb.EvalCondition(context.Background(), "function condition(event) { return event.data === 42; }", map[string]any{"data": 42})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalCondition_NonBoolean(t *testing.T) {
	sb := New(time.Second, 2)
	_, err := sb.EvalCondition(context.Background(), "function condition(event) { return 'yes'; }", nil)
	assert.ErrorIs(t, err, ErrNonBoolean)
}

func TestEvalCondition_Timeout(t *testing.T) {
	sb := New(20*time.Millisecond, 1)
	_, err := sb.EvalCondition(context.Background(), "function condition(event) { while(true) {} }", nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestEvalTransformer_ReturnsValue(t *testing.T) {
	sb := New(time.Second, 2)
	out, dropped, err := sb.EvalTransformer(context.Background(), "function transformer(event) { return {x: 1}; }", nil)
	require.NoError(t, err)
	assert.False(t, dropped)
	assert.NotNil(t, out)
}

func TestEvalTransformer_NullDrops(t *testing.T) {
	sb := New(time.Second, 2)
	_, dropped, err := sb.EvalTransformer(context.Background(), "function transformer(event) { return null; }", nil)
	require.NoError(t, err)
	assert.True(t, dropped)
}

func TestEvalCondition_RuntimesAreNotShared(t *testing.T) {
	sb := New(time.Second, 1)
	_, err := sb.EvalCondition(context.Background(), "function condition(event) { globalThis.leaked = 1; return true; }", nil)
	require.NoError(t, err)

	ok, err := sb.EvalCondition(context.Background(), "function condition(event) { return typeof globalThis.leaked === 'undefined'; }", nil)
	require.NoError(t, err)
	assert.True(t, ok, "a fresh goja.Runtime must not see state from a prior evaluation")
}
