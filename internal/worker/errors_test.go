package worker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	base := errors.New("connection reset")
	assert.True(t, IsRetryable(Transient(base)))
	assert.False(t, IsRetryable(base))
	assert.False(t, IsRetryable(nil))

	wrapped := fmt.Errorf("claim job: %w", Transient(base))
	assert.True(t, IsRetryable(wrapped))
}

func TestIsPanic(t *testing.T) {
	p := PanicError{Value: "boom", StackTrace: "goroutine 1"}
	assert.True(t, IsPanic(p))
	assert.False(t, IsPanic(errors.New("boom")))
	assert.Contains(t, p.Error(), "boom")
}

func TestIsJobCancelled(t *testing.T) {
	c := JobCancelled{Reason: "execution cancelled"}
	assert.True(t, IsJobCancelled(c))
	assert.False(t, IsJobCancelled(errors.New("execution cancelled")))
}
