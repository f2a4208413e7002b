package cronscheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule_Valid(t *testing.T) {
	sched, err := ParseSchedule("0 9 * * *")
	require.NoError(t, err)
	assert.NotNil(t, sched)
}

func TestParseSchedule_Invalid(t *testing.T) {
	_, err := ParseSchedule("not a cron expression")
	assert.Error(t, err)
}

func TestPreviewNext(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := PreviewNext("0 9 * * *", from, 3)
	require.NoError(t, err)
	require.Len(t, next, 3)

	for i, ts := range next {
		assert.Equal(t, 9, ts.Hour())
		if i > 0 {
			assert.True(t, ts.After(next[i-1]))
		}
	}
}

func TestPreviewNext_InvalidExpression(t *testing.T) {
	_, err := PreviewNext("garbage", time.Now(), 5)
	assert.Error(t, err)
}
