package delayscheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swisspipe/engine/internal/domain"
)

type fakeRepo struct {
	mu        sync.Mutex
	timers    []domain.DelayTimer
	fired     []string
	cancelled []string
}

func (f *fakeRepo) ListDelayTimers(ctx context.Context) ([]domain.DelayTimer, error) {
	return f.timers, nil
}

func (f *fakeRepo) Fire(ctx context.Context, timerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, timerID)
	return nil
}

func (f *fakeRepo) CancelForExecution(ctx context.Context, executionID string) error {
	f.cancelled = append(f.cancelled, executionID)
	return nil
}

func (f *fakeRepo) firedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fired...)
}

func TestRun_FiresOverdueTimerImmediately(t *testing.T) {
	repo := &fakeRepo{timers: []domain.DelayTimer{
		{ID: "overdue", FireAt: time.Now().Add(-time.Hour)},
	}}
	sched := New(Config{StartupJitter: 0, SafetyCap: time.Hour}, repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, id := range repo.firedIDs() {
			if id == "overdue" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRun_FiresFutureTimerAfterItsDelay(t *testing.T) {
	repo := &fakeRepo{timers: []domain.DelayTimer{
		{ID: "soon", FireAt: time.Now().Add(30 * time.Millisecond)},
	}}
	sched := New(Config{StartupJitter: 0, SafetyCap: time.Hour}, repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	assert.Empty(t, repo.firedIDs())
	require.Eventually(t, func() bool {
		return len(repo.firedIDs()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestCancelExecution_DelegatesToRepository(t *testing.T) {
	repo := &fakeRepo{}
	sched := New(DefaultConfig(), repo)
	require.NoError(t, sched.CancelExecution(context.Background(), "exec-1"))
	assert.Equal(t, []string{"exec-1"}, repo.cancelled)
}
