package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swisspipe/engine/internal/domain"
)

type fakeRepo struct {
	claimCalls   [][]string
	released     []string
	reclaimCalls int
}

func (f *fakeRepo) ReclaimStale(ctx context.Context, threshold time.Duration) (int, error) {
	f.reclaimCalls++
	return 0, nil
}

// ClaimBatch returns one job per requested worker id, so every call fills
// every idle slot it was offered.
func (f *fakeRepo) ClaimBatch(ctx context.Context, workerIDs []string) ([]ClaimedJob, error) {
	f.claimCalls = append(f.claimCalls, append([]string(nil), workerIDs...))
	out := make([]ClaimedJob, len(workerIDs))
	for i := range workerIDs {
		out[i] = ClaimedJob{Job: domain.Job{ID: workerIDs[i]}}
	}
	return out, nil
}

func (f *fakeRepo) Release(ctx context.Context, jobID string) error {
	f.released = append(f.released, jobID)
	return nil
}

func newDispatcher(n int) (*Dispatcher, *fakeRepo) {
	workerIDs := make([]string, n)
	channels := make([]chan domain.Job, n)
	for i := range channels {
		workerIDs[i] = string(rune('a' + i))
		channels[i] = make(chan domain.Job, 1)
	}
	repo := &fakeRepo{}
	return New(DefaultConfig(), repo, workerIDs, channels), repo
}

func TestIdleSlots_RotatesStartingOffsetAcrossCalls(t *testing.T) {
	d, _ := newDispatcher(4)

	first := d.idleSlots()
	require.Len(t, first, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, first)

	second := d.idleSlots()
	assert.Equal(t, []int{1, 2, 3, 0}, second, "the second tick must not start from index 0 again")

	third := d.idleSlots()
	assert.Equal(t, []int{2, 3, 0, 1}, third)
}

func TestTick_DispatchesOneJobPerIdleChannel(t *testing.T) {
	d, repo := newDispatcher(3)

	d.tick(context.Background())

	require.Len(t, repo.claimCalls, 1)
	assert.Len(t, repo.claimCalls[0], 3)
	for _, ch := range d.channels {
		assert.Len(t, ch, 1)
	}
}

func TestTick_SkipsFullChannels(t *testing.T) {
	d, repo := newDispatcher(2)
	d.channels[0] <- domain.Job{ID: "already-queued"}

	d.tick(context.Background())

	require.Len(t, repo.claimCalls, 1)
	assert.Equal(t, []string{"b"}, repo.claimCalls[0], "only the idle channel's worker id should be offered to ClaimBatch")
}

func TestTick_NoIdleSlotsSkipsClaim(t *testing.T) {
	d, repo := newDispatcher(1)
	d.channels[0] <- domain.Job{ID: "full"}

	d.tick(context.Background())

	assert.Empty(t, repo.claimCalls)
}

func TestRun_ReclaimsStaleJobsOnStartup(t *testing.T) {
	d, repo := newDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 1, repo.reclaimCalls)
}
