// Package dispatcher implements the job dispatcher (§4.1): the sole
// reader of the Job table, claiming batches of pending jobs in one
// transaction and distributing them round-robin over bounded per-worker
// channels.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/swisspipe/engine/internal/domain"
)

// Repository is the persistence contract the dispatcher needs. Owned by
// this package: batch claim, startup reclaim, and the drain-on-shutdown
// release.
type Repository interface {
	// ReclaimStale resets jobs stuck in claimed/processing with
	// claimed_at older than threshold back to pending (§4.1 "Startup
	// reclaim"). Returns the count reclaimed.
	ReclaimStale(ctx context.Context, threshold time.Duration) (int, error)

	// ClaimBatch selects up to n pending jobs ordered by (priority desc,
	// scheduled_at asc) with scheduled_at <= now, stamps them claimed by
	// the given worker ids round-robin, and returns them in the same
	// transaction (§4.1 steps 1-3). workerIDs has length n; ClaimBatch
	// returns at most len(workerIDs) jobs, one destined for each id in
	// order.
	ClaimBatch(ctx context.Context, workerIDs []string) ([]ClaimedJob, error)

	// Release resets a single claimed-but-undelivered job back to
	// pending — used during graceful shutdown to drain a worker's
	// channel back to the DB (§4.1 "Shutdown").
	Release(ctx context.Context, jobID string) error
}

// ClaimedJob pairs a claimed Job with the worker id index (0-based) it
// was assigned to, so the dispatcher knows which channel to send it on.
type ClaimedJob struct {
	Job        domain.Job
	WorkerSlot int
}

// Config tunes the dispatcher's polling behavior (§4.1).
type Config struct {
	PollInterval        time.Duration
	StaleClaimThreshold time.Duration
}

// DefaultConfig mirrors spec.md §4.1's stated defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:        200 * time.Millisecond,
		StaleClaimThreshold: 5 * time.Minute,
	}
}

// Dispatcher owns the per-worker channels and the claim loop.
type Dispatcher struct {
	cfg       Config
	repo      Repository
	workerIDs []string
	channels  []chan domain.Job
	done      chan struct{}
	cursor    int // rotates idleSlots' starting offset so no worker is favored tick over tick
}

// New returns a Dispatcher sending claimed jobs onto channels, one per
// worker, in the same order as workerIDs.
func New(cfg Config, repo Repository, workerIDs []string, channels []chan domain.Job) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		repo:      repo,
		workerIDs: workerIDs,
		channels:  channels,
		done:      make(chan struct{}),
	}
}

// Run performs the startup reclaim and then loops polling until ctx is
// cancelled. On return, every in-flight claimed-but-undelivered job has
// been released back to pending (§4.1 "Shutdown").
func (d *Dispatcher) Run(ctx context.Context) error {
	reclaimed, err := d.repo.ReclaimStale(ctx, d.cfg.StaleClaimThreshold)
	if err != nil {
		return fmt.Errorf("dispatcher: startup reclaim: %w", err)
	}
	if reclaimed > 0 {
		slog.InfoContext(ctx, "reclaimed stale jobs at startup", "count", reclaimed)
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			releaseCtx := context.WithoutCancel(ctx)
			for _, ch := range d.channels {
			drain:
				for {
					select {
					case job := <-ch:
						if err := d.repo.Release(releaseCtx, job.ID); err != nil {
							slog.ErrorContext(releaseCtx, "dispatcher: release on shutdown failed", "job_id", job.ID, "error", err)
						}
					default:
						break drain
					}
				}
			}
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick claims and dispatches one batch. Errors are logged and retried on
// the next tick (§4.1 "If the transaction fails, the tick is retried
// after the poll interval").
func (d *Dispatcher) tick(ctx context.Context) {
	idle := d.idleSlots()
	if len(idle) == 0 {
		return
	}

	idleWorkerIDs := make([]string, len(idle))
	for i, slot := range idle {
		idleWorkerIDs[i] = d.workerIDs[slot]
	}

	claimed, err := d.repo.ClaimBatch(ctx, idleWorkerIDs)
	if err != nil {
		slog.ErrorContext(ctx, "dispatcher: claim batch failed", "error", err)
		return
	}

	for i, cj := range claimed {
		slot := idle[i]
		select {
		case d.channels[slot] <- cj.Job:
		default:
			// Channel unexpectedly full (should not happen since we only
			// claimed as many jobs as idle slots); release back to
			// pending rather than block the dispatcher loop.
			if err := d.repo.Release(ctx, cj.Job.ID); err != nil {
				slog.ErrorContext(ctx, "dispatcher: release overflow job failed", "job_id", cj.Job.ID, "error", err)
			}
		}
	}
}

// idleSlots returns the indices of channels with free capacity right
// now, starting from a rotating offset rather than always index 0, so
// that under light load every worker gets an equal share of ticks
// instead of low-index workers being filled first every time (§8
// property-3 fairness). The dispatcher only reads as many jobs as it can
// immediately dispatch (§5 "Backpressure").
func (d *Dispatcher) idleSlots() []int {
	n := len(d.channels)
	if n == 0 {
		return nil
	}
	var idle []int
	for i := 0; i < n; i++ {
		slot := (d.cursor + i) % n
		if ch := d.channels[slot]; len(ch) < cap(ch) {
			idle = append(idle, slot)
		}
	}
	d.cursor = (d.cursor + 1) % n
	return idle
}
