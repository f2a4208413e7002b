// Package worker implements the worker pool (§4.2): a fixed set of
// worker tasks, each consuming one job at a time from the dispatcher's
// bounded per-worker channel and driving it to completion, suspension,
// or failure through the node executor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/executor"
	"github.com/swisspipe/engine/internal/merge"
)

// Config holds worker pool tuning parameters.
type Config struct {
	Count             int
	ChannelCapacity   int
	HeartbeatInterval time.Duration
	RetryPolicy       RetryPolicy
	ErrorHandler      ErrorHandler
}

// DefaultConfig mirrors the defaults spec.md §6 names.
func DefaultConfig() Config {
	return Config{
		Count:             5,
		ChannelCapacity:   1,
		HeartbeatInterval: 30 * time.Second,
		RetryPolicy:       RetryPolicy{MaxRetries: 3, BaseDelay: time.Minute, MaxDelay: time.Hour},
		ErrorHandler:      &DefaultErrorHandler{},
	}
}

// Pool runs Config.Count worker goroutines, each reading from its own
// bounded channel. The dispatcher owns sending jobs into Channels();
// the pool owns running them.
type Pool struct {
	cfg      Config
	repo     Repository
	exec     *executor.Executor
	merge    *merge.Coordinator
	channels []chan domain.Job
	wg       sync.WaitGroup
}

// New returns a Pool with cfg.Count idle channels ready to receive jobs.
func New(cfg Config, repo Repository, exec *executor.Executor) *Pool {
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = &DefaultErrorHandler{}
	}
	if cfg.ChannelCapacity < 1 {
		cfg.ChannelCapacity = 1
	}
	channels := make([]chan domain.Job, cfg.Count)
	for i := range channels {
		channels[i] = make(chan domain.Job, cfg.ChannelCapacity)
	}
	return &Pool{
		cfg:      cfg,
		repo:     repo,
		exec:     exec,
		merge:    merge.New(repo),
		channels: channels,
	}
}

// Channels returns the per-worker bounded channels the dispatcher sends
// claimed jobs on.
func (p *Pool) Channels() []chan domain.Job { return p.channels }

// Start launches one goroutine per worker. It returns immediately; call
// Wait (after closing or draining channels) for graceful shutdown.
func (p *Pool) Start(ctx context.Context) {
	for i, ch := range p.channels {
		p.wg.Add(1)
		workerID := fmt.Sprintf("worker-%d", i)
		go p.run(ctx, workerID, ch)
	}
}

// Wait blocks until every worker goroutine has returned — they return
// when ctx is done, leaving any job still buffered in their channel
// unprocessed, or when their channel is closed.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, workerID string, ch chan domain.Job) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-ch:
			if !ok {
				return
			}
			p.process(ctx, workerID, job)
		case <-ctx.Done():
			return
		}
	}
}

// process drives one job to completion, suspension, or failure —
// exactly one node execution per job, per spec.md §4.2's per-job
// lifecycle: suspension and fan-out both hand off to fresh jobs rather
// than looping within the same one.
func (p *Pool) process(ctx context.Context, workerID string, job domain.Job) {
	slog.InfoContext(ctx, "processing job", "job_id", job.ID, "execution_id", job.ExecutionID, "worker_id", workerID)

	if err := p.repo.MarkProcessing(ctx, job.ID, workerID); err != nil {
		if !errors.Is(err, domain.ErrJobOwnershipLost) {
			slog.ErrorContext(ctx, "failed to mark job processing", "job_id", job.ID, "error", err)
		}
		return
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	go p.runHeartbeat(heartbeatCtx, job.ExecutionID, workerID)

	err := p.executeWithRecovery(ctx, workerID, job)
	cancelHeartbeat()

	if err != nil {
		p.handleJobError(ctx, workerID, job, err)
		return
	}

	if err := p.repo.CompleteJob(ctx, job.ID, workerID); err != nil {
		slog.ErrorContext(ctx, "failed to mark job completed", "job_id", job.ID, "error", err)
	}
}

func (p *Pool) runHeartbeat(ctx context.Context, executionID, workerID string) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.repo.Heartbeat(ctx, executionID); err != nil {
				slog.WarnContext(ctx, "heartbeat failed", "execution_id", executionID, "worker_id", workerID, "error", err)
			}
		}
	}
}

func (p *Pool) executeWithRecovery(ctx context.Context, workerID string, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := captureStack()
			p.cfg.ErrorHandler.HandlePanic(ctx, &job, r, stack)
			err = PanicError{Value: r, StackTrace: stack}
		}
	}()
	return p.runNode(ctx, workerID, job)
}
