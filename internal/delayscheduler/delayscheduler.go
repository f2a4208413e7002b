// Package delayscheduler implements the delay scheduler (§4.5): in-memory
// timers mirroring the delay-timer table, rebuilt from persisted state on
// startup so restart recovery never depends on anything but the DB.
package delayscheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/swisspipe/engine/internal/domain"
)

// Repository is the persistence contract the delay scheduler needs.
type Repository interface {
	// ListDelayTimers returns every timer row, used to rebuild in-memory
	// timers on startup.
	ListDelayTimers(ctx context.Context) ([]domain.DelayTimer, error)

	// Fire atomically deletes the timer row and inserts a resumption job
	// in one transaction (§4.5 "performs a transactional handoff").
	Fire(ctx context.Context, timerID string) error

	// CancelForExecution removes every timer belonging to an execution —
	// used by cancel_execution (§5 "Cancellation").
	CancelForExecution(ctx context.Context, executionID string) error
}

// Config tunes startup jitter and the overflow-avoidance safety cap.
type Config struct {
	StartupJitter time.Duration
	SafetyCap     time.Duration
}

// DefaultConfig mirrors spec.md §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{StartupJitter: 2 * time.Second, SafetyCap: 365 * 24 * time.Hour}
}

// Scheduler owns every in-flight delay timer's goroutine.
type Scheduler struct {
	cfg  Config
	repo Repository

	mu     chan struct{} // binary semaphore guarding timers map
	timers map[string]*time.Timer
}

// New returns a Scheduler backed by repo.
func New(cfg Config, repo Repository) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		repo:   repo,
		mu:     make(chan struct{}, 1),
		timers: make(map[string]*time.Timer),
	}
}

func (s *Scheduler) lock()   { s.mu <- struct{}{} }
func (s *Scheduler) unlock() { <-s.mu }

// Run rebuilds every timer from the database and then blocks until ctx
// is cancelled, firing jobs as timers elapse (§4.5 "Startup").
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.StartupJitter > 0 {
		jitter := rand.N(s.cfg.StartupJitter)
		t := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}

	timers, err := s.repo.ListDelayTimers(ctx)
	if err != nil {
		return fmt.Errorf("delayscheduler: load timers: %w", err)
	}

	now := time.Now()
	for _, timer := range timers {
		s.arm(ctx, timer, now)
	}

	<-ctx.Done()
	s.stopAll()
	return nil
}

// arm schedules (or immediately fires) one timer.
func (s *Scheduler) arm(ctx context.Context, timer domain.DelayTimer, now time.Time) {
	if !timer.FireAt.After(now) {
		// Missed-fire policy: fire once, do not coalesce (§4.5).
		s.fire(ctx, timer.ID)
		return
	}

	wait := timer.FireAt.Sub(now)
	if wait > s.cfg.SafetyCap {
		wait = s.cfg.SafetyCap
	}

	s.lock()
	s.timers[timer.ID] = time.AfterFunc(wait, func() {
		s.fire(ctx, timer.ID)
	})
	s.unlock()
}

func (s *Scheduler) fire(ctx context.Context, timerID string) {
	s.lock()
	delete(s.timers, timerID)
	s.unlock()

	if err := s.repo.Fire(ctx, timerID); err != nil {
		slog.ErrorContext(ctx, "delayscheduler: fire failed", "timer_id", timerID, "error", err)
	}
}

// CancelExecution deletes executionID's timer rows through the
// repository. In-memory timers are keyed by timer id alone and are not
// stopped here; one that fires later finds its row gone and enqueues
// nothing.
func (s *Scheduler) CancelExecution(ctx context.Context, executionID string) error {
	return s.repo.CancelForExecution(ctx, executionID)
}

func (s *Scheduler) stopAll() {
	s.lock()
	defer s.unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
