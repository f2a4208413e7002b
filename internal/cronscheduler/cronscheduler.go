// Package cronscheduler implements the scheduled-trigger engine (§4.6):
// robfig/cron/v3 expression parsing over persisted ScheduledTrigger rows,
// with startup reload and a skip-missed firing policy.
package cronscheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/swisspipe/engine/internal/domain"
)

// parser accepts the standard five-field cron expression, matching
// robfig/cron/v3's conventional construction.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a cron expression and returns the parsed
// schedule, used both by Scheduler and by the admin validate-cron
// endpoint (§4.8).
func ParseSchedule(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Repository is the persistence contract the cron scheduler needs.
type Repository interface {
	// ListEnabled returns every enabled ScheduledTrigger, used to
	// rebuild in-memory timers on startup.
	ListEnabled(ctx context.Context) ([]domain.ScheduledTrigger, error)

	// CreateExecution synthesizes an Event from the trigger's test
	// payload and enqueues a fresh execution starting at TriggerNodeID.
	CreateExecution(ctx context.Context, trigger domain.ScheduledTrigger) error

	// RecordFire persists NextExecutionTime/LastExecutionTime and bumps
	// ExecutionCount (or FailureCount on failure) for one trigger.
	RecordFire(ctx context.Context, triggerID string, next time.Time, firedAt time.Time, ok bool) error
}

// Config tunes startup jitter.
type Config struct {
	StartupJitter time.Duration
}

// DefaultConfig mirrors spec.md §4.6's stated defaults.
func DefaultConfig() Config {
	return Config{StartupJitter: 2 * time.Second}
}

// Scheduler owns the in-memory timers for every enabled ScheduledTrigger.
type Scheduler struct {
	cfg  Config
	repo Repository

	mu     chan struct{}
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

// Run loads every enabled trigger and arms its next firing, then blocks
// until ctx is cancelled (§4.6 "Startup").
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

	triggers, err := s.repo.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("cronscheduler: load triggers: %w", err)
	}

	now := time.Now()
	for _, trig := range triggers {
		s.arm(ctx, trig, now)
	}

	<-ctx.Done()
	s.stopAll()
	return nil
}

// arm schedules trig's next firing. A NextExecutionTime already in the
// past is recomputed from now rather than fired immediately — the
// skip-missed policy (§4.6 "Missed fires").
func (s *Scheduler) arm(ctx context.Context, trig domain.ScheduledTrigger, now time.Time) {
	next := trig.NextExecutionTime
	if !next.After(now) {
		sched, err := ParseSchedule(trig.CronExpression)
		if err != nil {
			slog.ErrorContext(ctx, "cronscheduler: invalid stored expression", "trigger_id", trig.ID, "error", err)
			return
		}
		next = sched.Next(now)
		if err := s.repo.RecordFire(ctx, trig.ID, next, now, true); err != nil {
			slog.ErrorContext(ctx, "cronscheduler: record skip-missed failed", "trigger_id", trig.ID, "error", err)
		}
	}

	wait := next.Sub(now)
	s.lock()
	s.timers[trig.ID] = time.AfterFunc(wait, func() {
		s.fire(ctx, trig)
	})
	s.unlock()
}

func (s *Scheduler) fire(ctx context.Context, trig domain.ScheduledTrigger) {
	s.lock()
	delete(s.timers, trig.ID)
	s.unlock()

	now := time.Now()
	ok := true
	if trig.InWindow(now) {
		if err := s.repo.CreateExecution(ctx, trig); err != nil {
			slog.ErrorContext(ctx, "cronscheduler: create execution failed", "trigger_id", trig.ID, "error", err)
			ok = false
		}
	} else {
		slog.InfoContext(ctx, "cronscheduler: fire outside window, skipping", "trigger_id", trig.ID)
	}

	sched, err := ParseSchedule(trig.CronExpression)
	if err != nil {
		slog.ErrorContext(ctx, "cronscheduler: invalid expression on fire", "trigger_id", trig.ID, "error", err)
		return
	}
	next := sched.Next(now)

	if err := s.repo.RecordFire(ctx, trig.ID, next, now, ok); err != nil {
		slog.ErrorContext(ctx, "cronscheduler: record fire failed", "trigger_id", trig.ID, "error", err)
	}

	s.lock()
	s.timers[trig.ID] = time.AfterFunc(next.Sub(now), func() {
		s.fire(ctx, trig)
	})
	s.unlock()
}

// Reload re-arms a single trigger — called after an admin create/update
// so a new or changed schedule takes effect without a restart.
func (s *Scheduler) Reload(ctx context.Context, trig domain.ScheduledTrigger) {
	s.lock()
	if t, ok := s.timers[trig.ID]; ok {
		t.Stop()
		delete(s.timers, trig.ID)
	}
	s.unlock()
	if trig.Enabled {
		s.arm(ctx, trig, time.Now())
	}
}

// Cancel disarms a trigger — called after an admin delete/disable.
func (s *Scheduler) Cancel(triggerID string) {
	s.lock()
	defer s.unlock()
	if t, ok := s.timers[triggerID]; ok {
		t.Stop()
		delete(s.timers, triggerID)
	}
}

// PreviewNext returns the next n firings of expr after from, for the
// admin cron-preview endpoint (§4.8) — computed without touching
// persisted state.
func PreviewNext(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		out = append(out, t)
	}
	return out, nil
}

func (s *Scheduler) stopAll() {
	s.lock()
	defer s.unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
