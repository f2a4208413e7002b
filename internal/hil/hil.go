// Package hil implements human-in-the-loop task resolution (§4.4.7,
// §4.7): the timeout sweep that auto-resolves overdue tasks, and the
// idempotent webhook handler that resolves a task from an operator's
// response. Task creation lives in the worker package's node executor;
// this package only resolves tasks already pending.
package hil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/swisspipe/engine/internal/domain"
)

// Repository is the persistence contract the HIL service needs.
type Repository interface {
	// FindPendingByNodeExecutionID looks up a task by its idempotency
	// anchor. Returns domain.ErrHILTaskNotFound if none exists.
	FindPendingByNodeExecutionID(ctx context.Context, nodeExecutionID string) (domain.HILTask, error)

	// ListTimedOut returns every pending task whose TimeoutAt has
	// passed, for the sweep loop.
	ListTimedOut(ctx context.Context, now time.Time) ([]domain.HILTask, error)

	// Resolve atomically: marks the task resolved with decision and
	// responsePayload (only if it is still pending — otherwise returns
	// domain.ErrHILTaskResolved), and enqueues the resumption job
	// carrying the decision as the event's HIL response.
	Resolve(ctx context.Context, taskID string, decision domain.HILDecision, responsePayload any) error
}

// Config tunes the timeout sweep's polling cadence.
type Config struct {
	SweepInterval time.Duration
}

// DefaultConfig mirrors spec.md §4.7's stated defaults.
func DefaultConfig() Config {
	return Config{SweepInterval: 30 * time.Second}
}

// Service resolves HIL tasks, by webhook or by timeout.
type Service struct {
	cfg  Config
	repo Repository
}

// New returns a Service backed by repo.
func New(cfg Config, repo Repository) *Service {
	return &Service{cfg: cfg, repo: repo}
}

// Respond resolves the task identified by nodeExecutionID with the
// operator's decision, idempotently (§4.7 "Webhook resolution").
func (s *Service) Respond(ctx context.Context, nodeExecutionID string, decision domain.HILDecision, responsePayload any) error {
	task, err := s.repo.FindPendingByNodeExecutionID(ctx, nodeExecutionID)
	if err != nil {
		return fmt.Errorf("hil: lookup %s: %w", nodeExecutionID, err)
	}

	if err := s.repo.Resolve(ctx, task.ID, decision, responsePayload); err != nil {
		if errors.Is(err, domain.ErrHILTaskResolved) {
			slog.InfoContext(ctx, "hil: replayed webhook for already-resolved task", "task_id", task.ID)
			return nil
		}
		return fmt.Errorf("hil: resolve %s: %w", task.ID, err)
	}
	return nil
}

// Run polls for timed-out tasks and auto-resolves them with their
// configured TimeoutAction, until ctx is cancelled (§4.7 "Timeout
// sweep").
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	tasks, err := s.repo.ListTimedOut(ctx, time.Now())
	if err != nil {
		slog.ErrorContext(ctx, "hil: sweep list failed", "error", err)
		return
	}

	for _, task := range tasks {
		err := s.repo.Resolve(ctx, task.ID, task.TimeoutAction, nil)
		if err != nil && !errors.Is(err, domain.ErrHILTaskResolved) {
			slog.ErrorContext(ctx, "hil: timeout resolution failed", "task_id", task.ID, "error", err)
			continue
		}
		slog.InfoContext(ctx, "hil: task timed out", "task_id", task.ID, "action", task.TimeoutAction)
	}
}
