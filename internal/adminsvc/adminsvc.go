// Package adminsvc implements the admin CRUD surface (§4.8, §6): create
// and inspect workflows, create and inspect scheduled triggers, and
// validate a cron expression ahead of saving it. It keeps the
// cronscheduler's in-memory timers synchronized with persisted trigger
// rows so an admin change takes effect without a process restart.
package adminsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/swisspipe/engine/internal/cronscheduler"
	"github.com/swisspipe/engine/internal/domain"
)

// Repository is the persistence contract the admin service needs.
type Repository interface {
	CreateWorkflow(ctx context.Context, wf domain.Workflow) (string, error)
	LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context) ([]domain.Workflow, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error

	CreateScheduledTrigger(ctx context.Context, t domain.ScheduledTrigger) (string, error)
	GetScheduledTrigger(ctx context.Context, triggerID string) (domain.ScheduledTrigger, error)
	ListScheduledTriggers(ctx context.Context) ([]domain.ScheduledTrigger, error)
	UpdateScheduledTrigger(ctx context.Context, t domain.ScheduledTrigger) error
	DeleteScheduledTrigger(ctx context.Context, triggerID string) error

	ListDeadLetterJobs(ctx context.Context) ([]domain.DeadLetterJob, error)
}

// Service implements the admin CRUD operations.
type Service struct {
	repo  Repository
	sched *cronscheduler.Scheduler
}

// New returns a Service backed by repo, reloading sched's in-memory
// timers on every trigger create/update/delete.
func New(repo Repository, sched *cronscheduler.Scheduler) *Service {
	return &Service{repo: repo, sched: sched}
}

// CreateWorkflow persists wf as given. The DAG is not checked here:
// cycles, dangling edges and a missing start node are not rejected, and
// the executor's construction checks cover only unknown node kinds and
// missing node config.
func (s *Service) CreateWorkflow(ctx context.Context, wf domain.Workflow) (string, error) {
	id, err := s.repo.CreateWorkflow(ctx, wf)
	if err != nil {
		return "", fmt.Errorf("adminsvc: create workflow: %w", err)
	}
	return id, nil
}

// GetWorkflow returns one workflow's full DAG definition.
func (s *Service) GetWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	wf, err := s.repo.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("adminsvc: load workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows returns every workflow's summary fields.
func (s *Service) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	wfs, err := s.repo.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("adminsvc: list workflows: %w", err)
	}
	return wfs, nil
}

// DeleteWorkflow removes a workflow definition.
func (s *Service) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if err := s.repo.DeleteWorkflow(ctx, workflowID); err != nil {
		return fmt.Errorf("adminsvc: delete workflow: %w", err)
	}
	return nil
}

// ValidateCron parses expr and returns the next n firing times after
// from, without persisting anything (§6 "Cron validation").
func (s *Service) ValidateCron(expr string, from time.Time, n int) ([]time.Time, error) {
	next, err := cronscheduler.PreviewNext(expr, from, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCronExpr, err)
	}
	return next, nil
}

// CreateScheduledTrigger validates trig's cron expression, computes its
// first firing, persists it, and arms the in-memory timer.
func (s *Service) CreateScheduledTrigger(ctx context.Context, trig domain.ScheduledTrigger) (string, error) {
	sched, err := cronscheduler.ParseSchedule(trig.CronExpression)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidCronExpr, err)
	}
	trig.NextExecutionTime = sched.Next(time.Now())

	id, err := s.repo.CreateScheduledTrigger(ctx, trig)
	if err != nil {
		return "", fmt.Errorf("adminsvc: create scheduled trigger: %w", err)
	}
	trig.ID = id
	if s.sched != nil {
		s.sched.Reload(ctx, trig)
	}
	return id, nil
}

// GetScheduledTrigger returns one trigger by id.
func (s *Service) GetScheduledTrigger(ctx context.Context, triggerID string) (domain.ScheduledTrigger, error) {
	trig, err := s.repo.GetScheduledTrigger(ctx, triggerID)
	if err != nil {
		return domain.ScheduledTrigger{}, fmt.Errorf("adminsvc: load scheduled trigger: %w", err)
	}
	return trig, nil
}

// ListScheduledTriggers returns every trigger.
func (s *Service) ListScheduledTriggers(ctx context.Context) ([]domain.ScheduledTrigger, error) {
	trigs, err := s.repo.ListScheduledTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("adminsvc: list scheduled triggers: %w", err)
	}
	return trigs, nil
}

// UpdateScheduledTrigger overwrites trig's mutable fields, recomputes
// NextExecutionTime, and re-arms the in-memory timer.
func (s *Service) UpdateScheduledTrigger(ctx context.Context, trig domain.ScheduledTrigger) error {
	sched, err := cronscheduler.ParseSchedule(trig.CronExpression)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidCronExpr, err)
	}
	trig.NextExecutionTime = sched.Next(time.Now())

	if err := s.repo.UpdateScheduledTrigger(ctx, trig); err != nil {
		return fmt.Errorf("adminsvc: update scheduled trigger: %w", err)
	}
	if s.sched != nil {
		s.sched.Reload(ctx, trig)
	}
	return nil
}

// DeleteScheduledTrigger removes a trigger and disarms its timer.
func (s *Service) DeleteScheduledTrigger(ctx context.Context, triggerID string) error {
	if err := s.repo.DeleteScheduledTrigger(ctx, triggerID); err != nil {
		return fmt.Errorf("adminsvc: delete scheduled trigger: %w", err)
	}
	if s.sched != nil {
		s.sched.Cancel(triggerID)
	}
	return nil
}

// ListDeadLetterJobs returns every unresolved dead-letter entry.
func (s *Service) ListDeadLetterJobs(ctx context.Context) ([]domain.DeadLetterJob, error) {
	jobs, err := s.repo.ListDeadLetterJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("adminsvc: list dead letter jobs: %w", err)
	}
	return jobs, nil
}
