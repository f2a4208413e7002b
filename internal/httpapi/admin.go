package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/swisspipe/engine/internal/domain"
	"github.com/swisspipe/engine/internal/http/response"
)

// createWorkflow handles POST /api/v1/admin/workflows.
func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf domain.Workflow
	if err := decodeJSONBody(r, &wf); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	id, err := s.admin.CreateWorkflow(r.Context(), wf)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, map[string]string{"id": id})
}

// getWorkflow handles GET /api/v1/admin/workflows/{workflow_id}.
func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.admin.GetWorkflow(r.Context(), chi.URLParam(r, "workflow_id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, wf)
}

// listWorkflows handles GET /api/v1/admin/workflows.
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.admin.ListWorkflows(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, wfs)
}

// deleteWorkflow handles DELETE /api/v1/admin/workflows/{workflow_id}.
func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.DeleteWorkflow(r.Context(), chi.URLParam(r, "workflow_id")); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

// createTrigger handles POST /api/v1/admin/schedules.
func (s *Server) createTrigger(w http.ResponseWriter, r *http.Request) {
	var trig domain.ScheduledTrigger
	if err := decodeJSONBody(r, &trig); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	id, err := s.admin.CreateScheduledTrigger(r.Context(), trig)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, map[string]string{"id": id})
}

// getTrigger handles GET /api/v1/admin/schedules/{schedule_id}.
func (s *Server) getTrigger(w http.ResponseWriter, r *http.Request) {
	trig, err := s.admin.GetScheduledTrigger(r.Context(), chi.URLParam(r, "schedule_id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, trig)
}

// listTriggers handles GET /api/v1/admin/schedules.
func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	trigs, err := s.admin.ListScheduledTriggers(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, trigs)
}

// updateTrigger handles PUT /api/v1/admin/schedules/{schedule_id}.
func (s *Server) updateTrigger(w http.ResponseWriter, r *http.Request) {
	var trig domain.ScheduledTrigger
	if err := decodeJSONBody(r, &trig); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	trig.ID = chi.URLParam(r, "schedule_id")
	if err := s.admin.UpdateScheduledTrigger(r.Context(), trig); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, trig)
}

// deleteTrigger handles DELETE /api/v1/admin/schedules/{schedule_id}.
func (s *Server) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.DeleteScheduledTrigger(r.Context(), chi.URLParam(r, "schedule_id")); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

// validateCronRequest/Response implement §6's cron validation contract.
type validateCronRequest struct {
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
}

type validateCronResponse struct {
	Valid          bool     `json:"valid"`
	NextExecutions []string `json:"next_executions"`
	Error          string   `json:"error,omitempty"`
}

// validateCron handles POST /api/v1/schedules/validate.
func (s *Server) validateCron(w http.ResponseWriter, r *http.Request) {
	var req validateCronRequest
	if err := decodeJSONBody(r, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	loc := time.UTC
	if req.Timezone != "" {
		l, err := time.LoadLocation(req.Timezone)
		if err != nil {
			response.OK(w, validateCronResponse{Valid: false, Error: "unknown timezone: " + req.Timezone})
			return
		}
		loc = l
	}

	next, err := s.admin.ValidateCron(req.CronExpression, time.Now().In(loc), 5)
	if err != nil {
		response.OK(w, validateCronResponse{Valid: false, Error: err.Error()})
		return
	}

	formatted := make([]string, len(next))
	for i, t := range next {
		formatted[i] = t.Format(time.RFC3339)
	}
	response.OK(w, validateCronResponse{Valid: true, NextExecutions: formatted})
}

// getExecution handles GET /api/v1/admin/executions/{execution_id}.
func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.exec.GetExecution(r.Context(), chi.URLParam(r, "execution_id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, exec)
}

// listExecutionSteps handles GET /api/v1/admin/executions/{execution_id}/steps.
func (s *Server) listExecutionSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.exec.GetExecutionSteps(r.Context(), chi.URLParam(r, "execution_id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, steps)
}

// cancelExecution handles POST /api/v1/admin/executions/{execution_id}/cancel.
func (s *Server) cancelExecution(w http.ResponseWriter, r *http.Request) {
	if err := s.exec.CancelExecution(r.Context(), chi.URLParam(r, "execution_id")); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"status": "cancelled"})
}

// poolStats handles GET /api/v1/admin/pool_stats.
func (s *Server) poolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.exec.GetPoolStats(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, stats)
}

// listDeadLetterJobs handles GET /api/v1/admin/dead_letter_jobs.
func (s *Server) listDeadLetterJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.admin.ListDeadLetterJobs(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, jobs)
}
