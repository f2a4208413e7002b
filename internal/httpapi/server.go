// Package httpapi implements the ingest, webhook, and admin HTTP
// surface (§6): enqueueing executions, resolving human-in-the-loop
// tasks, and basic-auth-protected CRUD/read/cancel operations, mounted
// on a go-chi router with a layered middleware stack.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/swisspipe/engine/internal/adminsvc"
	"github.com/swisspipe/engine/internal/config"
	"github.com/swisspipe/engine/internal/execservice"
	"github.com/swisspipe/engine/internal/hil"
)

// Server wraps the HTTP server, router, and the application services
// handlers call into.
type Server struct {
	httpServer *http.Server
	exec       *execservice.Service
	admin      *adminsvc.Service
	hil        *hil.Service
}

// New builds a Server wired to exec/admin/hil and configured per cfg.
func New(cfg config.HTTPConfig, auth config.AuthConfig, exec *execservice.Service, admin *adminsvc.Service, hilSvc *hil.Service) *Server {
	s := &Server{exec: exec, admin: admin, hil: hilSvc}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(maxBodyBytes(cfg.MaxBodyBytes))
	router.Use(stripDangerousHeaders(cfg.DangerousHeaders))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			slog.ErrorContext(r.Context(), "failed to write health check response", "error", err)
		}
	})

	router.Route("/api/v1", func(r chi.Router) {
		// Ingest and webhook routes are unauthenticated (§1 "narrow
		// contract"): a workflow's own logic is the access boundary.
		r.Route("/{workflow_id}", func(r chi.Router) {
			r.Get("/trigger", s.trigger)
			r.Post("/trigger", s.trigger)
			r.Put("/trigger", s.trigger)
			r.Post("/json_array", s.jsonArray)
		})
		r.Get("/hil/{node_execution_id}/respond", s.hilRespond)

		// Admin surface requires basic auth.
		r.Route("/admin", func(r chi.Router) {
			r.Use(basicAuth(auth))

			r.Route("/workflows", func(r chi.Router) {
				r.Post("/", s.createWorkflow)
				r.Get("/", s.listWorkflows)
				r.Get("/{workflow_id}", s.getWorkflow)
				r.Delete("/{workflow_id}", s.deleteWorkflow)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Post("/", s.createTrigger)
				r.Get("/", s.listTriggers)
				r.Get("/{schedule_id}", s.getTrigger)
				r.Put("/{schedule_id}", s.updateTrigger)
				r.Delete("/{schedule_id}", s.deleteTrigger)
			})

			r.Route("/executions", func(r chi.Router) {
				r.Get("/{execution_id}", s.getExecution)
				r.Get("/{execution_id}/steps", s.listExecutionSteps)
				r.Post("/{execution_id}/cancel", s.cancelExecution)
			})

			r.Get("/pool_stats", s.poolStats)
			r.Get("/dead_letter_jobs", s.listDeadLetterJobs)
		})

		// Cron validation sits at the top level per spec.md's literal
		// path, authenticated the same as the rest of the admin surface.
		r.With(basicAuth(auth)).Post("/schedules/validate", s.validateCron)
	})

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	slog.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying router, for tests that drive requests
// directly via httptest without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
