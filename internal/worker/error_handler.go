package worker

import (
	"context"
	"log/slog"

	"github.com/swisspipe/engine/internal/domain"
)

// ErrorHandler processes job errors and panics for telemetry/alerting,
// independent of the retry decision itself (pattern from River:
// https://riverqueue.com/docs/error-handling — HandleError can influence
// retry behavior, HandlePanic is a logging hook only since panics always
// dead-letter).
type ErrorHandler interface {
	// HandleError is called whenever a job returns an error. Returning
	// &ErrorHandlerResult{SetCancelled: true} forces immediate dead
	// letter regardless of the error's retry classification; returning
	// nil follows the normal classification.
	HandleError(ctx context.Context, job *domain.Job, err error) *ErrorHandlerResult
	// HandlePanic is called when job processing recovers a panic.
	HandlePanic(ctx context.Context, job *domain.Job, panicVal any, stackTrace string) *ErrorHandlerResult
}

// ErrorHandlerResult controls job disposition after HandleError.
type ErrorHandlerResult struct {
	SetCancelled bool
}

// DefaultErrorHandler logs with structured slog fields and otherwise
// defers to the normal retry classification.
type DefaultErrorHandler struct{}

func (h *DefaultErrorHandler) HandleError(ctx context.Context, job *domain.Job, err error) *ErrorHandlerResult {
	slog.ErrorContext(ctx, "job failed",
		slog.String("job_id", job.ID),
		slog.String("execution_id", job.ExecutionID),
		slog.Int("retry_count", job.RetryCount),
		slog.String("error", err.Error()),
		slog.Bool("retryable", IsRetryable(err)),
	)
	return nil
}

func (h *DefaultErrorHandler) HandlePanic(ctx context.Context, job *domain.Job, panicVal any, stackTrace string) *ErrorHandlerResult {
	slog.ErrorContext(ctx, "job panicked",
		slog.String("job_id", job.ID),
		slog.String("execution_id", job.ExecutionID),
		slog.Any("panic_value", panicVal),
		slog.String("stack_trace", stackTrace),
	)
	return nil
}
