// Command swisspiped is the execution-core binary: it owns the HTTP
// ingest/admin surface and every background subsystem (dispatcher,
// worker pool, delay scheduler, cron scheduler, HIL sweep, retention
// cleanup) against a single Postgres database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/swisspipe/engine/internal/adminsvc"
	"github.com/swisspipe/engine/internal/config"
	"github.com/swisspipe/engine/internal/cronscheduler"
	"github.com/swisspipe/engine/internal/delayscheduler"
	"github.com/swisspipe/engine/internal/dispatcher"
	"github.com/swisspipe/engine/internal/execservice"
	"github.com/swisspipe/engine/internal/executor"
	"github.com/swisspipe/engine/internal/hil"
	"github.com/swisspipe/engine/internal/httpapi"
	"github.com/swisspipe/engine/internal/httpclient"
	"github.com/swisspipe/engine/internal/jsengine"
	"github.com/swisspipe/engine/internal/observability"
	"github.com/swisspipe/engine/internal/storage/postgres"
	"github.com/swisspipe/engine/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serviceName := cfg.Observability.ServiceName

	lp, logger, err := observability.InitLogger(ctx, serviceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer shutdownWithTimeout(lp.Shutdown, "logger provider")
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, serviceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer shutdownWithTimeout(tp.Shutdown, "tracer provider")

	mp, err := observability.InitMeterProvider(ctx, serviceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer shutdownWithTimeout(mp.Shutdown, "meter provider")

	slog.InfoContext(ctx, "starting swisspiped")

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	slog.InfoContext(ctx, "storage initialized", "dsn", maskPassword(cfg.Database.DSN))

	sandbox := jsengine.New(cfg.JSEngine.EvalTimeout, cfg.JSEngine.WorkerPoolSize)
	httpClient := httpclient.New(cfg.HTTPClient.MaxRedirects)
	nodeExecutor := executor.New(sandbox, httpClient, cfg.HTTPClient.MaxLoopIterations)

	workerPool := worker.New(worker.Config{
		Count:             cfg.Worker.Count,
		ChannelCapacity:   cfg.Worker.ChannelCapacity,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		RetryPolicy: worker.RetryPolicy{
			MaxRetries: cfg.Worker.MaxRetries,
			BaseDelay:  cfg.Worker.RetryBaseDelay,
			MaxDelay:   cfg.Worker.RetryMaxDelay,
		},
	}, store, nodeExecutor)

	workerIDs := make([]string, cfg.Worker.Count)
	for i := range workerIDs {
		workerIDs[i] = fmt.Sprintf("worker-%d", i)
	}
	jobDispatcher := dispatcher.New(dispatcher.Config{
		PollInterval:        cfg.Dispatcher.PollInterval,
		StaleClaimThreshold: cfg.Dispatcher.StaleClaimThreshold,
	}, store, workerIDs, workerPool.Channels())

	delaySched := delayscheduler.New(delayscheduler.Config{
		StartupJitter: cfg.Delay.StartupJitter,
		SafetyCap:     cfg.Delay.SafetyCap,
	}, store)

	cronSched := cronscheduler.New(cronscheduler.Config{
		StartupJitter: cfg.Cron.StartupJitter,
	}, postgres.CronRepository{Store: store})

	hilSvc := hil.New(hil.Config{
		SweepInterval: cfg.HIL.SweepInterval,
	}, store)

	execSvc := execservice.New(store)
	adminSvc := adminsvc.New(store, cronSched)

	server := httpapi.New(cfg.HTTP, cfg.Auth, execSvc, adminSvc, hilSvc)

	workerPool.Start(ctx)

	var wg sync.WaitGroup
	runBackground := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.ErrorContext(ctx, "background subsystem exited with error", "subsystem", name, "error", err)
			}
		}()
	}

	runBackground("dispatcher", jobDispatcher.Run)
	runBackground("delay_scheduler", delaySched.Run)
	runBackground("cron_scheduler", cronSched.Run)
	runBackground("hil_sweep", hilSvc.Run)
	runBackground("retention_cleanup", func(ctx context.Context) error {
		return runRetentionCleanup(ctx, store, cfg.Retention)
	})

	errResult := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errResult <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "http server shutdown timed out", "error", err)
		}
		wg.Wait()
		workerPool.Wait()
		return nil
	case err := <-errResult:
		return err
	}
}

// runRetentionCleanup periodically prunes completed executions beyond
// the configured retention count, until ctx is cancelled.
func runRetentionCleanup(ctx context.Context, store *postgres.Store, cfg config.RetentionConfig) error {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := store.PruneCompletedExecutions(ctx, cfg.ExecutionRetentionCount)
			if err != nil {
				slog.ErrorContext(ctx, "retention cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "retention cleanup pruned executions", "count", n)
			}
		}
	}
}

// shutdownWithTimeout runs shutdown with a bounded context, logging any
// failure rather than letting a stuck collector hang process exit.
func shutdownWithTimeout(shutdown func(context.Context) error, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to shut down", "component", name, "error", err)
	}
}

// maskPassword redacts a DSN's password before it ever reaches a log line.
func maskPassword(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
