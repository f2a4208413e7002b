package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swisspipe/engine/internal/cronscheduler"
	"github.com/swisspipe/engine/internal/delayscheduler"
	"github.com/swisspipe/engine/internal/dispatcher"
	"github.com/swisspipe/engine/internal/execservice"
	"github.com/swisspipe/engine/internal/hil"
	"github.com/swisspipe/engine/internal/merge"
	"github.com/swisspipe/engine/internal/worker"
)

// querier is the subset of *pgxpool.Pool and pgx.Tx that every Store
// query method needs, letting the same query code run either directly
// against the pool or inside a transaction started by Atomic.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements every repository interface the execution core
// defines, against a single PostgreSQL schema.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

var (
	_ dispatcher.Repository     = (*Store)(nil)
	_ worker.Repository         = (*Store)(nil)
	_ merge.Repository          = (*Store)(nil)
	_ delayscheduler.Repository = (*Store)(nil)
	_ cronscheduler.Repository  = CronRepository{}
	_ hil.Repository            = (*Store)(nil)
	_ execservice.Repository    = (*Store)(nil)
)

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// finalizeTx rolls back on error, commits on success.
func finalizeTx(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.ErrorContext(ctx, "rollback failed", "original_error", *err, "rollback_error", rbErr)
			*err = fmt.Errorf("transaction failed: %w (rollback error: %v)", *err, rbErr)
		}
		return
	}
	*err = tx.Commit(ctx)
	if *err != nil {
		slog.ErrorContext(ctx, "transaction commit failed", "error", *err)
	}
}

// atomic runs fn against a dedicated transaction-scoped Store, committing
// on nil error and rolling back otherwise.
func (s *Store) atomic(ctx context.Context, operation string, fn func(txStore *Store) error) (err error) {
	start := time.Now().UTC()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.ErrorContext(ctx, "rollback after panic failed", "operation", operation, "panic", p, "rollback_error", rbErr)
			}
			panic(p)
		}
		finalizeTx(ctx, tx, &err)
		if err == nil {
			slog.DebugContext(ctx, "transaction completed", "operation", operation, "duration_ms", time.Since(start).Milliseconds())
		}
	}()

	err = fn(&Store{pool: s.pool, db: tx})
	return
}
