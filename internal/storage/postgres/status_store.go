// Package postgres provides the Postgres-backed batch status repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pip-arch/url-compliance-checker/internal/store"
)

// DB is the subset of pgxpool.Pool the store needs. Narrowed so pgxmock can
// stand in during tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StatusStore implements store.Repository on Postgres.
//
// Expected schema:
//
//	CREATE TABLE batch_runs (
//	    batch_id    TEXT PRIMARY KEY,
//	    status      TEXT NOT NULL,
//	    started_at  TIMESTAMPTZ NOT NULL,
//	    finished_at TIMESTAMPTZ,
//	    note        TEXT
//	);
//	CREATE TABLE batch_host_stats (
//	    batch_id    TEXT NOT NULL,
//	    host        TEXT NOT NULL,
//	    succeeded   BIGINT NOT NULL DEFAULT 0,
//	    failed      BIGINT NOT NULL DEFAULT 0,
//	    skipped     BIGINT NOT NULL DEFAULT 0,
//	    filtered    BIGINT NOT NULL DEFAULT 0,
//	    last_update TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (batch_id, host)
//	);
type StatusStore struct {
	db DB
}

// NewStatusStore wraps an existing DB handle.
func NewStatusStore(db DB) *StatusStore {
	return &StatusStore{db: db}
}

// Connect creates a pgx pool for dsn and returns a store backed by it.
func Connect(ctx context.Context, dsn string) (*StatusStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewStatusStore(pool), pool, nil
}

// UpsertBatchStart marks a batch as processing, inserting it on first sight.
func (s *StatusStore) UpsertBatchStart(ctx context.Context, batchID string, at time.Time) error {
	query := `
		INSERT INTO batch_runs (batch_id, status, started_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (batch_id) DO UPDATE
		SET status = EXCLUDED.status;
	`
	if _, err := s.db.Exec(ctx, query, batchID, store.RunProcessing, at); err != nil {
		return fmt.Errorf("upsert batch start: %w", err)
	}
	return nil
}

// CompleteBatch records the terminal status for a batch run.
func (s *StatusStore) CompleteBatch(
	ctx context.Context,
	batchID string,
	at time.Time,
	status store.BatchRunStatus,
	note *string,
) error {
	query := `
		UPDATE batch_runs
		SET status = $1, finished_at = $2, note = $3
		WHERE batch_id = $4;
	`
	if _, err := s.db.Exec(ctx, query, status, at, note, batchID); err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	return nil
}

// UpsertHostOutcome adds delta to the per-host counter for outcome.
func (s *StatusStore) UpsertHostOutcome(
	ctx context.Context,
	batchID, host, outcome string,
	delta int64,
	at time.Time,
) error {
	var column string
	switch outcome {
	case "succeeded":
		column = "succeeded"
	case "failed":
		column = "failed"
	case "skipped":
		column = "skipped"
	case "filtered":
		column = "filtered"
	default:
		return fmt.Errorf("unknown outcome: %s", outcome)
	}
	query := fmt.Sprintf(`
		INSERT INTO batch_host_stats (batch_id, host, %[1]s, last_update)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (batch_id, host) DO UPDATE
		SET %[1]s = batch_host_stats.%[1]s + EXCLUDED.%[1]s,
		    last_update = EXCLUDED.last_update;
	`, column)
	if _, err := s.db.Exec(ctx, query, batchID, host, delta, at); err != nil {
		return fmt.Errorf("upsert host outcome: %w", err)
	}
	return nil
}

// GetBatch retrieves a single batch run.
func (s *StatusStore) GetBatch(ctx context.Context, batchID string) (store.BatchRun, error) {
	query := `
		SELECT batch_id, status, started_at, finished_at, note
		FROM batch_runs
		WHERE batch_id = $1;
	`
	var run store.BatchRun
	err := s.db.QueryRow(ctx, query, batchID).Scan(
		&run.BatchID,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Note,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.BatchRun{}, store.ErrNotFound
		}
		return store.BatchRun{}, fmt.Errorf("get batch run: %w", err)
	}
	return run, nil
}
