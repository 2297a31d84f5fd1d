// Package store defines the repository contracts for coarse batch status
// persistence. Writes through these interfaces are best-effort from the
// engine's point of view: failures are logged, never fatal to a batch.
package store

import (
	"context"
	"errors"
	"time"
)

// BatchRunStatus is the coarse lifecycle state persisted for a batch.
type BatchRunStatus string

// Batch run status values.
const (
	RunPending    BatchRunStatus = "pending"
	RunProcessing BatchRunStatus = "processing"
	RunProcessed  BatchRunStatus = "processed"
	RunFailed     BatchRunStatus = "failed"
	RunAborted    BatchRunStatus = "aborted"
)

// ErrNotFound is returned when a batch run is unknown to the repository.
var ErrNotFound = errors.New("batch run not found")

// BatchRun is the persisted record for one batch run.
type BatchRun struct {
	BatchID    string
	Status     BatchRunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Note       *string
}

// HostStats aggregates per-host item outcomes for a batch.
type HostStats struct {
	BatchID    string
	Host       string
	Succeeded  int64
	Failed     int64
	Skipped    int64
	Filtered   int64
	LastUpdate time.Time
}

// Repository persists coarse batch state and per-host outcome counters.
type Repository interface {
	UpsertBatchStart(ctx context.Context, batchID string, at time.Time) error
	CompleteBatch(ctx context.Context, batchID string, at time.Time, status BatchRunStatus, note *string) error
	UpsertHostOutcome(ctx context.Context, batchID, host, outcome string, delta int64, at time.Time) error
	GetBatch(ctx context.Context, batchID string) (BatchRun, error)
}
