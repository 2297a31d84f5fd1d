package batch

import (
	"context"
	"errors"
)

// Processor is the external fetch-and-analyze collaborator. Implementations
// may block for the full duration of a fetch; a returned error is folded into
// the batch as a failed item, never an aborted chunk.
type Processor interface {
	Process(ctx context.Context, item WorkItem) (WorkResult, error)
}

// ErrCheckpointNotFound is returned by CheckpointStore.Load when no progress
// record exists for the batch.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointStore durably persists batch progress so interrupted runs can
// resume. Saves must be atomic: a reader never observes a half-written
// snapshot.
type CheckpointStore interface {
	Save(ctx context.Context, batchID string, snap ProgressSnapshot) error
	Load(ctx context.Context, batchID string) (ProgressSnapshot, error)
	Exists(ctx context.Context, batchID string) (bool, error)
}
