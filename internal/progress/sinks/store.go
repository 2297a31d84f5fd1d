package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pip-arch/url-compliance-checker/internal/progress"
	"github.com/pip-arch/url-compliance-checker/internal/store"
)

// StoreSink persists coarse batch status via a store.Repository. Per-host
// outcome deltas are collapsed per flush to reduce write amplification.
type StoreSink struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.Repository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle transitions and collapsed host deltas to the
// repository. It respects ctx deadlines and returns repository errors
// verbatim; the Hub logs them without disturbing the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[hostKey]*hostDelta)

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			if err := s.repo.UpsertBatchStart(ctx, evt.BatchID, evt.TS); err != nil {
				return fmt.Errorf("upsert batch start: %w", err)
			}
		case progress.StageBatchDone, progress.StageBatchAborted, progress.StageBatchError:
			if err := s.completeBatch(ctx, evt); err != nil {
				return err
			}
		case progress.StageItemDone:
			recordDelta(deltas, evt)
		}
	}

	for key, delta := range deltas {
		if err := s.repo.UpsertHostOutcome(ctx, key.batchID, key.host, key.outcome, delta.count, delta.at); err != nil {
			return fmt.Errorf("upsert host outcome: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) completeBatch(ctx context.Context, evt progress.Event) error {
	status := store.RunProcessed
	switch evt.Stage {
	case progress.StageBatchAborted:
		status = store.RunAborted
	case progress.StageBatchError:
		status = store.RunFailed
	}
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	if err := s.repo.CompleteBatch(ctx, evt.BatchID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	return nil
}

func recordDelta(deltas map[hostKey]*hostDelta, evt progress.Event) {
	host := evt.Host
	if host == "" {
		host = "unknown"
	}
	key := hostKey{batchID: evt.BatchID, host: host, outcome: evt.Outcome}
	delta := deltas[key]
	if delta == nil {
		delta = &hostDelta{}
		deltas[key] = delta
	}
	delta.count++
	if evt.TS.After(delta.at) {
		delta.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type hostKey struct {
	batchID string
	host    string
	outcome string
}

type hostDelta struct {
	count int64
	at    time.Time
}
