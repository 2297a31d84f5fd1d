// Package sinks provides Sink implementations fed by the progress Hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pip-arch/url-compliance-checker/internal/progress"
)

// LogSink emits structured logs for progress streams. Useful in development
// and audits where no durable store is wired.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("batch_id", evt.BatchID),
			zap.String("stage", string(evt.Stage)),
			zap.String("host", evt.Host),
			zap.String("outcome", evt.Outcome),
			zap.Int("chunk_size", evt.ChunkSize),
			zap.Float64("cpu_pct", evt.CPUPct),
			zap.Float64("mem_pct", evt.MemPct),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
