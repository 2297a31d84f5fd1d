package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pip-arch/url-compliance-checker/internal/admission"
	"github.com/pip-arch/url-compliance-checker/internal/breaker"
	"github.com/pip-arch/url-compliance-checker/internal/monitor"
	"github.com/pip-arch/url-compliance-checker/internal/progress"
)

// CoordinatorConfig governs chunk sizing and adaptation.
type CoordinatorConfig struct {
	// ChunkSize is the initial work-unit size.
	ChunkSize int
	// ChunkMin and ChunkMax clamp the adaptive size.
	ChunkMin int
	ChunkMax int
	// ShrinkFactor scales the chunk down under resource pressure.
	ShrinkFactor float64
	// GrowFactor scales the chunk up when resources are idle and the chunk
	// failure rate stays below FailureTolerance.
	GrowFactor       float64
	FailureTolerance float64
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	if c.ChunkMin <= 0 {
		c.ChunkMin = 1
	}
	if c.ChunkMax <= 0 {
		c.ChunkMax = 50
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		c.ShrinkFactor = 0.5
	}
	if c.GrowFactor <= 1 {
		c.GrowFactor = 1.5
	}
	if c.FailureTolerance <= 0 {
		c.FailureTolerance = 0.1
	}
}

// Coordinator orchestrates a batch run: it splits URLs into adaptive chunks,
// dispatches items through admission control and the circuit breaker to the
// Processor, aggregates WorkResults as the single writer of BatchProgress,
// and checkpoints after every chunk.
type Coordinator struct {
	cfg         CoordinatorConfig
	processor   Processor
	admitter    *admission.Controller
	circuit     *breaker.Breaker
	resources   *monitor.Monitor
	checkpoints CheckpointStore
	emitter     progress.Emitter
	logger      *zap.Logger
	now         func() time.Time
}

// NewCoordinator wires a Coordinator. processor, admitter, circuit, resources
// and checkpoints are required; emitter may be nil to disable progress events.
func NewCoordinator(
	cfg CoordinatorConfig,
	processor Processor,
	admitter *admission.Controller,
	circuit *breaker.Breaker,
	resources *monitor.Monitor,
	checkpoints CheckpointStore,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Coordinator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	return &Coordinator{
		cfg:         cfg,
		processor:   processor,
		admitter:    admitter,
		circuit:     circuit,
		resources:   resources,
		checkpoints: checkpoints,
		emitter:     emitter,
		logger:      logger,
		now:         time.Now,
	}
}

// ProcessBatch runs the batch to completion, abort, or cancellation. It
// always returns a well-formed BatchProgress; a resource abort is reported in
// the progress record with a nil error, while context cancellation returns
// the partial progress together with the context error.
func (c *Coordinator) ProcessBatch(ctx context.Context, batchID string, urls []string) (*BatchProgress, error) {
	prog, remaining, err := c.restore(ctx, batchID, urls)
	if err != nil {
		return nil, err
	}
	c.logger.Info("batch started",
		zap.String("batch_id", batchID),
		zap.Int("total", len(urls)),
		zap.Int("remaining", len(remaining)),
	)
	c.emit(progress.Event{BatchID: batchID, Stage: progress.StageBatchStart})

	size := clampChunk(c.cfg.ChunkSize, c.cfg.ChunkMin, c.cfg.ChunkMax)
	var runErr error

	for len(remaining) > 0 {
		if ctx.Err() != nil {
			prog.Aborted = true
			runErr = ctx.Err()
			break
		}
		if _, err := c.resources.Sample(ctx); err != nil {
			c.logger.Warn("resource sample failed", zap.Error(err))
		}
		if c.resources.ShouldAbort() {
			prog.Aborted = true
			c.logger.Warn("resource ceiling exceeded, aborting batch",
				zap.String("batch_id", batchID),
			)
			break
		}

		n := min(size, len(remaining))
		chunk := remaining[:n]
		remaining = remaining[n:]

		failures := 0
		for _, res := range c.dispatch(ctx, chunk) {
			if res.Outcome == OutcomeFailed {
				failures++
			}
			prog.Apply(res)
			c.emit(progress.Event{
				BatchID:      batchID,
				Stage:        progress.StageItemDone,
				Host:         res.Host,
				Outcome:      string(res.Outcome),
				FilterReason: res.FilterReason,
				Dur:          res.Duration,
			})
		}

		sample, err := c.resources.Sample(ctx)
		if err != nil {
			c.logger.Warn("resource sample failed", zap.Error(err))
		} else {
			prog.ObserveResources(sample.TS, sample.CPUPct, sample.MemPct, size)
		}
		c.emit(progress.Event{
			BatchID:   batchID,
			Stage:     progress.StageChunkDone,
			ChunkSize: size,
			Items:     len(chunk),
			Failures:  failures,
			CPUPct:    sample.CPUPct,
			MemPct:    sample.MemPct,
		})
		c.save(ctx, prog)

		size = c.nextChunkSize(size, float64(failures)/float64(len(chunk)))
		c.resources.ReclaimIfNeeded(len(chunk))
	}

	prog.Finalize(c.now())
	c.save(ctx, prog)
	c.finishEvents(prog, runErr)
	return prog, runErr
}

// restore rebuilds progress from a checkpoint if one exists and drops URLs
// whose identifiers are already in the completed set. Item identifiers are
// derived from positions in the original list, so calling twice with the same
// batch ID and URL list never reprocesses completed items.
func (c *Coordinator) restore(ctx context.Context, batchID string, urls []string) (*BatchProgress, []WorkItem, error) {
	items := make([]WorkItem, 0, len(urls))
	for i, u := range urls {
		items = append(items, NewWorkItem(batchID, i, u))
	}

	snap, err := c.checkpoints.Load(ctx, batchID)
	if errors.Is(err, ErrCheckpointNotFound) {
		return NewBatchProgress(batchID, len(urls), c.now()), items, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load checkpoint for %s: %w", batchID, err)
	}

	prog := FromSnapshot(snap)
	if prog.TotalItems != len(urls) {
		c.logger.Warn("checkpoint item count differs from input",
			zap.String("batch_id", batchID),
			zap.Int("checkpoint_total", prog.TotalItems),
			zap.Int("input_total", len(urls)),
		)
	}
	prog.TotalItems = len(urls)
	prog.FinishedAt = time.Time{}
	prog.Aborted = false

	remaining := items[:0]
	for _, item := range items {
		if !prog.IsCompleted(item.ID) {
			remaining = append(remaining, item)
		}
	}
	c.logger.Info("resuming batch from checkpoint",
		zap.String("batch_id", batchID),
		zap.Int("already_completed", prog.CompletedCount()),
	)
	return prog, remaining, nil
}

// dispatch processes one chunk concurrently. Admission control bounds the
// real parallelism; the goroutine-per-item fan-out just queues the work.
func (c *Coordinator) dispatch(ctx context.Context, chunk []WorkItem) []WorkResult {
	results := make(chan WorkResult, len(chunk))
	var wg sync.WaitGroup
	for _, item := range chunk {
		wg.Add(1)
		go func(it WorkItem) {
			defer wg.Done()
			results <- c.processItem(ctx, it)
		}(item)
	}
	wg.Wait()
	close(results)

	out := make([]WorkResult, 0, len(chunk))
	for res := range results {
		out = append(out, res)
	}
	return out
}

// processItem runs one item through the circuit breaker, admission control,
// and the Processor. Every failure mode folds into a WorkResult; nothing here
// aborts the chunk.
func (c *Coordinator) processItem(ctx context.Context, item WorkItem) WorkResult {
	started := c.now()

	host, err := HostOf(item.URL)
	if err != nil {
		return WorkResult{ItemID: item.ID, Outcome: OutcomeFailed, FailureReason: err.Error()}
	}
	if !c.circuit.Admit(host) {
		return WorkResult{
			ItemID:        item.ID,
			Host:          host,
			Outcome:       OutcomeSkipped,
			FailureReason: fmt.Sprintf("circuit open for %s", host),
			Duration:      c.now().Sub(started),
		}
	}

	permit, err := c.admitter.Admit(ctx, host)
	if err != nil {
		return WorkResult{
			ItemID:        item.ID,
			Host:          host,
			Outcome:       OutcomeFailed,
			FailureReason: err.Error(),
			Duration:      c.now().Sub(started),
		}
	}
	defer permit.Release()

	res, err := c.processor.Process(ctx, item)
	if err != nil {
		res = WorkResult{Outcome: OutcomeFailed, FailureReason: err.Error()}
	}
	res.ItemID = item.ID
	if res.Host == "" {
		res.Host = host
	}
	if res.Duration == 0 {
		res.Duration = c.now().Sub(started)
	}

	if res.Succeeded() {
		c.circuit.RecordSuccess(host)
	} else if opened := c.circuit.RecordFailure(host); opened {
		c.logger.Warn("host circuit opened",
			zap.String("host", host),
			zap.String("batch_id", item.BatchID),
		)
		c.emit(progress.Event{BatchID: item.BatchID, Stage: progress.StageHostBlocked, Host: host})
	}
	return res
}

// nextChunkSize adapts the work-unit size from the monitor's rolling averages
// and the chunk's observed failure rate, clamped to [ChunkMin, ChunkMax].
func (c *Coordinator) nextChunkSize(cur int, failureRate float64) int {
	next := cur
	switch {
	case c.resources.ShouldThrottle():
		next = int(math.Floor(float64(cur) * c.cfg.ShrinkFactor))
	case c.resources.UnderLowWater() && failureRate < c.cfg.FailureTolerance:
		next = int(math.Ceil(float64(cur) * c.cfg.GrowFactor))
	}
	next = clampChunk(next, c.cfg.ChunkMin, c.cfg.ChunkMax)
	if next != cur {
		c.logger.Debug("chunk size adapted",
			zap.Int("from", cur),
			zap.Int("to", next),
			zap.Float64("failure_rate", failureRate),
		)
	}
	return next
}

// save writes a checkpoint; failures are logged and retried at the next chunk
// boundary rather than failing the batch.
func (c *Coordinator) save(ctx context.Context, prog *BatchProgress) {
	if err := c.checkpoints.Save(ctx, prog.BatchID, prog.Snapshot()); err != nil {
		c.logger.Warn("checkpoint write failed, will retry at next boundary",
			zap.String("batch_id", prog.BatchID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) finishEvents(prog *BatchProgress, runErr error) {
	runtime := prog.FinishedAt.Sub(prog.StartedAt)
	switch {
	case prog.Aborted && runErr != nil:
		c.emit(progress.Event{
			BatchID: prog.BatchID,
			Stage:   progress.StageBatchError,
			Dur:     runtime,
			Note:    runErr.Error(),
		})
	case prog.Aborted:
		c.emit(progress.Event{
			BatchID: prog.BatchID,
			Stage:   progress.StageBatchAborted,
			Dur:     runtime,
			Note:    "resource ceiling exceeded",
		})
	default:
		c.emit(progress.Event{BatchID: prog.BatchID, Stage: progress.StageBatchDone, Dur: runtime})
	}
	c.logger.Info("batch finished",
		zap.String("batch_id", prog.BatchID),
		zap.Int("processed", prog.Processed),
		zap.Int("succeeded", prog.Succeeded),
		zap.Int("failed", prog.Failed),
		zap.Int("skipped", prog.Skipped),
		zap.Int("filtered", prog.Filtered),
		zap.Bool("aborted", prog.Aborted),
		zap.Float64("items_per_second", prog.ItemsPerSecond),
	)
}

func (c *Coordinator) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = c.now().UTC()
	}
	c.emitter.Emit(evt)
}

func clampChunk(size, lo, hi int) int {
	if size < lo {
		return lo
	}
	if size > hi {
		return hi
	}
	return size
}
