// Package progress defines the lifecycle events emitted by a batch run and
// the Hub that fans them out to sinks without blocking the coordinator.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageBatchStart   Stage = "BATCH_START"
	StageChunkDone    Stage = "CHUNK_DONE"
	StageItemDone     Stage = "ITEM_DONE"
	StageHostBlocked  Stage = "HOST_BLOCKED"
	StageBatchDone    Stage = "BATCH_DONE"
	StageBatchAborted Stage = "BATCH_ABORTED"
	StageBatchError   Stage = "BATCH_ERROR"
)

// Event captures a single milestone of batch progress. Outcome is carried as
// a plain string so sinks stay decoupled from the engine's types.
type Event struct {
	// BatchID identifies the batch run.
	BatchID string `json:"batch_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`
	// Host scopes item and host-blocked events to a target host.
	Host string `json:"host,omitempty"`
	// URL is the item URL for item events.
	URL string `json:"url,omitempty"`
	// Outcome is the item result tag (succeeded, failed, skipped, filtered).
	Outcome string `json:"outcome,omitempty"`
	// FilterReason carries the filter code for filtered items.
	FilterReason string `json:"filter_reason,omitempty"`
	// ChunkSize is the work-unit size for chunk events.
	ChunkSize int `json:"chunk_size,omitempty"`
	// Items and Failures summarize a completed chunk.
	Items    int `json:"items,omitempty"`
	Failures int `json:"failures,omitempty"`
	// CPUPct and MemPct snapshot utilization at a chunk boundary.
	CPUPct float64 `json:"cpu_pct,omitempty"`
	MemPct float64 `json:"mem_pct,omitempty"`
	// Dur captures item latency or total batch runtime.
	Dur time.Duration `json:"dur,omitempty"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == "" {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageChunkDone, StageBatchDone, StageBatchAborted, StageBatchError:
	case StageItemDone:
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	case StageHostBlocked:
		if e.Host == "" {
			return errors.New("host blocked requires host")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a batch run.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageBatchDone, StageBatchAborted, StageBatchError:
		return true
	}
	return false
}
