package batch

import (
	"sort"
	"time"
)

// ResourceCheckpoint records host resource usage observed at a chunk boundary.
type ResourceCheckpoint struct {
	TS        time.Time `json:"ts"`
	CPUPct    float64   `json:"cpu_pct"`
	MemPct    float64   `json:"mem_pct"`
	ChunkSize int       `json:"chunk_size"`
}

// BatchProgress aggregates the outcome of a batch run. It is owned by the
// Coordinator: all mutation happens on the coordinator's aggregation path, so
// no internal locking is needed.
type BatchProgress struct {
	BatchID    string
	TotalItems int

	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Filtered  int

	FilterReasons map[string]int

	StartedAt  time.Time
	FinishedAt time.Time
	Aborted    bool

	PeakCPUPct     float64
	PeakMemPct     float64
	ResourceLog    []ResourceCheckpoint
	ItemsPerSecond float64

	completed map[string]struct{}
}

// NewBatchProgress creates an empty progress record for a fresh batch run.
func NewBatchProgress(batchID string, totalItems int, startedAt time.Time) *BatchProgress {
	return &BatchProgress{
		BatchID:       batchID,
		TotalItems:    totalItems,
		FilterReasons: make(map[string]int),
		StartedAt:     startedAt,
		completed:     make(map[string]struct{}),
	}
}

// Apply folds a WorkResult into the counters. Duplicate item IDs are ignored,
// which makes replaying a chunk after a crash a safe no-op and keeps the
// invariant processed == succeeded + failed + skipped + filtered.
func (p *BatchProgress) Apply(res WorkResult) {
	if _, done := p.completed[res.ItemID]; done {
		return
	}
	p.completed[res.ItemID] = struct{}{}
	p.Processed++
	switch res.Outcome {
	case OutcomeSucceeded:
		p.Succeeded++
	case OutcomeFailed:
		p.Failed++
	case OutcomeSkipped:
		p.Skipped++
	case OutcomeFiltered:
		p.Filtered++
		if res.FilterReason != "" {
			p.FilterReasons[res.FilterReason]++
		}
	}
}

// IsCompleted reports whether the item has already been processed, in this
// run or in a prior run restored from a checkpoint.
func (p *BatchProgress) IsCompleted(itemID string) bool {
	_, ok := p.completed[itemID]
	return ok
}

// CompletedCount returns the size of the completed-identifier set.
func (p *BatchProgress) CompletedCount() int {
	return len(p.completed)
}

// ObserveResources appends a resource checkpoint and updates peaks.
func (p *BatchProgress) ObserveResources(ts time.Time, cpuPct, memPct float64, chunkSize int) {
	p.ResourceLog = append(p.ResourceLog, ResourceCheckpoint{
		TS:        ts,
		CPUPct:    cpuPct,
		MemPct:    memPct,
		ChunkSize: chunkSize,
	})
	if cpuPct > p.PeakCPUPct {
		p.PeakCPUPct = cpuPct
	}
	if memPct > p.PeakMemPct {
		p.PeakMemPct = memPct
	}
}

// Finalize stamps the end time and derives throughput. It is safe to call on
// every exit path; the first call wins.
func (p *BatchProgress) Finalize(at time.Time) {
	if !p.FinishedAt.IsZero() {
		return
	}
	p.FinishedAt = at
	if elapsed := at.Sub(p.StartedAt).Seconds(); elapsed > 0 {
		p.ItemsPerSecond = float64(p.Processed) / elapsed
	}
}

// ProgressSnapshot is the serialized form of BatchProgress. The completed set
// travels as a sorted slice; loading reconstructs the set so resume-time
// membership checks stay O(1).
type ProgressSnapshot struct {
	BatchID        string               `json:"batch_id"`
	TotalItems     int                  `json:"total_items"`
	Processed      int                  `json:"processed"`
	Succeeded      int                  `json:"succeeded"`
	Failed         int                  `json:"failed"`
	Skipped        int                  `json:"skipped"`
	Filtered       int                  `json:"filtered"`
	FilterReasons  map[string]int       `json:"filter_reasons,omitempty"`
	CompletedIDs   []string             `json:"completed_ids"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at,omitempty"`
	Aborted        bool                 `json:"aborted"`
	PeakCPUPct     float64              `json:"peak_cpu_pct"`
	PeakMemPct     float64              `json:"peak_mem_pct"`
	ResourceLog    []ResourceCheckpoint `json:"resource_log,omitempty"`
	ItemsPerSecond float64              `json:"items_per_second"`
}

// Snapshot produces the serializable view of the progress record.
func (p *BatchProgress) Snapshot() ProgressSnapshot {
	ids := make([]string, 0, len(p.completed))
	for id := range p.completed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reasons := make(map[string]int, len(p.FilterReasons))
	for k, v := range p.FilterReasons {
		reasons[k] = v
	}

	return ProgressSnapshot{
		BatchID:        p.BatchID,
		TotalItems:     p.TotalItems,
		Processed:      p.Processed,
		Succeeded:      p.Succeeded,
		Failed:         p.Failed,
		Skipped:        p.Skipped,
		Filtered:       p.Filtered,
		FilterReasons:  reasons,
		CompletedIDs:   ids,
		StartedAt:      p.StartedAt,
		FinishedAt:     p.FinishedAt,
		Aborted:        p.Aborted,
		PeakCPUPct:     p.PeakCPUPct,
		PeakMemPct:     p.PeakMemPct,
		ResourceLog:    append([]ResourceCheckpoint(nil), p.ResourceLog...),
		ItemsPerSecond: p.ItemsPerSecond,
	}
}

// FromSnapshot rebuilds a BatchProgress from its serialized form.
func FromSnapshot(snap ProgressSnapshot) *BatchProgress {
	p := &BatchProgress{
		BatchID:        snap.BatchID,
		TotalItems:     snap.TotalItems,
		Processed:      snap.Processed,
		Succeeded:      snap.Succeeded,
		Failed:         snap.Failed,
		Skipped:        snap.Skipped,
		Filtered:       snap.Filtered,
		FilterReasons:  make(map[string]int, len(snap.FilterReasons)),
		StartedAt:      snap.StartedAt,
		FinishedAt:     snap.FinishedAt,
		Aborted:        snap.Aborted,
		PeakCPUPct:     snap.PeakCPUPct,
		PeakMemPct:     snap.PeakMemPct,
		ResourceLog:    append([]ResourceCheckpoint(nil), snap.ResourceLog...),
		ItemsPerSecond: snap.ItemsPerSecond,
		completed:      make(map[string]struct{}, len(snap.CompletedIDs)),
	}
	for k, v := range snap.FilterReasons {
		p.FilterReasons[k] = v
	}
	for _, id := range snap.CompletedIDs {
		p.completed[id] = struct{}{}
	}
	return p
}
