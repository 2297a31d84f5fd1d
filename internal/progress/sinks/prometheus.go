package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pip-arch/url-compliance-checker/internal/progress"
)

// PrometheusSink exports batch-engine metrics. It owns all collectors for
// batch lifecycle, item outcomes, chunk sizing, and resource utilization.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchesRunning   prometheus.Gauge
	batchRuntime     *prometheus.HistogramVec

	itemsProcessed *prometheus.CounterVec
	itemDuration   *prometheus.HistogramVec
	hostsBlocked   *prometheus.CounterVec

	chunkSize prometheus.Gauge
	cpuPct    prometheus.Gauge
	memPct    prometheus.Gauge

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "urlcheck_batches_started_total",
			Help: "Total batch runs started.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlcheck_batches_completed_total",
			Help: "Total batch runs completed partitioned by result.",
		}, []string{"result"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "urlcheck_batches_running",
			Help: "Current number of running batches.",
		}),
		batchRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "urlcheck_batch_runtime_seconds",
			Help:    "Wall time per completed batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlcheck_items_processed_total",
			Help: "Item completions partitioned by host and outcome.",
		}, []string{"host", "outcome"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "urlcheck_item_duration_seconds",
			Help:    "Item processing duration partitioned by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		hostsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlcheck_hosts_blocked_total",
			Help: "Circuit breaker open transitions partitioned by host.",
		}, []string{"host"}),
		chunkSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "urlcheck_chunk_size",
			Help: "Current adaptive work-unit size.",
		}),
		cpuPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "urlcheck_resource_cpu_percent",
			Help: "CPU utilization observed at the last chunk boundary.",
		}),
		memPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "urlcheck_resource_memory_percent",
			Help: "Memory utilization observed at the last chunk boundary.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.itemsProcessed,
		s.itemDuration,
		s.hostsBlocked,
		s.chunkSize,
		s.cpuPct,
		s.memPct,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the provided batch. Safe for concurrent
// use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageBatchStart:
		s.batchesStarted.Inc()
		if s.tracker.start(evt.BatchID) {
			s.batchesRunning.Inc()
		}
	case progress.StageBatchDone:
		s.completeBatch(evt, "success")
	case progress.StageBatchAborted:
		s.completeBatch(evt, "aborted")
	case progress.StageBatchError:
		s.completeBatch(evt, "error")
	case progress.StageItemDone:
		host := evt.Host
		if host == "" {
			host = "unknown"
		}
		s.itemsProcessed.WithLabelValues(host, evt.Outcome).Inc()
		if evt.Dur > 0 {
			s.itemDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
		}
	case progress.StageHostBlocked:
		s.hostsBlocked.WithLabelValues(evt.Host).Inc()
	case progress.StageChunkDone:
		s.chunkSize.Set(float64(evt.ChunkSize))
		s.cpuPct.Set(evt.CPUPct)
		s.memPct.Set(evt.MemPct)
	}
}

func (s *PrometheusSink) completeBatch(evt progress.Event, result string) {
	s.batchesCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.batchRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.BatchID) {
		s.batchesRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
