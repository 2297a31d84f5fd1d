// Package monitor samples host CPU and memory utilization and turns the
// readings into throttle, abort, and memory-reclaim decisions.
package monitor

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sample is a point-in-time utilization reading. Samples live only in the
// monitor's bounded rolling window and are never persisted.
type Sample struct {
	TS     time.Time
	CPUPct float64
	MemPct float64
}

// Config holds monitor thresholds. Abort ceilings gate on the instantaneous
// reading; high and low water marks gate on rolling averages.
type Config struct {
	WindowSize int

	CPUAbortPct float64
	MemAbortPct float64
	CPUHighPct  float64
	MemHighPct  float64
	CPULowPct   float64
	MemLowPct   float64

	// ReclaimMemPct triggers a forced GC when the instantaneous memory
	// reading crosses it.
	ReclaimMemPct float64
	// ReclaimEveryItems forces a GC on a fixed item-count cadence
	// regardless of pressure, bounding working-set growth on long batches.
	ReclaimEveryItems int
}

// Monitor keeps a rolling window of resource samples. Safe for concurrent use.
type Monitor struct {
	cfg    Config
	probe  Probe
	logger *zap.Logger

	mu           sync.Mutex
	window       []Sample
	last         Sample
	peakCPU      float64
	peakMem      float64
	sinceReclaim int
}

// New builds a Monitor around the given probe.
func New(cfg Config, probe Probe, logger *zap.Logger) *Monitor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 30
	}
	if probe == nil {
		probe = SystemProbe{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:    cfg,
		probe:  probe,
		logger: logger,
		window: make([]Sample, 0, cfg.WindowSize),
	}
}

// Sample reads current utilization, appends it to the rolling window
// (evicting the oldest entry beyond capacity), and updates running peaks.
func (m *Monitor) Sample(ctx context.Context) (Sample, error) {
	cpuPct, err := m.probe.CPUPercent(ctx)
	if err != nil {
		return Sample{}, err
	}
	memPct, err := m.probe.MemoryPercent(ctx)
	if err != nil {
		return Sample{}, err
	}
	s := Sample{TS: time.Now(), CPUPct: cpuPct, MemPct: memPct}

	m.mu.Lock()
	if len(m.window) == m.cfg.WindowSize {
		m.window = append(m.window[1:], s)
	} else {
		m.window = append(m.window, s)
	}
	m.last = s
	if s.CPUPct > m.peakCPU {
		m.peakCPU = s.CPUPct
	}
	if s.MemPct > m.peakMem {
		m.peakMem = s.MemPct
	}
	m.mu.Unlock()

	return s, nil
}

// ShouldAbort reports whether the latest instantaneous reading exceeds a hard
// ceiling. This is the conservative safety cut-off; the adaptive sizing
// signal uses rolling averages instead.
func (m *Monitor) ShouldAbort() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last.TS.IsZero() {
		return false
	}
	return (m.cfg.CPUAbortPct > 0 && m.last.CPUPct > m.cfg.CPUAbortPct) ||
		(m.cfg.MemAbortPct > 0 && m.last.MemPct > m.cfg.MemAbortPct)
}

// ShouldThrottle reports whether recent average CPU or memory exceeds the
// high water mark.
func (m *Monitor) ShouldThrottle() bool {
	cpuAvg, memAvg := m.Averages()
	return (m.cfg.CPUHighPct > 0 && cpuAvg > m.cfg.CPUHighPct) ||
		(m.cfg.MemHighPct > 0 && memAvg > m.cfg.MemHighPct)
}

// UnderLowWater reports whether recent average CPU and memory are both below
// the low water marks, i.e. there is headroom to grow the work unit.
func (m *Monitor) UnderLowWater() bool {
	m.mu.Lock()
	empty := len(m.window) == 0
	m.mu.Unlock()
	if empty {
		return false
	}
	cpuAvg, memAvg := m.Averages()
	return cpuAvg < m.cfg.CPULowPct && memAvg < m.cfg.MemLowPct
}

// Averages returns the rolling-window mean CPU and memory utilization.
func (m *Monitor) Averages() (cpuPct, memPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.window) == 0 {
		return 0, 0
	}
	for _, s := range m.window {
		cpuPct += s.CPUPct
		memPct += s.MemPct
	}
	n := float64(len(m.window))
	return cpuPct / n, memPct / n
}

// Peaks returns the highest CPU and memory readings observed so far.
func (m *Monitor) Peaks() (cpuPct, memPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakCPU, m.peakMem
}

// ReclaimIfNeeded hints the runtime to give memory back when the latest
// memory reading crosses the reclaim threshold, and periodically on a fixed
// item-count cadence. Returns true when a reclaim ran.
func (m *Monitor) ReclaimIfNeeded(itemsProcessed int) bool {
	m.mu.Lock()
	m.sinceReclaim += itemsProcessed
	pressured := m.cfg.ReclaimMemPct > 0 && !m.last.TS.IsZero() && m.last.MemPct >= m.cfg.ReclaimMemPct
	cadence := m.cfg.ReclaimEveryItems > 0 && m.sinceReclaim >= m.cfg.ReclaimEveryItems
	if !pressured && !cadence {
		m.mu.Unlock()
		return false
	}
	m.sinceReclaim = 0
	memPct := m.last.MemPct
	m.mu.Unlock()

	runtime.GC()
	debug.FreeOSMemory()
	m.logger.Debug("memory reclaim hint issued",
		zap.Float64("mem_pct", memPct),
		zap.Bool("pressured", pressured),
	)
	return true
}
