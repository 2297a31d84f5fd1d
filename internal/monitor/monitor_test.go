package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProbe replays a fixed sequence of readings, repeating the last one.
type scriptedProbe struct {
	mu   sync.Mutex
	cpus []float64
	mems []float64
	idx  int
	err  error
}

func (p *scriptedProbe) CPUPercent(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.cpus[min(p.idx, len(p.cpus)-1)], nil
}

func (p *scriptedProbe) MemoryPercent(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	v := p.mems[min(p.idx, len(p.mems)-1)]
	p.idx++
	return v, nil
}

func defaultTestConfig() Config {
	return Config{
		WindowSize:  3,
		CPUAbortPct: 90,
		MemAbortPct: 90,
		CPUHighPct:  75,
		MemHighPct:  80,
		CPULowPct:   40,
		MemLowPct:   50,
	}
}

func sampleN(t *testing.T, m *Monitor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := m.Sample(context.Background())
		require.NoError(t, err)
	}
}

func TestMonitorWindowEvictsOldest(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{cpus: []float64{100, 100, 10, 10, 10}, mems: []float64{0, 0, 0, 0, 0}}
	m := New(defaultTestConfig(), probe, nil)

	sampleN(t, m, 5)
	cpuAvg, _ := m.Averages()
	assert.Equal(t, 10.0, cpuAvg, "early spikes age out of the window")
}

func TestMonitorShouldAbortUsesInstantaneousReading(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{cpus: []float64{50, 95}, mems: []float64{50, 50}}
	m := New(defaultTestConfig(), probe, nil)

	assert.False(t, m.ShouldAbort(), "no sample yet")
	sampleN(t, m, 1)
	assert.False(t, m.ShouldAbort())
	sampleN(t, m, 1)
	assert.True(t, m.ShouldAbort(), "latest reading crossed the ceiling")
}

func TestMonitorShouldAbortOnMemoryCeiling(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{cpus: []float64{10}, mems: []float64{92}}
	m := New(defaultTestConfig(), probe, nil)
	sampleN(t, m, 1)
	assert.True(t, m.ShouldAbort())
}

func TestMonitorShouldThrottleOnAverages(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{cpus: []float64{80, 80, 80}, mems: []float64{10, 10, 10}}
	m := New(defaultTestConfig(), probe, nil)
	sampleN(t, m, 3)
	assert.True(t, m.ShouldThrottle())
	assert.False(t, m.UnderLowWater())
}

func TestMonitorUnderLowWaterNeedsBothAxes(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{cpus: []float64{10}, mems: []float64{70}}
	m := New(defaultTestConfig(), probe, nil)

	assert.False(t, m.UnderLowWater(), "empty window is never idle")
	sampleN(t, m, 1)
	assert.False(t, m.UnderLowWater(), "memory above the low mark blocks growth")
}

func TestMonitorUnderLowWaterWhenIdle(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{cpus: []float64{10, 15}, mems: []float64{20, 25}}
	m := New(defaultTestConfig(), probe, nil)
	sampleN(t, m, 2)
	assert.True(t, m.UnderLowWater())
	assert.False(t, m.ShouldThrottle())
	assert.False(t, m.ShouldAbort())
}

func TestMonitorPeaks(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{cpus: []float64{30, 70, 20}, mems: []float64{40, 20, 60}}
	m := New(defaultTestConfig(), probe, nil)
	sampleN(t, m, 3)
	cpuPeak, memPeak := m.Peaks()
	assert.Equal(t, 70.0, cpuPeak)
	assert.Equal(t, 60.0, memPeak)
}

func TestMonitorSampleSurfacesProbeError(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{err: errors.New("probe unavailable")}
	m := New(defaultTestConfig(), probe, nil)
	_, err := m.Sample(context.Background())
	require.Error(t, err)
}

func TestMonitorReclaimOnCadence(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.ReclaimEveryItems = 100
	probe := &scriptedProbe{cpus: []float64{10}, mems: []float64{10}}
	m := New(cfg, probe, nil)
	sampleN(t, m, 1)

	assert.False(t, m.ReclaimIfNeeded(60))
	assert.True(t, m.ReclaimIfNeeded(60), "cadence counter crossed the threshold")
	assert.False(t, m.ReclaimIfNeeded(60), "counter resets after a reclaim")
}

func TestMonitorReclaimOnMemoryPressure(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.ReclaimMemPct = 70
	probe := &scriptedProbe{cpus: []float64{10}, mems: []float64{85}}
	m := New(cfg, probe, nil)
	sampleN(t, m, 1)

	assert.True(t, m.ReclaimIfNeeded(1))
}

func TestMonitorReclaimDisabled(t *testing.T) {
	t.Parallel()

	probe := &scriptedProbe{cpus: []float64{10}, mems: []float64{95}}
	m := New(defaultTestConfig(), probe, nil)
	sampleN(t, m, 1)
	assert.False(t, m.ReclaimIfNeeded(1000), "zero thresholds disable reclaim")
}
