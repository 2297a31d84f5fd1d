package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gauge tracks concurrent occupancy and the highest value observed.
type gauge struct {
	mu   sync.Mutex
	cur  int
	peak int
}

func (g *gauge) enter() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()
}

func (g *gauge) leave() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

func (g *gauge) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func TestAdmitBoundsPerHostConcurrency(t *testing.T) {
	t.Parallel()

	ctrl := New(Config{GlobalLimit: 10, PerHostLimit: 2}, nil)
	var g gauge
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			permit, err := ctrl.Admit(context.Background(), "a.example.com")
			require.NoError(t, err)
			g.enter()
			time.Sleep(20 * time.Millisecond)
			g.leave()
			permit.Release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, g.max(), 2)
}

func TestAdmitBoundsGlobalConcurrency(t *testing.T) {
	t.Parallel()

	ctrl := New(Config{GlobalLimit: 3, PerHostLimit: 3}, nil)
	var g gauge
	var wg sync.WaitGroup
	hosts := []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com"}
	for i := 0; i < 12; i++ {
		host := hosts[i%len(hosts)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			permit, err := ctrl.Admit(context.Background(), host)
			require.NoError(t, err)
			g.enter()
			time.Sleep(10 * time.Millisecond)
			g.leave()
			permit.Release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, g.max(), 3)
}

func TestAdmitEnforcesIdleCooldown(t *testing.T) {
	t.Parallel()

	cooldown := 60 * time.Millisecond
	ctrl := New(Config{GlobalLimit: 4, PerHostLimit: 2, HostCooldown: cooldown}, nil)

	permit, err := ctrl.Admit(context.Background(), "a.example.com")
	require.NoError(t, err)
	permit.Release()

	start := time.Now()
	permit, err = ctrl.Admit(context.Background(), "a.example.com")
	require.NoError(t, err)
	permit.Release()
	assert.GreaterOrEqual(t, time.Since(start), cooldown/2,
		"second request to an idle host waits out the remaining cooldown")
}

func TestAdmitSkipsCooldownWhileHostBusy(t *testing.T) {
	t.Parallel()

	ctrl := New(Config{GlobalLimit: 4, PerHostLimit: 2, HostCooldown: time.Second}, nil)

	first, err := ctrl.Admit(context.Background(), "a.example.com")
	require.NoError(t, err)
	defer first.Release()

	start := time.Now()
	second, err := ctrl.Admit(context.Background(), "a.example.com")
	require.NoError(t, err)
	second.Release()
	assert.Less(t, time.Since(start), 500*time.Millisecond,
		"cooldown applies to idle hosts only")
}

func TestAdmitNoCooldownForFreshHost(t *testing.T) {
	t.Parallel()

	ctrl := New(Config{GlobalLimit: 2, PerHostLimit: 1, HostCooldown: time.Second}, nil)
	start := time.Now()
	permit, err := ctrl.Admit(context.Background(), "fresh.example.com")
	require.NoError(t, err)
	permit.Release()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAdmitReleasesGlobalSlotOnCanceledCooldown(t *testing.T) {
	t.Parallel()

	ctrl := New(Config{GlobalLimit: 1, PerHostLimit: 1, HostCooldown: time.Minute}, nil)

	permit, err := ctrl.Admit(context.Background(), "a.example.com")
	require.NoError(t, err)
	permit.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ctrl.Admit(ctx, "a.example.com")
	require.Error(t, err)

	// The failed admit must not leak its global slot.
	permit, err = ctrl.Admit(context.Background(), "b.example.com")
	require.NoError(t, err)
	permit.Release()
}

func TestAdmitRespectsContextOnGlobalWait(t *testing.T) {
	t.Parallel()

	ctrl := New(Config{GlobalLimit: 1, PerHostLimit: 1}, nil)
	permit, err := ctrl.Admit(context.Background(), "a.example.com")
	require.NoError(t, err)
	defer permit.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ctrl.Admit(ctx, "b.example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPermitReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	ctrl := New(Config{GlobalLimit: 1, PerHostLimit: 1}, nil)
	permit, err := ctrl.Admit(context.Background(), "a.example.com")
	require.NoError(t, err)
	permit.Release()
	permit.Release()

	// A leaked release would have over-credited the semaphores; a fresh
	// admit still works and the bound still holds.
	var admitted atomic.Int32
	next, err := ctrl.Admit(context.Background(), "a.example.com")
	require.NoError(t, err)
	admitted.Add(1)

	done := make(chan struct{})
	go func() {
		p, err := ctrl.Admit(context.Background(), "a.example.com")
		if err == nil {
			admitted.Add(1)
			p.Release()
		}
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), admitted.Load(), "second admit blocks until release")
	next.Release()
	<-done
	assert.Equal(t, int32(2), admitted.Load())
}

// TestScenarioRepeatedHostQueuesWithoutErrors runs a ten-item batch where one
// host appears six times: the extra requests queue behind the per-host limit
// and cooldown, they never fail.
func TestScenarioRepeatedHostQueuesWithoutErrors(t *testing.T) {
	t.Parallel()

	ctrl := New(Config{GlobalLimit: 10, PerHostLimit: 2, HostCooldown: 30 * time.Millisecond}, nil)
	hosts := []string{
		"a.com", "a.com", "a.com", "a.com", "a.com", "a.com",
		"b.com", "c.com", "d.com", "e.com",
	}

	var hostGauge gauge
	var failures atomic.Int32
	var wg sync.WaitGroup
	for _, host := range hosts {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			permit, err := ctrl.Admit(context.Background(), h)
			if err != nil {
				failures.Add(1)
				return
			}
			if h == "a.com" {
				hostGauge.enter()
				time.Sleep(10 * time.Millisecond)
				hostGauge.leave()
			}
			permit.Release()
		}(host)
	}
	wg.Wait()

	assert.Equal(t, int32(0), failures.Load(), "queuing, not errors")
	assert.LessOrEqual(t, hostGauge.max(), 2)
}

func TestPermitHost(t *testing.T) {
	t.Parallel()

	ctrl := New(Config{GlobalLimit: 1, PerHostLimit: 1}, nil)
	permit, err := ctrl.Admit(context.Background(), "a.example.com")
	require.NoError(t, err)
	defer permit.Release()
	assert.Equal(t, "a.example.com", permit.Host())
}
