package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchProgressApplyKeepsCounterInvariant(t *testing.T) {
	t.Parallel()

	p := NewBatchProgress("b1", 4, time.Now())
	p.Apply(WorkResult{ItemID: ItemID("b1", 0), Outcome: OutcomeSucceeded})
	p.Apply(WorkResult{ItemID: ItemID("b1", 1), Outcome: OutcomeFailed})
	p.Apply(WorkResult{ItemID: ItemID("b1", 2), Outcome: OutcomeSkipped})
	p.Apply(WorkResult{ItemID: ItemID("b1", 3), Outcome: OutcomeFiltered, FilterReason: "blocked-term"})

	assert.Equal(t, 4, p.Processed)
	assert.Equal(t, p.Processed, p.Succeeded+p.Failed+p.Skipped+p.Filtered)
	assert.Equal(t, 1, p.FilterReasons["blocked-term"])
}

func TestBatchProgressApplyIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	p := NewBatchProgress("b1", 2, time.Now())
	res := WorkResult{ItemID: ItemID("b1", 0), Outcome: OutcomeSucceeded}
	p.Apply(res)
	p.Apply(res)
	res.Outcome = OutcomeFailed
	p.Apply(res)

	assert.Equal(t, 1, p.Processed)
	assert.Equal(t, 1, p.Succeeded)
	assert.Equal(t, 0, p.Failed)
	assert.True(t, p.IsCompleted(ItemID("b1", 0)))
	assert.False(t, p.IsCompleted(ItemID("b1", 1)))
}

func TestBatchProgressFinalizeFirstCallWins(t *testing.T) {
	t.Parallel()

	start := time.Now()
	p := NewBatchProgress("b1", 10, start)
	for i := 0; i < 10; i++ {
		p.Apply(WorkResult{ItemID: ItemID("b1", i), Outcome: OutcomeSucceeded})
	}
	first := start.Add(5 * time.Second)
	p.Finalize(first)
	p.Finalize(start.Add(time.Hour))

	assert.Equal(t, first, p.FinishedAt)
	assert.InDelta(t, 2.0, p.ItemsPerSecond, 0.001)
}

func TestBatchProgressObserveResourcesTracksPeaks(t *testing.T) {
	t.Parallel()

	p := NewBatchProgress("b1", 1, time.Now())
	p.ObserveResources(time.Now(), 40, 60, 10)
	p.ObserveResources(time.Now(), 80, 50, 5)

	assert.Equal(t, 80.0, p.PeakCPUPct)
	assert.Equal(t, 60.0, p.PeakMemPct)
	require.Len(t, p.ResourceLog, 2)
	assert.Equal(t, 5, p.ResourceLog[1].ChunkSize)
}

func TestProgressSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	start := time.Now().UTC().Truncate(time.Second)
	p := NewBatchProgress("b1", 3, start)
	p.Apply(WorkResult{ItemID: ItemID("b1", 2), Outcome: OutcomeSucceeded})
	p.Apply(WorkResult{ItemID: ItemID("b1", 0), Outcome: OutcomeFiltered, FilterReason: "gambling"})
	p.ObserveResources(start, 10, 20, 10)

	snap := p.Snapshot()
	assert.Equal(t, []string{ItemID("b1", 0), ItemID("b1", 2)}, snap.CompletedIDs)

	restored := FromSnapshot(snap)
	assert.Equal(t, p.Processed, restored.Processed)
	assert.Equal(t, p.Filtered, restored.Filtered)
	assert.Equal(t, p.FilterReasons, restored.FilterReasons)
	assert.True(t, restored.IsCompleted(ItemID("b1", 0)))
	assert.True(t, restored.IsCompleted(ItemID("b1", 2)))
	assert.False(t, restored.IsCompleted(ItemID("b1", 1)))
	assert.Equal(t, 2, restored.CompletedCount())
}

func TestWorkResultSucceeded(t *testing.T) {
	t.Parallel()

	assert.True(t, WorkResult{Outcome: OutcomeSucceeded}.Succeeded())
	assert.True(t, WorkResult{Outcome: OutcomeSkipped}.Succeeded())
	assert.True(t, WorkResult{Outcome: OutcomeFiltered}.Succeeded())
	assert.False(t, WorkResult{Outcome: OutcomeFailed}.Succeeded())
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rawURL  string
		want    string
		wantErr bool
	}{
		{name: "https url", rawURL: "https://Example.COM/path", want: "example.com"},
		{name: "bare host", rawURL: "example.org/x", want: "example.org"},
		{name: "with port", rawURL: "http://example.net:8080", want: "example.net"},
		{name: "no host", rawURL: "https://", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := HostOf(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
