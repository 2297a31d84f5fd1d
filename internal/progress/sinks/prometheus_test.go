package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pip-arch/url-compliance-checker/internal/progress"
)

func TestPrometheusSinkTracksBatchLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "b1", Stage: progress.StageBatchStart, TS: now},
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.batchesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.batchesRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "b1", Stage: progress.StageBatchDone, TS: now.Add(time.Minute), Dur: time.Minute},
	}))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.batchesRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.batchesCompleted.WithLabelValues("success")))
}

func TestPrometheusSinkRunningGaugeIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	now := time.Now()

	start := progress.Event{BatchID: "b1", Stage: progress.StageBatchStart, TS: now}
	done := progress.Event{BatchID: "b1", Stage: progress.StageBatchDone, TS: now}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{start, start, done, done}))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.batchesRunning))
}

func TestPrometheusSinkCountsItemOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "b1", Stage: progress.StageItemDone, Host: "a.example.com", Outcome: "succeeded", Dur: 120 * time.Millisecond, TS: now},
		{BatchID: "b1", Stage: progress.StageItemDone, Host: "a.example.com", Outcome: "succeeded", Dur: 80 * time.Millisecond, TS: now},
		{BatchID: "b1", Stage: progress.StageItemDone, Host: "b.example.com", Outcome: "failed", TS: now},
		{BatchID: "b1", Stage: progress.StageItemDone, Outcome: "filtered", TS: now},
	}))

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.itemsProcessed.WithLabelValues("a.example.com", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.itemsProcessed.WithLabelValues("b.example.com", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.itemsProcessed.WithLabelValues("unknown", "filtered")))
}

func TestPrometheusSinkRecordsChunkAndResourceGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "b1", Stage: progress.StageChunkDone, ChunkSize: 15, CPUPct: 42.5, MemPct: 61.0, TS: time.Now()},
	}))
	assert.Equal(t, 15.0, testutil.ToFloat64(sink.chunkSize))
	assert.Equal(t, 42.5, testutil.ToFloat64(sink.cpuPct))
	assert.Equal(t, 61.0, testutil.ToFloat64(sink.memPct))
}

func TestPrometheusSinkCountsBlockedHosts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "b1", Stage: progress.StageHostBlocked, Host: "bad.example.com", TS: time.Now()},
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.hostsBlocked.WithLabelValues("bad.example.com")))
}

func TestPrometheusSinkDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
