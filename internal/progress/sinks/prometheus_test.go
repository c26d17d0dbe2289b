package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/telefonbuch-scraper/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, KeyCount: 1200},
		{RunID: runID, TS: now, Stage: progress.StageKeyStart, Key: "ab", KeyIndex: 1, KeyCount: 1200},
		{RunID: runID, TS: now, Stage: progress.StagePageStored, Key: "ab", KeyIndex: 1, Total: 42, Records: 15},
		{RunID: runID, TS: now, Stage: progress.StageKeyCommitted, Key: "ab", Dur: 3 * time.Second},
		{RunID: runID, TS: now, Stage: progress.StageServiceRestart},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.keyPosition))
	require.Equal(t, 1200.0, testutil.ToFloat64(sink.keyCount))
	require.Equal(t, 42.0, testutil.ToFloat64(sink.keyTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.restarts))
	require.Equal(t, 1, testutil.CollectAndCount(sink.keyRuntime, "scraper_key_runtime_seconds"))

	done := []progress.Event{{RunID: runID, TS: now, Stage: progress.StageRunError, Dur: time.Minute}}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
}

func TestPrometheusSinkRegistersOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
