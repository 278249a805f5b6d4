package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/schema"
)

func TestAppendEnforcesMonotoneSeq(t *testing.T) {
	root := t.TempDir()
	runID := "r-1"

	require.Nil(t, Append(root, runID, schema.TelemetryEvent{Type: schema.EventRunStatus, Stage: schema.StageInit}))
	require.Nil(t, Append(root, runID, schema.TelemetryEvent{Type: schema.EventStageStarted, Stage: schema.StageWave1}))

	// Out-of-order explicit seq is rejected.
	e := Append(root, runID, schema.TelemetryEvent{Seq: 1, Type: schema.EventRunStatus, Stage: schema.StageInit})
	require.NotNil(t, e)
}

func TestAppendRejectsWrongRunID(t *testing.T) {
	root := t.TempDir()
	e := Append(root, "r-1", schema.TelemetryEvent{RunID: "other", Type: schema.EventRunStatus})
	require.NotNil(t, e)
	require.Equal(t, "SCHEMA_VALIDATION_FAILED", string(e.Code))
}

func TestRunMetricsWriteShortCircuits(t *testing.T) {
	root := t.TempDir()
	runID := "r-1"
	now := time.Now().UTC()

	require.Nil(t, Append(root, runID, schema.TelemetryEvent{Type: schema.EventStageStarted, Stage: schema.StageWave1, TS: now}))

	m := &schema.Manifest{RunID: runID, CreatedAt: now, UpdatedAt: now.Add(time.Minute), Status: schema.StatusRunning}
	first, e := RunMetricsWrite(root, m)
	require.Nil(t, e)
	require.Equal(t, int64(1), first.LastSeq)

	second, e := RunMetricsWrite(root, m)
	require.Nil(t, e)
	require.Equal(t, first.GeneratedAt, second.GeneratedAt, "unchanged last_seq should short-circuit to the previous write")
}
