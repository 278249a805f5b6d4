package watchdog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

func TestCheckNeverTimesOutWhenPaused(t *testing.T) {
	now := time.Now()
	m := &schema.Manifest{Status: schema.StatusPaused, Stage: schema.StageInfo{StartedAt: now.Add(-time.Hour)}}
	require.False(t, Check(m, 60, now).TimedOut)
}

func TestEnforceTransitionsToFailedOnTimeout(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC()
	lastProgress := now.Add(-10 * time.Minute)

	m := &schema.Manifest{
		SchemaVersion: schema.ManifestSchemaVersion,
		RunID:         "r-1", Revision: 1, Mode: schema.ModeStandard, Status: schema.StatusRunning,
		Query: schema.Query{Text: "q", Sensitivity: schema.SensitivityNormal},
		Stage: schema.StageInfo{Current: schema.StageWave1, StartedAt: lastProgress, LastProgressAt: &lastProgress},
	}
	require.Nil(t, store.AtomicWriteJSON(manifest.Path(root), m))

	result, e := Enforce(root, m, 600, now)
	require.Nil(t, e)
	require.True(t, result.TimedOut)
	require.True(t, store.Exists(filepath.Join(root, "logs", "timeout-checkpoint.json")))
	require.True(t, store.Exists(filepath.Join(root, "logs", "timeout-checkpoint.md")))

	updated, e := manifest.Read(manifest.Path(root))
	require.Nil(t, e)
	require.Equal(t, schema.StatusFailed, updated.Status)
	require.Len(t, updated.Failures, 1)
	require.Equal(t, "timeout", updated.Failures[0].Kind)
}
