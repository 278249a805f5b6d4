package tick

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/runinit"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

func newRun(t *testing.T) string {
	t.Helper()
	runsRoot := t.TempDir()
	result, e := runinit.Init(runinit.Request{
		RunsRoot: runsRoot, RunID: "r-1", Query: "q", Mode: schema.ModeStandard, Sensitivity: schema.SensitivityNormal,
	}, time.Now().UTC())
	require.Nil(t, e)
	return result.RunRoot
}

func noopBody(_ context.Context, _ string, m *schema.Manifest) (*Result, *errs.Error) {
	return &Result{OK: true, From: m.Stage.Current, To: m.Stage.Current, Status: m.Status}, nil
}

func TestRunSucceedsThroughSkeleton(t *testing.T) {
	runRoot := newRun(t)
	result, e := Run(context.Background(), runRoot, schema.RunLockPolicy{LeaseSeconds: 60}, 300, "test tick", noopBody)
	require.Nil(t, e)
	require.True(t, result.OK)

	_, err := os.Stat(markerPath(runRoot))
	require.True(t, os.IsNotExist(err))
}

func TestRunRefusesPausedRun(t *testing.T) {
	runRoot := newRun(t)
	setStatus(t, runRoot, schema.StatusPaused)

	_, e := Run(context.Background(), runRoot, schema.RunLockPolicy{LeaseSeconds: 60}, 300, "test tick", noopBody)
	require.NotNil(t, e)
	require.Equal(t, string(errs.Paused), string(e.Code))
}

func TestRunRefusesCancelledRun(t *testing.T) {
	runRoot := newRun(t)
	setStatus(t, runRoot, schema.StatusCancelled)

	_, e := Run(context.Background(), runRoot, schema.RunLockPolicy{LeaseSeconds: 60}, 300, "test tick", noopBody)
	require.NotNil(t, e)
	require.Equal(t, string(errs.Cancelled), string(e.Code))
}

func TestCheckStaleMarkerBlocksOnStaleAbandonedMarker(t *testing.T) {
	runRoot := newRun(t)
	marker := schema.TickMarker{StartedAt: time.Now().UTC().Add(-10 * time.Minute), Stage: schema.StageWave1, OwnerID: "dead-owner"}
	require.Nil(t, store.AtomicWriteJSON(markerPath(runRoot), marker))

	e := checkStaleMarker(runRoot, 300, time.Now().UTC())
	require.NotNil(t, e)
	require.Equal(t, string(errs.PreviousTickIncomplete), string(e.Code))
}

func TestCheckStaleMarkerAllowsFreshMarker(t *testing.T) {
	runRoot := newRun(t)
	marker := schema.TickMarker{StartedAt: time.Now().UTC(), Stage: schema.StageWave1, OwnerID: "live-owner"}
	require.Nil(t, store.AtomicWriteJSON(markerPath(runRoot), marker))

	e := checkStaleMarker(runRoot, 300, time.Now().UTC())
	require.Nil(t, e)
}

func setStatus(t *testing.T, runRoot string, status schema.Status) {
	t.Helper()
	m, e := manifest.Read(manifest.Path(runRoot))
	require.Nil(t, e)
	rev := m.Revision
	_, e = manifest.Write(runRoot, &rev, manifest.Patch{Status: &status}, "test_set_status", "")
	require.Nil(t, e)
}
