// Package tick implements the tick orchestrator (C15): the single
// shared step pattern both one-step drivers (tick_live and
// tick_post_summaries) execute — read/validate the manifest, acquire
// the run lock, write a stale-detection marker, run the stage body,
// then unwind. Grounded on the teacher's StageService.ExecuteStage
// wrapper (pkg/services/stage_service.go), which applies this same
// acquire/mark/execute/release shape around a pluggable stage body.
package tick

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/lock"
	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// Result is one tick's return contract, per spec section 4.13 step 7.
type Result struct {
	OK                   bool
	From                 schema.Stage
	To                   schema.Stage
	Status               schema.Status
	WaveOutputsCount     int
	ReviewIteration      int
	DecisionInputsDigest string
}

// Body executes the stage-specific logic for one tick against the
// manifest snapshot taken after the lock was acquired and the marker
// written, returning the tick's result.
type Body func(ctx context.Context, runRoot string, m *schema.Manifest) (*Result, *errs.Error)

func markerPath(runRoot string) string {
	return filepath.Join(runRoot, "logs", "tick-in-progress.json")
}

// Run executes the shared tick skeleton documented in spec section 4.13.
func Run(ctx context.Context, runRoot string, lockPolicy schema.RunLockPolicy, tickMarkerStaleAfterSeconds int, reason string, body Body) (*Result, *errs.Error) {
	m, e := manifest.Read(manifest.Path(runRoot))
	if e != nil {
		return nil, e
	}
	if m.Status == schema.StatusPaused {
		return nil, errs.New(errs.Paused, "run is paused", errs.D("run_id", m.RunID))
	}
	if m.Status == schema.StatusCancelled {
		return nil, errs.New(errs.Cancelled, "run is cancelled", errs.D("run_id", m.RunID))
	}

	if e := checkStaleMarker(runRoot, tickMarkerStaleAfterSeconds, time.Now().UTC()); e != nil {
		return nil, e
	}

	handle, e := lock.Acquire(ctx, runRoot, lockPolicy, reason)
	if e != nil {
		return nil, e
	}
	defer handle.Release()

	owner := lock.NewOwnerToken()
	marker := schema.TickMarker{StartedAt: time.Now().UTC(), Stage: m.Stage.Current, OwnerID: owner}
	if e := store.AtomicWriteJSON(markerPath(runRoot), marker); e != nil {
		return nil, e
	}

	result, bodyErr := body(ctx, runRoot, m)

	if rmErr := os.Remove(markerPath(runRoot)); rmErr != nil && !os.IsNotExist(rmErr) {
		if bodyErr == nil {
			return nil, errs.Wrap(errs.WriteFailed, "remove tick-in-progress marker", rmErr, nil)
		}
	}

	if bodyErr != nil {
		return nil, bodyErr
	}
	return result, nil
}

// checkStaleMarker returns PREVIOUS_TICK_INCOMPLETE if a tick-in-progress
// marker from an earlier tick is still on disk and has outlived
// staleAfterSeconds: the run lock would have serialized a concurrent
// live tick, so a marker surviving past the staleness window means the
// process that wrote it crashed without cleaning up, and an operator (or
// a higher-level loop) must run recovery rather than have this tick
// silently proceed underneath it.
func checkStaleMarker(runRoot string, staleAfterSeconds int, now time.Time) *errs.Error {
	path := markerPath(runRoot)
	if !store.Exists(path) {
		return nil
	}
	var marker schema.TickMarker
	if e := store.ReadJSON(path, &marker); e != nil {
		return e
	}
	age := now.Sub(marker.StartedAt)
	if age >= time.Duration(staleAfterSeconds)*time.Second {
		return errs.New(errs.PreviousTickIncomplete, "a previous tick marker is stale, recovery is required before this run may proceed", errs.D("stage", marker.Stage, "age_seconds", age.Seconds()))
	}
	return nil
}
