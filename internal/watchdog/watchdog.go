// Package watchdog implements the stage-timeout check (C13): the timer
// origin is max(stage.started_at, stage.last_progress_at); a paused run
// never times out; an elapsed stage writes a timeout checkpoint, appends
// a failure entry, and transitions the run to failed. Grounded on the
// teacher's StageService.ForceStageFailure "last-resort fallback"
// pattern (pkg/services/stage_service.go) for forcing a terminal state
// outside the normal success path.
package watchdog

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// CheckResult reports whether a stage has timed out.
type CheckResult struct {
	TimedOut bool
	ElapsedS float64
	TimeoutS int
}

// TimerOrigin computes max(startedAt, lastProgressAt).
func TimerOrigin(startedAt time.Time, lastProgressAt *time.Time) time.Time {
	if lastProgressAt != nil && lastProgressAt.After(startedAt) {
		return *lastProgressAt
	}
	return startedAt
}

// Check evaluates whether m's current stage has exceeded timeoutS
// seconds, never timing out a paused run.
func Check(m *schema.Manifest, timeoutS int, now time.Time) CheckResult {
	if m.Status == schema.StatusPaused {
		return CheckResult{TimedOut: false}
	}
	origin := TimerOrigin(m.Stage.StartedAt, m.Stage.LastProgressAt)
	elapsed := now.Sub(origin).Seconds()
	return CheckResult{
		TimedOut: elapsed > float64(timeoutS),
		ElapsedS: elapsed,
		TimeoutS: timeoutS,
	}
}

// Enforce runs Check and, on timeout, writes logs/timeout-checkpoint.{md,json},
// appends a failures entry, and transitions the manifest to failed.
func Enforce(runRoot string, m *schema.Manifest, timeoutS int, now time.Time) (*CheckResult, *errs.Error) {
	result := Check(m, timeoutS, now)
	if !result.TimedOut {
		return &result, nil
	}

	checkpoint := map[string]any{
		"stage":       m.Stage.Current,
		"elapsed_s":   result.ElapsedS,
		"timeout_s":   result.TimeoutS,
		"observed_at": now,
	}
	checkpointJSON, we := store.WithinRoot(runRoot, filepath.Join("logs", "timeout-checkpoint.json"))
	if we != nil {
		return nil, we
	}
	if e := store.AtomicWriteJSON(checkpointJSON, checkpoint); e != nil {
		return nil, e
	}
	md := fmt.Sprintf("# Timeout checkpoint\n\nStage `%s` exceeded its timeout of %ds (elapsed %.2fs).\n",
		m.Stage.Current, result.TimeoutS, result.ElapsedS)
	checkpointMD, we := store.WithinRoot(runRoot, filepath.Join("logs", "timeout-checkpoint.md"))
	if we != nil {
		return nil, we
	}
	if e := store.AtomicWriteText(checkpointMD, []byte(md)); e != nil {
		return nil, e
	}

	status := schema.StatusFailed
	failure := schema.Failure{
		Kind:    "timeout",
		Stage:   m.Stage.Current,
		TS:      now,
		Message: "stage exceeded configured timeout",
		Details: errs.D("elapsed_s", result.ElapsedS, "timeout_s", result.TimeoutS),
	}
	if _, e := manifest.Write(runRoot, &m.Revision, manifest.Patch{
		Status:         &status,
		AppendFailures: []schema.Failure{failure},
	}, "watchdog_timeout", ""); e != nil {
		return nil, e
	}
	return &result, nil
}
