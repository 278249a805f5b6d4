package schema

import (
	"time"

	"github.com/resorch/resorch/internal/errs"
)

// EventType is one of the recognized telemetry.v1 event kinds.
type EventType string

const (
	EventRunStatus          EventType = "run_status"
	EventStageStarted       EventType = "stage_started"
	EventStageFinished      EventType = "stage_finished"
	EventStageRetryPlanned  EventType = "stage_retry_planned"
	EventWatchdogTimeout    EventType = "watchdog_timeout"
)

const TelemetrySchemaVersion = "telemetry.v1"

// TelemetryEvent is one line of logs/telemetry.jsonl.
type TelemetryEvent struct {
	SchemaVersion string         `json:"schema_version"`
	Seq           int64          `json:"seq"`
	RunID         string         `json:"run_id"`
	TS            time.Time      `json:"ts"`
	Type          EventType      `json:"type"`
	Stage         Stage          `json:"stage,omitempty"`
	Outcome       string         `json:"outcome,omitempty"`
	FailureKind   string         `json:"failure_kind,omitempty"`
	TimeoutS      int            `json:"timeout_s,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Validate checks the cross-field constraints spec section 4.11 names:
// schema_version, run_id match, and the timed-out/failure_kind pairing.
func (e *TelemetryEvent) Validate(expectedRunID string) *errs.Error {
	if e.SchemaVersion != TelemetrySchemaVersion {
		return errs.New(errs.SchemaValidationFailed, "unexpected telemetry schema_version", errs.D("got", e.SchemaVersion))
	}
	if e.RunID != expectedRunID {
		return errs.New(errs.SchemaValidationFailed, "telemetry run_id must equal manifest run_id", errs.D("got", e.RunID, "want", expectedRunID))
	}
	if e.Seq <= 0 {
		return errs.New(errs.SchemaValidationFailed, "telemetry seq must be a positive integer", errs.D("seq", e.Seq))
	}
	if e.Type == EventStageFinished && e.Outcome == "timed_out" && e.FailureKind != "timeout" {
		return errs.New(errs.SchemaValidationFailed, "stage_finished with outcome=timed_out requires failure_kind=timeout", errs.D("stage", e.Stage))
	}
	return nil
}

// TelemetryIndex is the logs/telemetry.index.json sidecar.
type TelemetryIndex struct {
	LastSeq int64 `json:"last_seq"`
}
