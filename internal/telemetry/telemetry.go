// Package telemetry implements the telemetry subsystem (C14): an
// append-only, strictly-monotone-seq event log with a derived index
// sidecar, and a metrics aggregator. The aggregator's counters are
// additionally exposed through github.com/prometheus/client_golang
// against a private registry and rendered to a textfile via
// prometheus/common/expfmt, since embedding an HTTP server to serve them
// is an explicit non-goal.
package telemetry

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

func logPath(runRoot string) string   { return filepath.Join(runRoot, "logs", "telemetry.jsonl") }
func indexPath(runRoot string) string { return filepath.Join(runRoot, "logs", "telemetry.index.json") }

func writeIndex(runRoot string, idx *schema.TelemetryIndex) *errs.Error {
	p, we := store.WithinRoot(runRoot, filepath.Join("logs", "telemetry.index.json"))
	if we != nil {
		return we
	}
	return store.AtomicWriteJSON(p, idx)
}

// NextSeq reads the index sidecar (deriving it from the log if missing)
// and returns the next strictly-increasing seq value.
func NextSeq(runRoot string) (int64, *errs.Error) {
	idx, e := readOrDeriveIndex(runRoot)
	if e != nil {
		return 0, e
	}
	return idx.LastSeq + 1, nil
}

func readOrDeriveIndex(runRoot string) (*schema.TelemetryIndex, *errs.Error) {
	p := indexPath(runRoot)
	if store.Exists(p) {
		var idx schema.TelemetryIndex
		if e := store.ReadJSON(p, &idx); e == nil {
			return &idx, nil
		}
		// fall through to derive from the log itself on a corrupt index
	}
	lines, e := store.ReadLines(logPath(runRoot))
	if e != nil {
		return nil, e
	}
	var last int64
	for _, line := range lines {
		var ev schema.TelemetryEvent
		if err := json.Unmarshal([]byte(line), &ev); err == nil && ev.Seq > last {
			last = ev.Seq
		}
	}
	idx := &schema.TelemetryIndex{LastSeq: last}
	if e := writeIndex(runRoot, idx); e != nil {
		return nil, e
	}
	return idx, nil
}

// Append validates ev against runID (invariant: telemetry run_id must
// equal the manifest's), assigns it the next seq if Seq is zero, appends
// it to telemetry.jsonl, and updates the index sidecar.
func Append(runRoot, runID string, ev schema.TelemetryEvent) *errs.Error {
	if ev.SchemaVersion == "" {
		ev.SchemaVersion = schema.TelemetrySchemaVersion
	}
	if ev.RunID == "" {
		ev.RunID = runID
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if ev.Seq == 0 {
		seq, e := NextSeq(runRoot)
		if e != nil {
			return e
		}
		ev.Seq = seq
	}
	if e := ev.Validate(runID); e != nil {
		return e
	}

	idx, e := readOrDeriveIndex(runRoot)
	if e != nil {
		return e
	}
	if ev.Seq <= idx.LastSeq {
		return errs.New(errs.SchemaValidationFailed, "telemetry seq is not strictly increasing", errs.D("seq", ev.Seq, "last_seq", idx.LastSeq))
	}

	line, err := store.CanonicalizeJSON(ev)
	if err != nil {
		return errs.Wrap(errs.WriteFailed, "canonicalize telemetry event", err, nil)
	}
	logp, we := store.WithinRoot(runRoot, filepath.Join("logs", "telemetry.jsonl"))
	if we != nil {
		return we
	}
	if e := store.AppendLine(logp, line); e != nil {
		return e
	}
	idx.LastSeq = ev.Seq
	return writeIndex(runRoot, idx)
}
