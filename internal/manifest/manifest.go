// Package manifest implements the manifest writer (C4): revision-safe,
// schema-validated patch-and-write with an audit log entry per mutation,
// grounded on the teacher's StageService request/validate/persist
// sequencing (pkg/services/stage_service.go) generalized to optimistic
// concurrency over a single JSON document.
package manifest

import (
	"path/filepath"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// Path returns the canonical manifest.json path under a run root.
func Path(runRoot string) string {
	return filepath.Join(runRoot, "manifest.json")
}

// Read loads and schema-validates the manifest at path.
func Read(path string) (*schema.Manifest, *errs.Error) {
	var m schema.Manifest
	if e := store.ReadJSON(path, &m); e != nil {
		return nil, e
	}
	if e := m.Validate(); e != nil {
		return nil, e
	}
	return &m, nil
}

// Patch is the whitelist of manifest fields a caller may mutate in one
// write call. Nil fields are left untouched.
type Patch struct {
	Status         *schema.Status
	Stage          *schema.StageInfo
	MetricsInfo    *schema.Metrics
	AppendFailures []schema.Failure
}

// Write applies patch to the manifest at path under optimistic locking:
// if expectedRevision is non-nil, it must equal the document's current
// revision or REVISION_MISMATCH is returned. On success the revision is
// bumped, updated_at is set, and an audit entry is appended to
// logs/audit.jsonl under runRoot.
func Write(runRoot string, expectedRevision *int, patch Patch, auditAction, inputsDigest string) (*schema.Manifest, *errs.Error) {
	path := Path(runRoot)
	current, e := Read(path)
	if e != nil {
		return nil, e
	}
	if expectedRevision != nil && *expectedRevision != current.Revision {
		return nil, errs.New(errs.RevisionMismatch, "manifest revision mismatch", errs.D("expected", *expectedRevision, "actual", current.Revision))
	}

	if patch.Status != nil {
		current.Status = *patch.Status
	}
	if patch.Stage != nil {
		current.Stage = *patch.Stage
	}
	if patch.MetricsInfo != nil {
		current.MetricsInfo = *patch.MetricsInfo
	}
	if len(patch.AppendFailures) > 0 {
		current.Failures = append(current.Failures, patch.AppendFailures...)
	}

	now := time.Now().UTC()
	current.UpdatedAt = now
	current.Revision++

	if e := current.Validate(); e != nil {
		return nil, e
	}
	if e := store.AtomicWriteJSON(path, current); e != nil {
		return nil, e
	}
	if e := appendAudit(runRoot, auditAction, inputsDigest, errs.D("revision", current.Revision)); e != nil {
		return nil, e
	}
	return current, nil
}

// RecordTransition appends a history entry and advances stage.current,
// enforcing invariant 5 (every transition records a history entry whose
// ts equals updated_at; RecordTransition sets both from one timestamp).
func RecordTransition(runRoot string, expectedRevision *int, from, to schema.Stage, reason, inputsDigest string, gatesRevision int, newStatus schema.Status) (*schema.Manifest, *errs.Error) {
	if !schema.AllowedTransition(from, to) {
		return nil, errs.New(errs.LifecycleRuleViolation, "transition not in adjacency graph", errs.D("from", from, "to", to))
	}
	path := Path(runRoot)
	current, e := Read(path)
	if e != nil {
		return nil, e
	}
	if expectedRevision != nil && *expectedRevision != current.Revision {
		return nil, errs.New(errs.RevisionMismatch, "manifest revision mismatch", errs.D("expected", *expectedRevision, "actual", current.Revision))
	}
	if current.Stage.Current != from {
		return nil, errs.New(errs.StageMismatch, "manifest is not at the expected from-stage", errs.D("manifest_stage", current.Stage.Current, "expected_from", from))
	}

	now := time.Now().UTC()
	current.Stage.Current = to
	current.Stage.StartedAt = now
	current.Stage.LastProgressAt = &now
	current.Stage.History = append(current.Stage.History, schema.HistoryEntry{
		From: from, To: to, TS: now, Reason: reason,
		InputsDigest: inputsDigest, GatesRevision: gatesRevision,
	})
	current.Status = newStatus
	current.UpdatedAt = now
	current.Revision++

	if e := current.Validate(); e != nil {
		return nil, e
	}
	if e := store.AtomicWriteJSON(path, current); e != nil {
		return nil, e
	}
	if e := appendAudit(runRoot, "stage_transition", inputsDigest, errs.D("from", from, "to", to, "revision", current.Revision)); e != nil {
		return nil, e
	}
	return current, nil
}

// TouchProgress updates stage.last_progress_at without bumping the stage
// or status, used by the wave pipeline after each successful perspective
// (spec section 4.5.2 step 6). It still bumps the manifest revision,
// since any write to manifest.json must.
func TouchProgress(runRoot string) (*schema.Manifest, *errs.Error) {
	path := Path(runRoot)
	current, e := Read(path)
	if e != nil {
		return nil, e
	}
	now := time.Now().UTC()
	current.Stage.LastProgressAt = &now
	current.UpdatedAt = now
	current.Revision++
	if e := current.Validate(); e != nil {
		return nil, e
	}
	if e := store.AtomicWriteJSON(path, current); e != nil {
		return nil, e
	}
	if e := appendAudit(runRoot, "progress_touch", "", errs.D("revision", current.Revision)); e != nil {
		return nil, e
	}
	return current, nil
}

func appendAudit(runRoot, action, inputsDigest string, details map[string]any) *errs.Error {
	entry := schema.AuditEntry{
		TS: time.Now().UTC(), Action: action, InputsDigest: inputsDigest, Details: details,
	}
	line, err := store.CanonicalizeJSON(entry)
	if err != nil {
		return errs.Wrap(errs.WriteFailed, "canonicalize audit entry", err, nil)
	}
	return appendLine(filepath.Join(runRoot, "logs", "audit.jsonl"), line)
}

func appendLine(path string, line []byte) *errs.Error {
	return store.AppendLine(path, line)
}
