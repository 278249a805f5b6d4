// Package gates implements the gates writer (C5) and the gate evaluators
// (C6). The writer follows the same revision-safe patch-and-write
// discipline as internal/manifest; evaluators are pure functions of
// on-disk artifacts registered in a small id->evaluator map, the way the
// teacher registers named configuration entries in its AgentRegistry /
// ChainRegistry (pkg/config/config.go).
package gates

import (
	"path/filepath"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// Path returns the canonical gates.json path under a run root.
func Path(runRoot string) string {
	return filepath.Join(runRoot, "gates.json")
}

// Read loads and schema-validates the gates document at path.
func Read(path string) (*schema.Gates, *errs.Error) {
	var g schema.Gates
	if e := store.ReadJSON(path, &g); e != nil {
		return nil, e
	}
	if e := g.Validate(); e != nil {
		return nil, e
	}
	return &g, nil
}

// GatePatch is the whitelist of gate fields a caller may mutate: only
// status|checked_at|metrics|artifacts|warnings|notes, per spec
// section 4.3 step 3.
type GatePatch struct {
	ID        schema.GateID
	Status    schema.GateStatus
	CheckedAt time.Time
	Metrics   map[string]any
	Artifacts []string
	Warnings  []string
	Notes     string
}

// Write applies one gate's patch to gates.json under optimistic locking
// and re-validates the whole document before persisting.
func Write(runRoot string, expectedRevision *int, patch GatePatch, inputsDigest string) (*schema.Gates, *errs.Error) {
	if !schema.KnownGateID(patch.ID) {
		return nil, errs.New(errs.UnknownGateID, "unrecognized gate id", errs.D("id", patch.ID))
	}
	path := Path(runRoot)
	current, e := Read(path)
	if e != nil {
		return nil, e
	}
	if expectedRevision != nil && *expectedRevision != current.Revision {
		return nil, errs.New(errs.RevisionMismatch, "gates revision mismatch", errs.D("expected", *expectedRevision, "actual", current.Revision))
	}

	gate, ok := current.Gates[patch.ID]
	if !ok {
		return nil, errs.New(errs.UnknownGateID, "gate not present in document", errs.D("id", patch.ID))
	}
	checkedAt := patch.CheckedAt
	gate.Status = patch.Status
	gate.CheckedAt = &checkedAt
	gate.Metrics = patch.Metrics
	gate.Artifacts = patch.Artifacts
	gate.Warnings = patch.Warnings
	gate.Notes = patch.Notes

	current.UpdatedAt = time.Now().UTC()
	current.Revision++
	current.InputsDigest = inputsDigest

	if e := current.Validate(); e != nil {
		return nil, e
	}
	if e := store.AtomicWriteJSON(path, current); e != nil {
		return nil, e
	}
	if e := appendAudit(runRoot, "gate_patch", inputsDigest, errs.D("gate", patch.ID, "status", patch.Status, "revision", current.Revision)); e != nil {
		return nil, e
	}
	return current, nil
}

// NewInitial builds the initial gates.v1 document for a freshly created
// run: revision 1, every gate not_run.
func NewInitial() *schema.Gates {
	now := time.Now().UTC()
	return &schema.Gates{
		SchemaVersion: schema.GatesSchemaVersion,
		Revision:      1,
		UpdatedAt:     now,
		InputsDigest:  "",
		Gates:         schema.NewDefaultGates(),
	}
}

func appendAudit(runRoot, action, inputsDigest string, details map[string]any) *errs.Error {
	entry := schema.AuditEntry{TS: time.Now().UTC(), Action: action, InputsDigest: inputsDigest, Details: details}
	line, err := store.CanonicalizeJSON(entry)
	if err != nil {
		return errs.Wrap(errs.WriteFailed, "canonicalize audit entry", err, nil)
	}
	return store.AppendLine(filepath.Join(runRoot, "logs", "audit.jsonl"), line)
}
