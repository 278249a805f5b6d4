package schema

import (
	"time"

	"github.com/resorch/resorch/internal/errs"
)

// GateID is one of the six named quality gates.
type GateID string

const (
	GateA GateID = "A"
	GateB GateID = "B"
	GateC GateID = "C"
	GateD GateID = "D"
	GateE GateID = "E"
	GateF GateID = "F"
)

// AllGateIDs lists every recognized gate, in evaluation order.
var AllGateIDs = []GateID{GateA, GateB, GateC, GateD, GateE, GateF}

func KnownGateID(id GateID) bool {
	for _, g := range AllGateIDs {
		if g == id {
			return true
		}
	}
	return false
}

// GateClass is hard (blocks advancement on fail) or soft (advisory).
type GateClass string

const (
	ClassHard GateClass = "hard"
	ClassSoft GateClass = "soft"
)

// GateStatus is the outcome of the most recent evaluation.
type GateStatus string

const (
	GateNotRun GateStatus = "not_run"
	GatePass   GateStatus = "pass"
	GateFail   GateStatus = "fail"
	GateWarn   GateStatus = "warn"
)

// Gate is one entry in gates.v1's map of gates A-F.
type Gate struct {
	ID        GateID         `json:"id"`
	Name      string         `json:"name"`
	Class     GateClass      `json:"class"`
	Status    GateStatus     `json:"status"`
	CheckedAt *time.Time     `json:"checked_at"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Artifacts []string       `json:"artifacts,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	Notes     string         `json:"notes,omitempty"`
}

// Validate enforces invariant 3: a hard gate may never carry warn, and a
// status other than not_run must carry a checked_at timestamp.
func (g *Gate) Validate() *errs.Error {
	if !KnownGateID(g.ID) {
		return errs.New(errs.UnknownGateID, "unrecognized gate id", errs.D("id", g.ID))
	}
	if g.Class == ClassHard && g.Status == GateWarn {
		return errs.New(errs.SchemaValidationFailed, "hard gate may not carry status warn", errs.D("gate", g.ID))
	}
	if g.Status != GateNotRun && g.CheckedAt == nil {
		return errs.New(errs.SchemaValidationFailed, "gate update requires checked_at", errs.D("gate", g.ID, "status", g.Status))
	}
	return nil
}

// Gates is the gates.v1 document.
type Gates struct {
	SchemaVersion string            `json:"schema_version"`
	Revision      int               `json:"revision"`
	UpdatedAt     time.Time         `json:"updated_at"`
	InputsDigest  string            `json:"inputs_digest"`
	Gates         map[GateID]*Gate  `json:"gates"`
}

const GatesSchemaVersion = "gates.v1"

func (g *Gates) Validate() *errs.Error {
	if g.SchemaVersion != GatesSchemaVersion {
		return errs.New(errs.SchemaValidationFailed, "unexpected gates schema_version", errs.D("got", g.SchemaVersion))
	}
	if g.Revision < 1 {
		return errs.New(errs.SchemaValidationFailed, "gates.revision must be >= 1", errs.D("revision", g.Revision))
	}
	for id, gate := range g.Gates {
		if gate.ID == "" {
			gate.ID = id
		}
		if e := gate.Validate(); e != nil {
			return e
		}
	}
	return nil
}

// NewDefaultGates builds an initial gates.v1 document with every gate in
// not_run, classed per spec section 4.4's hard/soft rules (A, B, C, D and
// F are hard — they block advancement directly; E is soft, since
// synthesis quality issues route back through the review cycle rather
// than blocking outright).
func NewDefaultGates() map[GateID]*Gate {
	names := map[GateID]string{
		GateA: "Planning completeness",
		GateB: "Wave output contract",
		GateC: "Citation validation integrity",
		GateD: "Summary pack boundedness",
		GateE: "Synthesis quality",
		GateF: "Rollout safety",
	}
	classes := map[GateID]GateClass{
		GateA: ClassHard, GateB: ClassHard, GateC: ClassHard,
		GateD: ClassHard, GateE: ClassSoft, GateF: ClassHard,
	}
	out := make(map[GateID]*Gate, len(AllGateIDs))
	for _, id := range AllGateIDs {
		out[id] = &Gate{ID: id, Name: names[id], Class: classes[id], Status: GateNotRun}
	}
	return out
}
