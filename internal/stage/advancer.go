// Package stage implements the stage advancer (C7): transition rules,
// artifact-existence preconditions, cap enforcement, and pivot/review
// decision parsing, grounded on the teacher's StageService status
// aggregation logic (pkg/services/stage_service.go UpdateStageStatus),
// generalized from ent-backed success-policy aggregation to file-backed
// precondition checks against the fixed adjacency graph in spec
// section 4.2.
package stage

import (
	"os"
	"path/filepath"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// TransitionResult is the {from, to, decision.inputs_digest,
// manifest_revision} contract spec section 4.2 names.
type TransitionResult struct {
	From             schema.Stage
	To               schema.Stage
	InputsDigest     string
	ManifestRevision int
}

// reviewCycleCount counts how many times the manifest's history already
// recorded a review->synthesis transition, enforced against
// limits.max_review_iterations (invariant 12).
func reviewCycleCount(history []schema.HistoryEntry) int {
	n := 0
	for _, h := range history {
		if h.From == schema.StageReview && h.To == schema.StageSynthesis {
			n++
		}
	}
	return n
}

func isNonEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

// Advance checks the precondition for (from, requestedTo), and if
// satisfied, records the transition via internal/manifest.
// requestedTo must be present in schema.Adjacency[from]; any other value
// is REQUESTED_NEXT_NOT_ALLOWED.
func Advance(runRoot string, expectedManifestRevision *int, from, requestedTo schema.Stage, reason, inputsDigest string, gatesDoc *schema.Gates) (*TransitionResult, *errs.Error) {
	if !schema.AllowedTransition(from, requestedTo) {
		return nil, errs.New(errs.RequestedNextNotAllowed, "requested stage is not reachable from current stage", errs.D("from", from, "to", requestedTo))
	}

	if e := checkPrecondition(runRoot, from, requestedTo, gatesDoc); e != nil {
		return nil, e
	}

	newStatus := schema.StatusRunning
	if requestedTo == schema.StageFinalize {
		newStatus = schema.StatusCompleted
	}

	m, e := manifest.RecordTransition(runRoot, expectedManifestRevision, from, requestedTo, reason, inputsDigest, gatesDoc.Revision, newStatus)
	if e != nil {
		return nil, e
	}
	return &TransitionResult{From: from, To: requestedTo, InputsDigest: inputsDigest, ManifestRevision: m.Revision}, nil
}

func checkPrecondition(runRoot string, from, to schema.Stage, gatesDoc *schema.Gates) *errs.Error {
	switch {
	case from == schema.StageInit && to == schema.StageWave1:
		if !store.Exists(filepath.Join(runRoot, "perspectives.json")) {
			return errs.New(errs.MissingArtifact, "perspectives.json does not exist", errs.D("edge", "init->wave1"))
		}
	case from == schema.StageWave1 && to == schema.StagePivot:
		if !isNonEmptyDir(filepath.Join(runRoot, "wave-1")) {
			return errs.New(errs.MissingArtifact, "wave-1 directory is empty", errs.D("edge", "wave1->pivot"))
		}
		if !store.Exists(filepath.Join(runRoot, "wave-review.json")) {
			return errs.New(errs.MissingArtifact, "wave-review.json does not exist", errs.D("edge", "wave1->pivot"))
		}
		if e := requireGatePass(gatesDoc, schema.GateB); e != nil {
			return e
		}
	case from == schema.StagePivot && to == schema.StageWave2:
		pivot, e := readPivot(runRoot)
		if e != nil {
			return e
		}
		required, e := pivotWave2Required(pivot)
		if e != nil {
			return e
		}
		if !required {
			return errs.New(errs.LifecycleRuleViolation, "pivot decision does not require wave2", nil)
		}
	case from == schema.StagePivot && to == schema.StageCitations:
		pivot, e := readPivot(runRoot)
		if e != nil {
			return e
		}
		required, e := pivotWave2Required(pivot)
		if e != nil {
			return e
		}
		if required {
			return errs.New(errs.LifecycleRuleViolation, "pivot decision requires wave2 first", nil)
		}
	case from == schema.StageWave2 && to == schema.StageCitations:
		// no additional precondition beyond the adjacency check itself.
	case from == schema.StageCitations && to == schema.StageSummaries:
		if e := requireGatePass(gatesDoc, schema.GateC); e != nil {
			return e
		}
		if !store.Exists(filepath.Join(runRoot, "citations", "citations.jsonl")) {
			return errs.New(errs.MissingArtifact, "citations.jsonl does not exist", errs.D("edge", "citations->summaries"))
		}
	case from == schema.StageSummaries && to == schema.StageSynthesis:
		if e := requireGatePass(gatesDoc, schema.GateD); e != nil {
			return e
		}
		if !store.Exists(filepath.Join(runRoot, "summaries", "summary-pack.json")) {
			return errs.New(errs.MissingArtifact, "summary-pack.json does not exist", errs.D("edge", "summaries->synthesis"))
		}
	case from == schema.StageSynthesis && to == schema.StageReview:
		if !store.Exists(filepath.Join(runRoot, "synthesis", "final-synthesis.md")) {
			return errs.New(errs.MissingArtifact, "final-synthesis.md does not exist", errs.D("edge", "synthesis->review"))
		}
	case from == schema.StageReview && to == schema.StageSynthesis:
		bundle, e := readReviewBundle(runRoot)
		if e != nil {
			return e
		}
		if bundle.Decision != schema.ReviewChangesRequired {
			return errs.New(errs.LifecycleRuleViolation, "review decision is not CHANGES_REQUIRED", nil)
		}
	case from == schema.StageReview && to == schema.StageFinalize:
		if e := requireGatePass(gatesDoc, schema.GateE); e != nil {
			return e
		}
		if e := requireGatePass(gatesDoc, schema.GateF); e != nil {
			return e
		}
	}
	return nil
}

// CheckReviewCap returns ReviewCapExceeded when the review history
// already contains max_review_iterations review->synthesis transitions.
func CheckReviewCap(history []schema.HistoryEntry, maxReviewIterations int) *errs.Error {
	if reviewCycleCount(history) >= maxReviewIterations {
		return errs.New(errs.ReviewCapExceeded, "review iteration cap reached", errs.D("max_review_iterations", maxReviewIterations))
	}
	return nil
}

// CheckWave2Cap enforces |wave2_gap_ids| <= max_wave2_agents.
func CheckWave2Cap(gapIDs []string, maxWave2Agents int) *errs.Error {
	if len(gapIDs) > maxWave2Agents {
		return errs.New(errs.WaveCapExceeded, "wave2 gap count exceeds max_wave2_agents", errs.D("gap_count", len(gapIDs), "max", maxWave2Agents))
	}
	return nil
}

func requireGatePass(g *schema.Gates, id schema.GateID) *errs.Error {
	gate, ok := g.Gates[id]
	if !ok || gate.Status != schema.GatePass {
		status := schema.GateNotRun
		if ok {
			status = gate.Status
		}
		return errs.New(errs.GateBlocked, "required gate is not passing", errs.D("gate", id, "status", status))
	}
	return nil
}

func readPivot(runRoot string) (*schema.Pivot, *errs.Error) {
	var p schema.Pivot
	if e := store.ReadJSON(filepath.Join(runRoot, "pivot.json"), &p); e != nil {
		if e.Code == errs.NotFound {
			return nil, errs.New(errs.MissingArtifact, "pivot.json does not exist", nil)
		}
		return nil, e
	}
	return &p, nil
}

// pivotWave2Required resolves the nested decision.wave2_required,
// falling back to the legacy top-level run_wave2 only when the nested
// field is absent. If both are present and disagree, it is
// SCHEMA_VALIDATION_FAILED rather than guessed (design notes open
// question 2).
func pivotWave2Required(p *schema.Pivot) (bool, *errs.Error) {
	if p.Decision.Wave2Required != nil {
		if p.RunWave2 != nil && *p.RunWave2 != *p.Decision.Wave2Required {
			return false, errs.New(errs.SchemaValidationFailed, "pivot.decision.wave2_required disagrees with legacy run_wave2", errs.D("nested", *p.Decision.Wave2Required, "legacy", *p.RunWave2))
		}
		return *p.Decision.Wave2Required, nil
	}
	if p.RunWave2 != nil {
		return *p.RunWave2, nil
	}
	return false, errs.New(errs.SchemaValidationFailed, "pivot.json carries neither decision.wave2_required nor run_wave2", nil)
}

func readReviewBundle(runRoot string) (*schema.ReviewBundle, *errs.Error) {
	var b schema.ReviewBundle
	path := filepath.Join(runRoot, "review", "review-bundle.json")
	if e := store.ReadJSON(path, &b); e != nil {
		if e.Code == errs.NotFound {
			return nil, errs.New(errs.MissingArtifact, "review-bundle.json does not exist", nil)
		}
		return nil, e
	}
	return &b, nil
}
