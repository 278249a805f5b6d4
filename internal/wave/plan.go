// Package wave implements the wave pipeline (C9): plan, execute,
// ingest, validate, review, and Gate B derivation for wave-1/wave-2
// perspective outputs. Grounded on the teacher's StageService phase
// methods (pkg/services/stage_service.go) for the
// snapshot-then-transactional-commit shape, generalized to the
// per-perspective wave contract of spec.md §4.5.
package wave

import (
	"fmt"
	"path/filepath"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// WaveDirName returns "wave-1" or "wave-2" for the given wave number.
func WaveDirName(wave int) string {
	return fmt.Sprintf("wave-%d", wave)
}

// PlanPath returns the plan artifact path for the given wave.
func PlanPath(runRoot string, wave int) string {
	name := "wave1-plan.json"
	if wave != 1 {
		name = fmt.Sprintf("wave%d-plan.json", wave)
	}
	return filepath.Join(runRoot, WaveDirName(wave), name)
}

// BuildPlan writes wave-<n>/wave<n>-plan.json with one entry per
// perspective and the perspectives digest, per spec section 4.5.1.
func BuildPlan(runRoot string, wave int, perspectives *schema.Perspectives) (*schema.Wave1Plan, *errs.Error) {
	digest, derr := store.SHA256DigestForJSON(perspectives)
	if derr != nil {
		return nil, errs.Wrap(errs.InvalidJSON, "digest perspectives", derr, nil)
	}

	waveDir := WaveDirName(wave)
	entries := make([]schema.Wave1PlanEntry, 0, len(perspectives.Items))
	for _, p := range perspectives.Items {
		if !store.ValidPathSegment(p.ID) {
			return nil, errs.New(errs.PathTraversal, "perspective id is not safe as a path segment", errs.D("id", p.ID))
		}
		promptMD := filepath.Join(waveDir, p.ID+".prompt.md")
		outputMD := filepath.Join(waveDir, p.ID+".md")
		if _, we := store.WithinRoot(runRoot, promptMD); we != nil {
			return nil, we
		}
		if _, we := store.WithinRoot(runRoot, outputMD); we != nil {
			return nil, we
		}
		entries = append(entries, schema.Wave1PlanEntry{
			PerspectiveID: p.ID,
			AgentType:     p.AgentType,
			PromptMD:      promptMD,
			OutputMD:      outputMD,
		})
	}
	plan := &schema.Wave1Plan{
		SchemaVersion:      schema.Wave1PlanSchemaVersion,
		PerspectivesDigest: digest,
		Entries:            entries,
	}
	planPath, we := store.WithinRoot(runRoot, PlanPath(runRoot, wave))
	if we != nil {
		return nil, we
	}
	if e := store.AtomicWriteJSON(planPath, plan); e != nil {
		return nil, e
	}
	return plan, nil
}

// LoadFreshPlan reads the existing plan for wave and rejects it with
// WAVE1_PLAN_STALE if its perspectives_digest no longer matches the
// current perspectives document.
func LoadFreshPlan(runRoot string, wave int, perspectives *schema.Perspectives) (*schema.Wave1Plan, *errs.Error) {
	path := PlanPath(runRoot, wave)
	var plan schema.Wave1Plan
	if e := store.ReadJSON(path, &plan); e != nil {
		return nil, e
	}
	digest, derr := store.SHA256DigestForJSON(perspectives)
	if derr != nil {
		return nil, errs.Wrap(errs.InvalidJSON, "digest perspectives", derr, nil)
	}
	if plan.PerspectivesDigest != digest {
		return nil, errs.New(errs.Wave1PlanStale, "wave plan perspectives_digest no longer matches perspectives.json", errs.D("plan_path", path))
	}
	return &plan, nil
}
