// Package review implements the review factory and Gate E reports
// (C12), per spec.md §4.4/§4.8. Grounded on internal/gates'
// SynthesisQualityEvaluator (which consumes the two reports this
// package writes) and on the teacher's reviewer-decision style in
// pkg/services (a bundle of findings collapsed into one decision).
package review

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/gates"
	"github.com/resorch/resorch/internal/retry"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// ReviewBundlePath returns review/review-bundle.json's path.
func ReviewBundlePath(runRoot string) string {
	return filepath.Join(runRoot, "review", "review-bundle.json")
}

// RunFactory collapses a set of findings into one decision: any
// "blocking" severity finding forces CHANGES_REQUIRED, otherwise PASS.
func RunFactory(runRoot string, findings []schema.Finding, now time.Time) (*schema.ReviewBundle, *errs.Error) {
	decision := schema.ReviewPass
	for _, f := range findings {
		if strings.EqualFold(f.Severity, "blocking") {
			decision = schema.ReviewChangesRequired
			break
		}
	}
	bundle := &schema.ReviewBundle{
		SchemaVersion: schema.ReviewBundleSchemaVersion,
		Decision:      decision,
		Findings:      findings,
		GeneratedAt:   now,
	}
	path, we := store.WithinRoot(runRoot, filepath.Join("review", "review-bundle.json"))
	if we != nil {
		return nil, we
	}
	if e := store.AtomicWriteJSON(path, bundle); e != nil {
		return nil, e
	}
	return bundle, nil
}

var numericPattern = regexp.MustCompile(`\b\d+(\.\d+)?%?\b`)
var citationRefPattern = regexp.MustCompile(`\[@([A-Za-z0-9_.:-]+)\]`)

// WriteNumericClaimsReport flags every sentence that contains a numeric
// token but no [@cid] citation marker (a bare, uncited numeric claim),
// writing reports/gate-e-numeric-claims.json for Gate E to consume.
func WriteNumericClaimsReport(runRoot, markdown string) (*schema.GateEReport, *errs.Error) {
	var details []string
	for _, sentence := range splitSentences(markdown) {
		if !numericPattern.MatchString(sentence) {
			continue
		}
		if !citationRefPattern.MatchString(sentence) {
			details = append(details, "uncited numeric claim: "+strings.TrimSpace(sentence))
		}
	}
	report := &schema.GateEReport{
		SchemaVersion: "gate_e_report.v1",
		Kind:          "numeric-claims",
		Pass:          len(details) == 0,
		Details:       details,
	}
	path, we := store.WithinRoot(runRoot, filepath.Join("reports", "gate-e-numeric-claims.json"))
	if we != nil {
		return nil, we
	}
	if e := store.AtomicWriteJSON(path, report); e != nil {
		return nil, e
	}
	return report, nil
}

// WriteSectionsReport checks that every required synthesis heading is
// present, writing reports/gate-e-sections.json.
func WriteSectionsReport(runRoot, markdown string) (*schema.GateEReport, *errs.Error) {
	var details []string
	for _, heading := range schema.RequiredSynthesisHeadings {
		if !hasHeading(markdown, heading) {
			details = append(details, "missing heading: "+heading)
		}
	}
	report := &schema.GateEReport{
		SchemaVersion: "gate_e_report.v1",
		Kind:          "sections",
		Pass:          len(details) == 0,
		Details:       details,
	}
	path, we := store.WithinRoot(runRoot, filepath.Join("reports", "gate-e-sections.json"))
	if we != nil {
		return nil, we
	}
	if e := store.AtomicWriteJSON(path, report); e != nil {
		return nil, e
	}
	return report, nil
}

func hasHeading(markdown, heading string) bool {
	want := strings.ToLower(strings.TrimSpace(heading))
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.ToLower(strings.TrimLeft(trimmed, "# ")) == want {
			return true
		}
	}
	return false
}

func splitSentences(text string) []string {
	replaced := strings.NewReplacer("\n", " ").Replace(text)
	parts := strings.FieldsFunc(replaced, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	return parts
}

// EvaluateGateE runs the SynthesisQualityEvaluator and writes its
// result, per the standard gate-evaluate-then-write pattern.
func EvaluateGateE(runRoot string, expectedRevision *int, now time.Time) (*schema.Gates, *errs.Error) {
	return evaluateAndWrite(runRoot, schema.GateE, &gates.SynthesisQualityEvaluator{}, expectedRevision, now)
}

// EvaluateGateF runs the RolloutSafetyEvaluator (pre-populated with
// operator config by the caller) and writes its result.
func EvaluateGateF(runRoot string, evaluator *gates.RolloutSafetyEvaluator, expectedRevision *int, now time.Time) (*schema.Gates, *errs.Error) {
	return evaluateAndWrite(runRoot, schema.GateF, evaluator, expectedRevision, now)
}

func evaluateAndWrite(runRoot string, id schema.GateID, evaluator gates.Evaluator, expectedRevision *int, now time.Time) (*schema.Gates, *errs.Error) {
	result, e := evaluator.Evaluate(context.Background(), runRoot)
	if e != nil {
		return nil, e
	}
	return gates.Write(runRoot, expectedRevision, gates.GatePatch{
		ID:        id,
		Status:    result.Status,
		CheckedAt: now,
		Metrics:   result.Metrics,
		Warnings:  result.Warnings,
		Notes:     result.Notes,
	}, result.InputsDigest)
}

// ResolveReviewCycle derives the revision_control action for this
// review cycle. A revise action under gate E's retry cap is a normal,
// successful transition back to synthesis (spec section 4.2); only a
// revise action that has exhausted gate E's retry cap is surfaced as a
// blocking error, mirroring spec section 4.6.
func ResolveReviewCycle(bundle *schema.ReviewBundle, gateEStatus schema.GateStatus, retryCounts map[string]int, reviewCapExceeded bool) (retry.Action, *errs.Error) {
	action := retry.ResolveAction(gateEStatus, bundle.Decision, reviewCapExceeded)
	if action != retry.ActionRevise {
		return action, nil
	}
	_, _ = retry.RetryRecord(retryCounts, schema.GateE, "review cycle requested changes")
	if capErr := retry.CheckCap(retryCounts, schema.GateE); capErr != nil && capErr.Code == errs.RetryCapExhausted {
		return action, capErr
	}
	return action, nil
}
