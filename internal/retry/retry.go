// Package retry implements retry and revision control (C8): per-gate
// retry caps and the retry-directives artifact. Grounded on the
// attempt-counter/retry-vs-escalate pattern in the agentops phased
// processing reference material (handleGateRetry, resolveGateRetryAction)
// and the teacher's metrics.retry_counts bookkeeping style.
package retry

import (
	"path/filepath"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// Caps are the per-gate retry caps from spec section 4.6.
var Caps = map[schema.GateID]int{
	schema.GateA: 0,
	schema.GateB: 2,
	schema.GateC: 1,
	schema.GateD: 1,
	schema.GateE: 3,
	schema.GateF: 0,
}

// Action is the revision_control outcome consistent with gate E status
// and the review decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionRevise  Action = "revise"
	ActionAbort   Action = "abort"
)

// RetryRecord increments metrics.retry_counts[gateID] and returns the new
// count plus whether the cap for that gate has been exhausted.
func RetryRecord(counts map[string]int, gateID schema.GateID, _ string) (newCount int, capExhausted bool) {
	if counts == nil {
		counts = map[string]int{}
	}
	counts[string(gateID)]++
	newCount = counts[string(gateID)]
	cap, ok := Caps[gateID]
	if !ok {
		return newCount, false
	}
	return newCount, newCount > cap
}

// CheckCap reports RETRY_CAP_EXHAUSTED if counts[gateID] already exceeds
// the gate's cap, or RETRY_REQUIRED otherwise — the two outcomes
// spec section 4.5.3 names for a wave review that emitted retry
// directives.
func CheckCap(counts map[string]int, gateID schema.GateID) *errs.Error {
	cap, ok := Caps[gateID]
	if !ok {
		return errs.New(errs.UnknownGateID, "no retry cap configured for gate", errs.D("gate", gateID))
	}
	if counts[string(gateID)] > cap {
		return errs.New(errs.RetryCapExhausted, "retry cap exhausted for gate", errs.D("gate", gateID, "count", counts[string(gateID)], "cap", cap))
	}
	return errs.New(errs.RetryRequired, "retry required, cap not yet exhausted", errs.D("gate", gateID, "count", counts[string(gateID)], "cap", cap))
}

// WriteDirectives writes retry/retry-directives.json with consumed_at
// left null, as a fresh set of directives for the next prompt.
func WriteDirectives(runRoot string, runID string, stg schema.Stage, directives []schema.RetryDirective, deferred []string) *errs.Error {
	doc := schema.RetryDirectives{
		SchemaVersion:               schema.RetryDirectivesSchemaVersion,
		RunID:                       runID,
		Stage:                       stg,
		GeneratedAt:                 time.Now().UTC(),
		ConsumedAt:                  nil,
		RetryDirectivesList:         directives,
		DeferredValidationFailures: deferred,
	}
	return store.AtomicWriteJSON(path(runRoot), doc)
}

// MarkConsumed reads the current retry directives (if any) and sets
// consumed_at, called when a subsequent successful wave yields zero new
// retry directives.
func MarkConsumed(runRoot string) *errs.Error {
	p := path(runRoot)
	if !store.Exists(p) {
		return nil
	}
	var doc schema.RetryDirectives
	if e := store.ReadJSON(p, &doc); e != nil {
		return e
	}
	if doc.ConsumedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	doc.ConsumedAt = &now
	return store.AtomicWriteJSON(p, doc)
}

// Read loads the current retry directives, if present.
func Read(runRoot string) (*schema.RetryDirectives, *errs.Error) {
	p := path(runRoot)
	if !store.Exists(p) {
		return nil, nil
	}
	var doc schema.RetryDirectives
	if e := store.ReadJSON(p, &doc); e != nil {
		return nil, e
	}
	return &doc, nil
}

func path(runRoot string) string {
	return filepath.Join(runRoot, "retry", "retry-directives.json")
}

// ResolveAction derives the revision_control action from gate E's status
// and the review bundle's decision: an exhausted review cap or a failing
// gate E aborts; otherwise CHANGES_REQUIRED revises and any other
// decision approves, whatever gate E's non-fail status (pass, warn or
// not_run).
func ResolveAction(gateEStatus schema.GateStatus, reviewDecision schema.ReviewDecision, reviewCapExceeded bool) Action {
	if reviewCapExceeded {
		return ActionAbort
	}
	if gateEStatus == schema.GateFail {
		return ActionAbort
	}
	if reviewDecision == schema.ReviewChangesRequired {
		return ActionRevise
	}
	return ActionApprove
}
