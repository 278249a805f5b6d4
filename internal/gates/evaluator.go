package gates

import (
	"context"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
)

// Result is what a pure gate evaluator returns: it never mutates state,
// only describes the patch the caller should apply via Write.
type Result struct {
	Status       schema.GateStatus
	Metrics      map[string]any
	Warnings     []string
	Notes        string
	InputsDigest string
}

// Evaluator is a pure function of on-disk run-root state for one gate.
type Evaluator interface {
	Evaluate(ctx context.Context, runRoot string) (*Result, *errs.Error)
}

// Registry maps a gate id to its evaluator, generalizing the teacher's
// named-entry registries (pkg/config/config.go AgentRegistry /
// ChainRegistry) to gate evaluators.
type Registry map[schema.GateID]Evaluator

// NewRegistry builds the standard A-F evaluator registry.
func NewRegistry(limits schema.Limits, policy schema.RunPolicy) Registry {
	return Registry{
		schema.GateA: &PlanningCompletenessEvaluator{},
		schema.GateB: &WaveOutputContractEvaluator{},
		schema.GateC: &CitationIntegrityEvaluator{},
		schema.GateD: &SummaryBoundednessEvaluator{Limits: limits},
		schema.GateE: &SynthesisQualityEvaluator{},
		schema.GateF: &RolloutSafetyEvaluator{},
	}
}

// Get resolves an evaluator by id or UNKNOWN_GATE_ID.
func (r Registry) Get(id schema.GateID) (Evaluator, *errs.Error) {
	e, ok := r[id]
	if !ok {
		return nil, errs.New(errs.UnknownGateID, "unrecognized gate id", errs.D("id", id))
	}
	return e, nil
}
