package gates

import (
	"context"
	"path/filepath"
	"time"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// PlanningCompletenessEvaluator implements gate A: perspectives.json must
// exist, validate, and carry at least one perspective with a coherent
// prompt contract.
type PlanningCompletenessEvaluator struct{}

func (e *PlanningCompletenessEvaluator) Evaluate(_ context.Context, runRoot string) (*Result, *errs.Error) {
	path := filepath.Join(runRoot, "perspectives.json")
	var p schema.Perspectives
	if re := store.ReadJSON(path, &p); re != nil {
		if re.Code == errs.NotFound {
			return &Result{Status: schema.GateFail, Notes: "perspectives.json missing", Warnings: []string{"MISSING_PERSPECTIVES"}}, nil
		}
		return nil, re
	}
	if ve := p.Validate(); ve != nil {
		return &Result{Status: schema.GateFail, Notes: "perspectives.json failed schema validation", Warnings: []string{string(ve.Code)}}, nil
	}
	if len(p.Items) == 0 {
		return &Result{Status: schema.GateFail, Notes: "no perspectives planned", Warnings: []string{"EMPTY_PLAN"}}, nil
	}

	digest, derr := store.SHA256DigestForJSON(p)
	if derr != nil {
		return nil, errs.Wrap(errs.InvalidJSON, "digest perspectives", derr, nil)
	}
	return &Result{
		Status:       schema.GatePass,
		Metrics:      map[string]any{"perspective_count": len(p.Items), "checked_at": time.Now().UTC()},
		InputsDigest: digest,
	}, nil
}
