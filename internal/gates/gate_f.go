package gates

import (
	"context"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// RolloutSafetyEvaluator implements gate F: if the citations mode is
// online, at least one endpoint (Bright Data or Apify) must be
// configured unless the query's sensitivity is no_web. Unlike the other
// evaluators, this one needs operator configuration state that doesn't
// live under the run root, so the tick orchestrator populates the
// fields below from the resolved CLI/config before calling Evaluate.
type RolloutSafetyEvaluator struct {
	CitationsMode        string // "offline" | "online"
	Sensitivity          schema.Sensitivity
	BrightDataConfigured bool
	ApifyConfigured      bool
}

func (e *RolloutSafetyEvaluator) Evaluate(_ context.Context, _ string) (*Result, *errs.Error) {
	if e.CitationsMode != "online" || e.Sensitivity == schema.SensitivityNoWeb {
		digest, derr := store.SHA256DigestForJSON(map[string]any{"mode": e.CitationsMode, "sensitivity": e.Sensitivity})
		if derr != nil {
			return nil, errs.Wrap(errs.InvalidJSON, "digest rollout safety inputs", derr, nil)
		}
		return &Result{Status: schema.GatePass, InputsDigest: digest}, nil
	}
	if !e.BrightDataConfigured && !e.ApifyConfigured {
		digest, _ := store.SHA256DigestForJSON(map[string]any{"mode": e.CitationsMode, "sensitivity": e.Sensitivity})
		return &Result{
			Status:       schema.GateFail,
			Warnings:     []string{"NO_ONLINE_ENDPOINT_CONFIGURED"},
			InputsDigest: digest,
		}, nil
	}
	digest, derr := store.SHA256DigestForJSON(map[string]any{"mode": e.CitationsMode, "sensitivity": e.Sensitivity})
	if derr != nil {
		return nil, errs.Wrap(errs.InvalidJSON, "digest rollout safety inputs", derr, nil)
	}
	return &Result{Status: schema.GatePass, InputsDigest: digest}, nil
}
