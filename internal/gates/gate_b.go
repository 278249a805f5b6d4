package gates

import (
	"context"
	"path/filepath"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// WaveOutputContractEvaluator implements gate B, derived from
// wave-review.json per spec section 4.4: require ok=true and pass=true,
// validated>0, failed=0, no pending retry directives, |results|=validated
// and every result passes. Any violation fails with a named warning.
type WaveOutputContractEvaluator struct{}

func (e *WaveOutputContractEvaluator) Evaluate(_ context.Context, runRoot string) (*Result, *errs.Error) {
	path := filepath.Join(runRoot, "wave-review.json")
	var wr schema.WaveReview
	if re := store.ReadJSON(path, &wr); re != nil {
		if re.Code == errs.NotFound {
			return &Result{Status: schema.GateFail, Notes: "wave-review.json missing", Warnings: []string{"MISSING_WAVE_REVIEW"}}, nil
		}
		return nil, re
	}

	var warnings []string
	ok := wr.OK && wr.Pass
	if !ok {
		warnings = append(warnings, "WAVE_REVIEW_NOT_OK_OR_NOT_PASS")
	}
	if wr.Validated <= 0 {
		warnings = append(warnings, "NO_VALIDATED_OUTPUTS")
	}
	if wr.Failed != 0 {
		warnings = append(warnings, "FAILED_OUTPUTS_PRESENT")
	}
	if len(wr.RetryDirectives) != 0 {
		warnings = append(warnings, "PENDING_RETRY_DIRECTIVES")
	}
	if len(wr.Results) != wr.Validated {
		warnings = append(warnings, "RESULT_COUNT_MISMATCH")
	}
	for _, r := range wr.Results {
		if !r.Pass {
			warnings = append(warnings, "RESULT_NOT_PASS:"+r.PerspectiveID)
		}
	}

	digest, derr := store.SHA256DigestForJSON(wr)
	if derr != nil {
		return nil, errs.Wrap(errs.InvalidJSON, "digest wave review", derr, nil)
	}

	status := schema.GatePass
	if len(warnings) > 0 {
		status = schema.GateFail
	}
	return &Result{
		Status:       status,
		Metrics:      map[string]any{"validated": wr.Validated, "failed": wr.Failed},
		Warnings:     warnings,
		InputsDigest: digest,
	}, nil
}
