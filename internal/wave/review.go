package wave

import (
	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/retry"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// ReviewPath returns wave-review.json's path.
func ReviewPath(runRoot string) string {
	return runRoot + "/wave-review.json"
}

// retryInstruction renders a human-readable fix-it instruction for a
// deferred validation failure, appended to the perspective's next prompt
// as a "## Retry Directive" section.
func retryInstruction(f ValidationFailure) string {
	switch f.Code {
	case errs.MissingRequiredSection:
		return "Add the missing section(s) and resubmit the full response."
	case errs.TooManyWords:
		return "Shorten the response to stay within the word budget."
	case errs.MalformedSources:
		return "Rewrite the Sources section as a bullet list of URLs."
	case errs.TooManySources:
		return "Reduce the number of sources cited to stay within budget."
	default:
		return "Revise the response to satisfy the prompt contract."
	}
}

// BuildReview assembles wave-review.json from a batch of per-perspective
// outcomes, writes it, and emits retry directives for any perspective
// whose failures are all deferrable. A perspective with a non-deferred
// failure is reported via the returned error instead, since those fail
// the tick immediately rather than looping through a retry.
func BuildReview(runRoot, runID string, stg schema.Stage, outcomes []PerspectiveOutcome) (*schema.WaveReview, []schema.RetryDirective, *errs.Error) {
	review := schema.WaveReview{
		SchemaVersion: schema.WaveReviewSchemaVersion,
	}

	var directives []schema.RetryDirective
	for _, o := range outcomes {
		result := schema.PerPerspectiveResult{PerspectiveID: o.PerspectiveID, Pass: o.Pass()}
		if o.Pass() {
			review.Validated++
		} else {
			for _, f := range o.Failures {
				result.Reasons = append(result.Reasons, string(f.Code))
				if !f.Deferred() {
					return nil, nil, errs.New(f.Code, f.Message, errs.D("perspective_id", o.PerspectiveID))
				}
			}
			review.Failed++
			for _, f := range o.Failures {
				directives = append(directives, schema.RetryDirective{
					PerspectiveID: o.PerspectiveID,
					Reason:        string(f.Code),
					Instruction:   retryInstruction(f),
				})
			}
		}
		review.Results = append(review.Results, result)
	}

	review.OK = review.Failed == 0
	review.Pass = review.OK && review.Validated > 0
	review.RetryDirectives = directives

	path, we := store.WithinRoot(runRoot, "wave-review.json")
	if we != nil {
		return nil, nil, we
	}
	if e := store.AtomicWriteJSON(path, review); e != nil {
		return nil, nil, e
	}
	return &review, directives, nil
}

// ApplyRetryOutcome folds this wave's retry directives into the run's
// retry bookkeeping: a clean wave marks any previous directives
// consumed; a wave with fresh directives writes them and reports
// RETRY_REQUIRED or RETRY_CAP_EXHAUSTED per the gate B cap, mirroring
// spec section 4.5.3.
func ApplyRetryOutcome(runRoot, runID string, stg schema.Stage, directives []schema.RetryDirective, retryCounts map[string]int) *errs.Error {
	if len(directives) == 0 {
		return retry.MarkConsumed(runRoot)
	}
	if e := retry.WriteDirectives(runRoot, runID, stg, directives, nil); e != nil {
		return e
	}
	_, _ = retry.RetryRecord(retryCounts, schema.GateB, "wave review emitted retry directives")
	return retry.CheckCap(retryCounts, schema.GateB)
}
