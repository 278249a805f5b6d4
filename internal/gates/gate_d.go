package gates

import (
	"context"
	"path/filepath"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// SummaryBoundednessEvaluator implements gate D: sum(size_kb) must not
// exceed limits.max_total_summary_kb, and each entry must not exceed
// limits.max_summary_kb.
type SummaryBoundednessEvaluator struct {
	Limits schema.Limits
}

func (e *SummaryBoundednessEvaluator) Evaluate(_ context.Context, runRoot string) (*Result, *errs.Error) {
	path := filepath.Join(runRoot, "summaries", "summary-pack.json")
	var pack schema.SummaryPack
	if re := store.ReadJSON(path, &pack); re != nil {
		if re.Code == errs.NotFound {
			return &Result{Status: schema.GateFail, Notes: "summary-pack.json missing", Warnings: []string{"MISSING_SUMMARY_PACK"}}, nil
		}
		return nil, re
	}

	var warnings []string
	var total float64
	for _, entry := range pack.Entries {
		total += entry.SizeKB
		if e.Limits.MaxSummaryKB > 0 && entry.SizeKB > float64(e.Limits.MaxSummaryKB) {
			warnings = append(warnings, "ENTRY_EXCEEDS_MAX_SUMMARY_KB:"+entry.PerspectiveID)
		}
	}
	if e.Limits.MaxTotalSummaryKB > 0 && total > float64(e.Limits.MaxTotalSummaryKB) {
		warnings = append(warnings, "TOTAL_EXCEEDS_MAX_TOTAL_SUMMARY_KB")
	}

	digest, derr := store.SHA256DigestForJSON(pack)
	if derr != nil {
		return nil, errs.Wrap(errs.InvalidJSON, "digest summary pack", derr, nil)
	}

	status := schema.GatePass
	if len(warnings) > 0 {
		status = schema.GateFail
	}
	return &Result{
		Status:       status,
		Metrics:      map[string]any{"total_size_kb": total, "entry_count": len(pack.Entries)},
		Warnings:     warnings,
		InputsDigest: digest,
	}, nil
}
