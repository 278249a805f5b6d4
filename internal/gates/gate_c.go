package gates

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// DefaultMinValidRatio and DefaultMaxBlockedCount are the default thresholds gate C
// applies to citations.jsonl. They are conservative defaults, not a
// spec-mandated constant; a deployment tightening citation quality bars
// can construct CitationIntegrityEvaluator directly with different
// values.
const (
	DefaultMinValidRatio   = 0.5
	DefaultMaxBlockedCount = 10
)

// CitationIntegrityEvaluator implements gate C: thresholds on the
// valid-ratio and blocked count observed in citations.jsonl.
type CitationIntegrityEvaluator struct {
	MinValidRatio   float64
	MaxBlockedCount int
}

func (e *CitationIntegrityEvaluator) thresholds() (float64, int) {
	minRatio := e.MinValidRatio
	if minRatio == 0 {
		minRatio = DefaultMinValidRatio
	}
	maxBlocked := e.MaxBlockedCount
	if maxBlocked == 0 {
		maxBlocked = DefaultMaxBlockedCount
	}
	return minRatio, maxBlocked
}

func (e *CitationIntegrityEvaluator) Evaluate(_ context.Context, runRoot string) (*Result, *errs.Error) {
	path := filepath.Join(runRoot, "citations", "citations.jsonl")
	lines, re := store.ReadLines(path)
	if re != nil {
		return nil, re
	}
	if len(lines) == 0 {
		return &Result{Status: schema.GateFail, Notes: "citations.jsonl missing or empty", Warnings: []string{"MISSING_CITATIONS"}}, nil
	}

	var valid, blocked, invalid int
	var records []schema.Citation
	for _, line := range lines {
		var c schema.Citation
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, errs.Wrap(errs.InvalidJSON, "parse citation record", err, errs.D("path", path))
		}
		records = append(records, c)
		switch c.Status {
		case schema.CitationValid:
			valid++
		case schema.CitationBlocked:
			blocked++
		case schema.CitationInvalid:
			invalid++
		}
	}

	minRatio, maxBlocked := e.thresholds()
	total := len(records)
	ratio := float64(valid) / float64(total)

	var warnings []string
	if ratio < minRatio {
		warnings = append(warnings, "VALID_RATIO_BELOW_THRESHOLD")
	}
	if blocked > maxBlocked {
		warnings = append(warnings, "BLOCKED_COUNT_ABOVE_THRESHOLD")
	}

	digest, derr := store.SHA256DigestForJSON(records)
	if derr != nil {
		return nil, errs.Wrap(errs.InvalidJSON, "digest citations", derr, nil)
	}

	status := schema.GatePass
	if len(warnings) > 0 {
		status = schema.GateFail
	}
	return &Result{
		Status: status,
		Metrics: map[string]any{
			"total": total, "valid": valid, "blocked": blocked, "invalid": invalid, "valid_ratio": ratio,
		},
		Warnings:     warnings,
		InputsDigest: digest,
	}, nil
}
