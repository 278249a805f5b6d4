package gates

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

var citationMarkerRe = regexp.MustCompile(`\[@([A-Za-z0-9_.:-]+)\]`)

// SynthesisQualityEvaluator implements gate E: every required heading
// must be present in final-synthesis.md, every [@cid] marker must
// resolve to a valid citation, and the numeric-claims and sections
// reports (written by the review stage's gate_e_reports step) must both
// report pass=true. Gate E is classed soft: failures route back through
// the review cycle rather than blocking advancement outright.
type SynthesisQualityEvaluator struct{}

func (e *SynthesisQualityEvaluator) Evaluate(_ context.Context, runRoot string) (*Result, *errs.Error) {
	synthesisPath := filepath.Join(runRoot, "synthesis", "final-synthesis.md")
	body, re := store.ReadText(synthesisPath)
	if re != nil {
		if re.Code == errs.NotFound {
			return &Result{Status: schema.GateFail, Notes: "final-synthesis.md missing", Warnings: []string{"MISSING_SYNTHESIS"}}, nil
		}
		return nil, re
	}
	text := string(body)

	var warnings []string
	for _, heading := range schema.RequiredSynthesisHeadings {
		if !headingPresent(text, heading) {
			warnings = append(warnings, "MISSING_HEADING:"+heading)
		}
	}

	cids := citationMarkerRe.FindAllStringSubmatch(text, -1)
	if len(cids) == 0 {
		warnings = append(warnings, "NO_CITATION_MARKERS")
	}

	validCIDs, re := loadValidCIDs(runRoot)
	if re != nil {
		return nil, re
	}
	for _, m := range cids {
		cid := m[1]
		if !validCIDs[cid] {
			warnings = append(warnings, "UNKNOWN_OR_INVALID_CID:"+cid)
		}
	}

	for _, kind := range []string{"numeric-claims", "sections"} {
		reportPath := filepath.Join(runRoot, "reports", "gate-e-"+kind+".json")
		var report schema.GateEReport
		if rre := store.ReadJSON(reportPath, &report); rre != nil {
			if rre.Code == errs.NotFound {
				warnings = append(warnings, "MISSING_REPORT:"+kind)
				continue
			}
			return nil, rre
		}
		if !report.Pass {
			warnings = append(warnings, "REPORT_FAILED:"+kind)
		}
	}

	digest, derr := store.SHA256DigestForJSON(map[string]any{"synthesis_sha256": store.SHA256HexLowerUTF8(text)})
	if derr != nil {
		return nil, errs.Wrap(errs.InvalidJSON, "digest synthesis", derr, nil)
	}

	status := schema.GatePass
	if len(warnings) > 0 {
		status = schema.GateWarn
	}
	return &Result{Status: status, Warnings: warnings, InputsDigest: digest}, nil
}

func headingPresent(text, heading string) bool {
	re := regexp.MustCompile(`(?m)^#{1,6}\s*` + regexp.QuoteMeta(heading) + `\s*$`)
	return re.MatchString(text)
}

func loadValidCIDs(runRoot string) (map[string]bool, *errs.Error) {
	path := filepath.Join(runRoot, "citations", "citations.jsonl")
	lines, re := store.ReadLines(path)
	if re != nil {
		return nil, re
	}
	out := make(map[string]bool, len(lines))
	for _, line := range lines {
		var c schema.Citation
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, errs.Wrap(errs.InvalidJSON, "parse citation record", err, errs.D("path", path))
		}
		if c.Status == schema.CitationValid {
			out[c.CID] = true
		}
	}
	return out, nil
}
