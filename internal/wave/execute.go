package wave

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/resorch/resorch/internal/agentdriver"
	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// PerspectiveOutcome is the per-entry result of ExecuteEntry.
type PerspectiveOutcome struct {
	PerspectiveID string
	Skipped       bool // sidecar already fresh; driver was not invoked
	Failures      []ValidationFailure
}

// Pass reports whether this perspective's output satisfies its contract.
func (o PerspectiveOutcome) Pass() bool { return len(o.Failures) == 0 }

func sidecarPath(outputMD string) string {
	ext := filepath.Ext(outputMD)
	return strings.TrimSuffix(outputMD, ext) + ".meta.json"
}

// BuildPromptMD renders the markdown prompt handed to the agent driver,
// appending a "## Retry Directive" section when one is active for this
// perspective, per spec section 4.5.2 step 2.
func BuildPromptMD(p schema.Perspective, directive *schema.RetryDirective) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "Track: %s\n\n", p.Track)
	fmt.Fprintf(&b, "Respond with sections: %s.\n", strings.Join(p.PromptContract.MustIncludeSections, ", "))
	fmt.Fprintf(&b, "Limits: max_words=%d max_sources=%d tool_budget=%d.\n",
		p.PromptContract.MaxWords, p.PromptContract.MaxSources, p.PromptContract.ToolBudget)
	if directive != nil {
		fmt.Fprintf(&b, "\n## Retry Directive\n\n%s: %s\n", directive.Reason, directive.Instruction)
	}
	return b.String()
}

// ExecuteEntry runs one plan entry: checks sidecar freshness, invokes
// the driver if needed, validates the output against the perspective's
// contract, and ingests the result by temp write and rename, keeping a
// ".bak" copy of any prior output. The tick drivers do not restore those
// copies when a later entry in the same wave fails, so entries ingested
// before the failure keep their new output.
func ExecuteEntry(
	ctx context.Context,
	runRoot, runID string,
	stg schema.Stage,
	entry schema.Wave1PlanEntry,
	perspective schema.Perspective,
	directive *schema.RetryDirective,
	driver agentdriver.AgentDriver,
) (*PerspectiveOutcome, *errs.Error) {
	promptMD := BuildPromptMD(perspective, directive)
	promptDigest := store.PromptDigest(promptMD)

	outputPath, we := store.WithinRoot(runRoot, entry.OutputMD)
	if we != nil {
		return nil, we
	}
	sidecar := sidecarPath(outputPath)

	if directive == nil {
		var existing schema.WaveOutputSidecar
		if e := store.ReadJSON(sidecar, &existing); e == nil && existing.PromptDigest == promptDigest {
			return &PerspectiveOutcome{PerspectiveID: entry.PerspectiveID, Skipped: true}, nil
		}
	}

	out, e := driver.RunAgent(ctx, agentdriver.RunAgentInput{
		RunID:         runID,
		Stage:         string(stg),
		RunRoot:       runRoot,
		PerspectiveID: entry.PerspectiveID,
		AgentType:     entry.AgentType,
		PromptMD:      promptMD,
		OutputMD:      entry.OutputMD,
	})
	if e != nil {
		return nil, e
	}
	if strings.TrimSpace(out.Markdown) == "" {
		return nil, errs.New(errs.SchemaValidationFailed, "driver returned empty markdown", errs.D("perspective_id", entry.PerspectiveID))
	}

	if ie := ingestOutput(outputPath, out.Markdown); ie != nil {
		return nil, ie
	}

	failures := ValidateContract(out.Markdown, perspective.PromptContract, 0)

	now := time.Now().UTC()
	sc := schema.WaveOutputSidecar{
		SchemaVersion:   schema.WaveOutputSidecarSchemaVersion,
		PromptDigest:    promptDigest,
		AgentRunID:      out.AgentRunID,
		IngestedAt:      now,
		SourceInputPath: entry.OutputMD,
		Model:           out.Model,
	}
	if out.StartedAt != "" {
		if t, perr := time.Parse(time.RFC3339, out.StartedAt); perr == nil {
			sc.StartedAt = &t
		}
	}
	if out.FinishedAt != "" {
		if t, perr := time.Parse(time.RFC3339, out.FinishedAt); perr == nil {
			sc.FinishedAt = &t
		}
	}
	if se := store.AtomicWriteJSON(sidecar, sc); se != nil {
		return nil, se
	}

	return &PerspectiveOutcome{PerspectiveID: entry.PerspectiveID, Failures: failures}, nil
}

// ingestOutput writes markdown to path via a temporary file and rename,
// keeping a ".bak" copy of any prior content so a caller orchestrating a
// multi-perspective batch can restore it if a later perspective in the
// same wave fails irrecoverably (spec section 4.5.2 step 3: "transactional
// commit of the whole wave").
func ingestOutput(path, markdown string) *errs.Error {
	if store.Exists(path) {
		prior, e := store.ReadText(path)
		if e != nil {
			return e
		}
		if we := store.AtomicWriteText(path+".bak", prior); we != nil {
			return we
		}
	}
	if e := store.AtomicWriteText(path, []byte(markdown)); e != nil {
		return e
	}
	return nil
}

// RestoreBackup reverts path to its ".bak" copy and removes the copy; it
// does nothing when no copy exists. No caller in this repository invokes
// it, so a partially-ingested wave is not rolled back.
func RestoreBackup(path string) *errs.Error {
	backup := path + ".bak"
	if !store.Exists(backup) {
		return nil
	}
	data, e := store.ReadText(backup)
	if e != nil {
		return e
	}
	if we := store.AtomicWriteText(path, data); we != nil {
		return we
	}
	return errWrapRemove(backup)
}

func errWrapRemove(path string) *errs.Error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.WriteFailed, "remove backup after restore", err, errs.D("path", path))
	}
	return nil
}
