package wave

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/agentdriver"
	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

func samplePerspectives() *schema.Perspectives {
	return &schema.Perspectives{
		SchemaVersion: schema.PerspectivesSchemaVersion,
		Items: []schema.Perspective{
			{
				ID: "p-A", Title: "Perspective A", Track: schema.TrackStandard, AgentType: "standard",
				PromptContract: schema.PromptContract{MaxWords: 500, MaxSources: 5, ToolBudget: 3, MustIncludeSections: []string{"Findings", "Sources"}},
			},
		},
	}
}

func TestBuildPlanAndFreshness(t *testing.T) {
	root := t.TempDir()
	ps := samplePerspectives()

	plan, e := BuildPlan(root, 1, ps)
	require.Nil(t, e)
	require.Len(t, plan.Entries, 1)
	require.Equal(t, "p-A", plan.Entries[0].PerspectiveID)

	fresh, e := LoadFreshPlan(root, 1, ps)
	require.Nil(t, e)
	require.Equal(t, plan.PerspectivesDigest, fresh.PerspectivesDigest)

	ps.Items = append(ps.Items, schema.Perspective{
		ID: "p-B", Track: schema.TrackContrarian, AgentType: "standard",
		PromptContract: schema.PromptContract{MaxWords: 100, MaxSources: 2},
	})
	_, e2 := LoadFreshPlan(root, 1, ps)
	require.NotNil(t, e2)
	require.Equal(t, string(errs.Wave1PlanStale), string(e2.Code))
}

func TestBuildPlanRejectsPathUnsafePerspectiveID(t *testing.T) {
	root := t.TempDir()
	ps := &schema.Perspectives{
		SchemaVersion: schema.PerspectivesSchemaVersion,
		Items: []schema.Perspective{
			{ID: "../escape", Track: schema.TrackStandard, AgentType: "standard", PromptContract: schema.PromptContract{MaxWords: 10, MaxSources: 1}},
		},
	}
	_, e := BuildPlan(root, 1, ps)
	require.NotNil(t, e)
	require.Equal(t, string(errs.PathTraversal), string(e.Code))
}

func TestExecuteEntryRejectsOutputPathEscapingRunRoot(t *testing.T) {
	root := t.TempDir()
	ps := samplePerspectives()
	fixtureDir := t.TempDir()
	require.NoError(t, writeFixture(fixtureDir, "p-A", "# Findings\n\nok\n\n## Sources\n\n- https://example.com/a\n"))

	entry := schema.Wave1PlanEntry{
		PerspectiveID: "p-A",
		AgentType:     "standard",
		PromptMD:      "wave-1/p-A.prompt.md",
		OutputMD:      "../escape.md",
	}
	driver := agentdriver.FixtureDriver{FixtureDir: fixtureDir}
	_, e := ExecuteEntry(context.Background(), root, "r-1", schema.StageWave1, entry, ps.Items[0], nil, driver)
	require.NotNil(t, e)
	require.Equal(t, string(errs.PathTraversal), string(e.Code))
}

func TestValidateContractCatchesDeferredFailures(t *testing.T) {
	contract := schema.PromptContract{MaxWords: 3, MaxSources: 1, MustIncludeSections: []string{"Findings", "Sources"}}
	md := "# Findings\n\none two three four five\n"
	failures := ValidateContract(md, contract, 0)

	codes := map[errs.Code]bool{}
	for _, f := range failures {
		codes[f.Code] = true
	}
	require.True(t, codes[errs.MissingRequiredSection])
	require.True(t, codes[errs.TooManyWords])
}

func TestExecuteEntryFixtureDriverHappyPath(t *testing.T) {
	root := t.TempDir()
	ps := samplePerspectives()
	fixtureDir := t.TempDir()
	require.NoError(t, writeFixture(fixtureDir, "p-A", "# Findings\n\nok\n\n## Sources\n\n- https://example.com/a\n"))

	plan, e := BuildPlan(root, 1, ps)
	require.Nil(t, e)

	driver := agentdriver.FixtureDriver{FixtureDir: fixtureDir}
	outcome, e := ExecuteEntry(context.Background(), root, "r-1", schema.StageWave1, plan.Entries[0], ps.Items[0], nil, driver)
	require.Nil(t, e)
	require.True(t, outcome.Pass())
	require.True(t, store.Exists(filepath.Join(root, plan.Entries[0].OutputMD)))
}

func TestBuildReviewEmitsRetryForDeferredFailures(t *testing.T) {
	root := t.TempDir()
	outcomes := []PerspectiveOutcome{
		{PerspectiveID: "p-A", Failures: []ValidationFailure{{Code: errs.TooManyWords, Message: "too many words"}}},
	}
	review, directives, e := BuildReview(root, "r-1", schema.StageWave1, outcomes)
	require.Nil(t, e)
	require.False(t, review.Pass)
	require.Len(t, directives, 1)

	counts := map[string]int{}
	applyErr := ApplyRetryOutcome(root, "r-1", schema.StageWave1, directives, counts)
	require.NotNil(t, applyErr)
	require.Equal(t, string(errs.RetryRequired), string(applyErr.Code))
}

func TestBuildReviewFailsHardOnNonDeferredFailure(t *testing.T) {
	root := t.TempDir()
	outcomes := []PerspectiveOutcome{
		{PerspectiveID: "p-A", Failures: []ValidationFailure{{Code: errs.InvalidToolUsage, Message: "bad tool usage"}}},
	}
	_, _, e := BuildReview(root, "r-1", schema.StageWave1, outcomes)
	require.NotNil(t, e)
	require.Equal(t, string(errs.InvalidToolUsage), string(e.Code))
}

func writeFixture(dir, id, content string) error {
	return os.WriteFile(filepath.Join(dir, id+".md"), []byte(content), 0o644)
}
