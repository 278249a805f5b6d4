package gates

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

func TestWriterRevisionMismatch(t *testing.T) {
	root := t.TempDir()
	initial := NewInitial()
	require.Nil(t, store.AtomicWriteJSON(Path(root), initial))

	bad := 99
	_, e := Write(root, &bad, GatePatch{ID: schema.GateA, Status: schema.GatePass}, "sha256:x")
	require.NotNil(t, e)
	require.Equal(t, "REVISION_MISMATCH", string(e.Code))
}

func TestGateBPassOnCleanReview(t *testing.T) {
	root := t.TempDir()
	review := schema.WaveReview{
		SchemaVersion: schema.WaveReviewSchemaVersion,
		OK:            true, Pass: true, Validated: 2, Failed: 0,
		Results: []schema.PerPerspectiveResult{
			{PerspectiveID: "p-A", Pass: true},
			{PerspectiveID: "p-B", Pass: true},
		},
	}
	require.Nil(t, store.AtomicWriteJSON(filepath.Join(root, "wave-review.json"), review))

	eval := &WaveOutputContractEvaluator{}
	res, e := eval.Evaluate(context.Background(), root)
	require.Nil(t, e)
	require.Equal(t, schema.GatePass, res.Status)
}

func TestGateDFailsOverTotalBudget(t *testing.T) {
	root := t.TempDir()
	pack := schema.SummaryPack{
		SchemaVersion: schema.SummaryPackSchemaVersion,
		Entries: []schema.SummaryEntry{
			{PerspectiveID: "p-A", SizeKB: 60},
			{PerspectiveID: "p-B", SizeKB: 60},
		},
	}
	require.Nil(t, store.AtomicWriteJSON(filepath.Join(root, "summaries", "summary-pack.json"), pack))

	eval := &SummaryBoundednessEvaluator{Limits: schema.Limits{MaxSummaryKB: 100, MaxTotalSummaryKB: 100}}
	res, e := eval.Evaluate(context.Background(), root)
	require.Nil(t, e)
	require.Equal(t, schema.GateFail, res.Status)
	require.Contains(t, res.Warnings, "TOTAL_EXCEEDS_MAX_TOTAL_SUMMARY_KB")
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry(schema.Limits{}, schema.RunPolicy{})
	_, e := reg.Get(schema.GateA)
	require.Nil(t, e)
	_, e = reg.Get("Z")
	require.NotNil(t, e)
	require.Equal(t, "UNKNOWN_GATE_ID", string(e.Code))
}
