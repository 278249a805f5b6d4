package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/retry"
	"github.com/resorch/resorch/internal/schema"
)

func TestRunFactoryBlockingFindingForcesChangesRequired(t *testing.T) {
	root := t.TempDir()
	findings := []schema.Finding{{Severity: "blocking", Message: "missing evidence"}}
	bundle, e := RunFactory(root, findings, time.Now().UTC())
	require.Nil(t, e)
	require.Equal(t, schema.ReviewChangesRequired, bundle.Decision)
}

func TestRunFactoryNoBlockingFindingsPasses(t *testing.T) {
	root := t.TempDir()
	bundle, e := RunFactory(root, nil, time.Now().UTC())
	require.Nil(t, e)
	require.Equal(t, schema.ReviewPass, bundle.Decision)
}

func TestWriteSectionsReportCatchesMissingHeading(t *testing.T) {
	root := t.TempDir()
	report, e := WriteSectionsReport(root, "# Summary\n\ntext\n")
	require.Nil(t, e)
	require.False(t, report.Pass)
	require.NotEmpty(t, report.Details)
}

func TestWriteNumericClaimsReportCatchesUncitedNumber(t *testing.T) {
	root := t.TempDir()
	md := "Revenue grew 30%. This was strong growth [@c-0000]."
	report, e := WriteNumericClaimsReport(root, md)
	require.Nil(t, e)
	require.False(t, report.Pass)
}

func TestWriteNumericClaimsReportPassesWhenCited(t *testing.T) {
	root := t.TempDir()
	md := "Revenue grew 30% [@c-0000]."
	report, e := WriteNumericClaimsReport(root, md)
	require.Nil(t, e)
	require.True(t, report.Pass)
}

func TestResolveReviewCycleRevisesUnderCapWithoutError(t *testing.T) {
	bundle := &schema.ReviewBundle{Decision: schema.ReviewChangesRequired}
	counts := map[string]int{}
	action, e := ResolveReviewCycle(bundle, schema.GatePass, counts, false)
	require.Equal(t, retry.ActionRevise, action)
	require.Nil(t, e)
	require.Equal(t, 1, counts[string(schema.GateE)])
}

func TestResolveReviewCycleFailsOnceGateECapExhausted(t *testing.T) {
	bundle := &schema.ReviewBundle{Decision: schema.ReviewChangesRequired}
	counts := map[string]int{string(schema.GateE): retry.Caps[schema.GateE] + 1}
	action, e := ResolveReviewCycle(bundle, schema.GatePass, counts, false)
	require.Equal(t, retry.ActionRevise, action)
	require.NotNil(t, e)
	require.Equal(t, string(errs.RetryCapExhausted), string(e.Code))
}

func TestResolveReviewCycleApprovesOnGateEPass(t *testing.T) {
	bundle := &schema.ReviewBundle{Decision: schema.ReviewPass}
	action, e := ResolveReviewCycle(bundle, schema.GatePass, map[string]int{}, false)
	require.Equal(t, retry.ActionApprove, action)
	require.Nil(t, e)
}

func TestResolveReviewCycleAbortsWhenReviewCapExceeded(t *testing.T) {
	bundle := &schema.ReviewBundle{Decision: schema.ReviewChangesRequired}
	action, e := ResolveReviewCycle(bundle, schema.GatePass, map[string]int{}, true)
	require.Equal(t, retry.ActionAbort, action)
	require.Nil(t, e)
}
