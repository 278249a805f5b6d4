package stage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/schema"
)

func TestPivotWave2RequiredPrefersNested(t *testing.T) {
	yes, no := true, false
	p := &schema.Pivot{Decision: schema.PivotDecision{Wave2Required: &yes}, RunWave2: &yes}
	required, e := pivotWave2Required(p)
	require.Nil(t, e)
	require.True(t, required)

	p2 := &schema.Pivot{Decision: schema.PivotDecision{Wave2Required: &no}, RunWave2: &yes}
	_, e2 := pivotWave2Required(p2)
	require.NotNil(t, e2)
	require.Equal(t, "SCHEMA_VALIDATION_FAILED", string(e2.Code))
}

func TestPivotWave2RequiredFallsBackToLegacy(t *testing.T) {
	yes := true
	p := &schema.Pivot{RunWave2: &yes}
	required, e := pivotWave2Required(p)
	require.Nil(t, e)
	require.True(t, required)
}

func TestCheckReviewCap(t *testing.T) {
	history := []schema.HistoryEntry{
		{From: schema.StageReview, To: schema.StageSynthesis},
	}
	require.Nil(t, CheckReviewCap(history, 2))
	e := CheckReviewCap(history, 1)
	require.NotNil(t, e)
	require.Equal(t, "REVIEW_CAP_EXCEEDED", string(e.Code))
}

func TestCheckWave2Cap(t *testing.T) {
	require.Nil(t, CheckWave2Cap([]string{"a", "b"}, 2))
	e := CheckWave2Cap([]string{"a", "b", "c"}, 2)
	require.NotNil(t, e)
	require.Equal(t, "WAVE_CAP_EXCEEDED", string(e.Code))
}
