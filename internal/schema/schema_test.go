package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowedTransition(t *testing.T) {
	require.True(t, AllowedTransition(StageInit, StageWave1))
	require.True(t, AllowedTransition(StageReview, StageFinalize))
	require.False(t, AllowedTransition(StageInit, StageFinalize))
	require.False(t, AllowedTransition(StageFinalize, StageInit))
}

func TestGateValidateHardNeverWarn(t *testing.T) {
	now := time.Now()
	g := &Gate{ID: GateA, Class: ClassHard, Status: GateWarn, CheckedAt: &now}
	e := g.Validate()
	require.NotNil(t, e)
	require.Equal(t, "SCHEMA_VALIDATION_FAILED", string(e.Code))
}

func TestGateValidateRequiresCheckedAt(t *testing.T) {
	g := &Gate{ID: GateB, Class: ClassHard, Status: GatePass}
	e := g.Validate()
	require.NotNil(t, e)
}

func TestNewDefaultGatesAllNotRun(t *testing.T) {
	gates := NewDefaultGates()
	require.Len(t, gates, 6)
	for _, g := range gates {
		require.Equal(t, GateNotRun, g.Status)
		require.Nil(t, g.Validate())
	}
}

func TestManifestValidateRejectsBadStage(t *testing.T) {
	m := &Manifest{
		SchemaVersion: ManifestSchemaVersion,
		RunID:         "r-1",
		Revision:      1,
		Mode:          ModeStandard,
		Status:        StatusCreated,
		Query:         Query{Text: "q", Sensitivity: SensitivityNormal},
		Stage:         StageInfo{Current: "bogus"},
	}
	e := m.Validate()
	require.NotNil(t, e)
	require.Equal(t, "SCHEMA_VALIDATION_FAILED", string(e.Code))
}

func TestPerspectivesValidateDuplicateID(t *testing.T) {
	p := &Perspectives{
		SchemaVersion: PerspectivesSchemaVersion,
		Items: []Perspective{
			{ID: "p-A", Track: TrackStandard, PromptContract: PromptContract{MaxWords: 100, MaxSources: 5}},
			{ID: "p-A", Track: TrackStandard, PromptContract: PromptContract{MaxWords: 100, MaxSources: 5}},
		},
	}
	e := p.Validate()
	require.NotNil(t, e)
	require.Equal(t, "DUPLICATE_PERSPECTIVE_ID", string(e.Code))
}

func TestPerspectivesValidateRejectsPathUnsafeID(t *testing.T) {
	for _, id := range []string{"../escape", "a/b", `a\b`, "p..q"} {
		p := &Perspectives{
			SchemaVersion: PerspectivesSchemaVersion,
			Items: []Perspective{
				{ID: id, Track: TrackStandard, PromptContract: PromptContract{MaxWords: 100, MaxSources: 5}},
			},
		}
		e := p.Validate()
		require.NotNil(t, e, "id %q should be rejected", id)
		require.Equal(t, "PATH_TRAVERSAL", string(e.Code))
	}
}
