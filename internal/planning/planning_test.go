package planning

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/schema"
)

func TestBuildPerspectivesCyclesTracks(t *testing.T) {
	query := schema.Query{Text: "what happened to the widget rollout"}
	limits := schema.Limits{MaxWave1Agents: 4}

	p := BuildPerspectives(query, limits)
	require.Len(t, p.Items, 4)
	require.Equal(t, schema.TrackStandard, p.Items[0].Track)
	require.Equal(t, schema.TrackIndependent, p.Items[1].Track)
	require.Equal(t, schema.TrackContrarian, p.Items[2].Track)
	require.Equal(t, schema.TrackStandard, p.Items[3].Track)
}

func TestValidatedProducesSchemaValidDocument(t *testing.T) {
	query := schema.Query{Text: "q"}
	limits := schema.Limits{MaxWave1Agents: 3}

	p, e := Validated(query, limits)
	require.Nil(t, e)
	require.Nil(t, p.Validate())
}

func TestBuildPerspectivesFallsBackToOneWithZeroLimit(t *testing.T) {
	p := BuildPerspectives(schema.Query{Text: "q"}, schema.Limits{})
	require.Len(t, p.Items, 1)
}
