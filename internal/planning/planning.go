// Package planning implements the perspectives stage: turning a run's
// query and mode into perspectives.json, per spec.md §4.1. Grounded on
// the teacher's scenario-template expansion in pkg/runbook (a fixed set
// of named roles instantiated against one input), generalized here to
// the standard/independent/contrarian track split spec section 4.1
// names. A deployment with a live planning agent would replace
// BuildPerspectives with a driver call; this deterministic expansion
// keeps planning reproducible offline and in tests.
package planning

import (
	"fmt"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
)

var trackOrder = []schema.Track{schema.TrackStandard, schema.TrackIndependent, schema.TrackContrarian}

// BuildPerspectives expands a query into up to limits.MaxWave1Agents
// perspectives, cycling through the standard/independent/contrarian
// tracks so every plan carries at least one dissenting (contrarian)
// lens once agent_count >= 3.
func BuildPerspectives(query schema.Query, limits schema.Limits) *schema.Perspectives {
	count := limits.MaxWave1Agents
	if count <= 0 {
		count = 1
	}
	items := make([]schema.Perspective, 0, count)
	for i := 0; i < count; i++ {
		track := trackOrder[i%len(trackOrder)]
		items = append(items, schema.Perspective{
			ID:        fmt.Sprintf("p-%d", i+1),
			Title:     fmt.Sprintf("%s perspective on: %s", track, query.Text),
			Track:     track,
			AgentType: "researcher",
			PromptContract: schema.PromptContract{
				MaxWords:            800,
				MaxSources:          8,
				ToolBudget:          6,
				MustIncludeSections: []string{"Findings", "Sources"},
			},
		})
	}
	return &schema.Perspectives{
		SchemaVersion: schema.PerspectivesSchemaVersion,
		Items:         items,
	}
}

// Validated builds and validates perspectives in one step, surfacing a
// schema error rather than writing an invalid document.
func Validated(query schema.Query, limits schema.Limits) (*schema.Perspectives, *errs.Error) {
	p := BuildPerspectives(query, limits)
	if e := p.Validate(); e != nil {
		return nil, e
	}
	return p, nil
}
