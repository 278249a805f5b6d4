package schema

import (
	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/store"
)

// Track classifies how a perspective approaches the query.
type Track string

const (
	TrackStandard    Track = "standard"
	TrackIndependent Track = "independent"
	TrackContrarian  Track = "contrarian"
)

// PromptContract bounds what a perspective's agent output must contain.
type PromptContract struct {
	MaxWords            int      `json:"max_words"`
	MaxSources          int      `json:"max_sources"`
	ToolBudget          int      `json:"tool_budget"`
	MustIncludeSections []string `json:"must_include_sections"`
}

// Perspective is one research lens in perspectives.v1.
type Perspective struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Track          Track          `json:"track"`
	AgentType      string         `json:"agent_type"`
	PromptContract PromptContract `json:"prompt_contract"`
}

// Perspectives is the perspectives.v1 document.
type Perspectives struct {
	SchemaVersion string        `json:"schema_version"`
	Items         []Perspective `json:"perspectives"`
}

const PerspectivesSchemaVersion = "perspectives.v1"

var validTracks = map[Track]bool{TrackStandard: true, TrackIndependent: true, TrackContrarian: true}

func (p *Perspectives) Validate() *errs.Error {
	if p.SchemaVersion != PerspectivesSchemaVersion {
		return errs.New(errs.SchemaValidationFailed, "unexpected perspectives schema_version", errs.D("got", p.SchemaVersion))
	}
	seen := make(map[string]bool, len(p.Items))
	for _, item := range p.Items {
		if item.ID == "" {
			return errs.New(errs.SchemaValidationFailed, "perspective id is required", nil)
		}
		if !store.ValidPathSegment(item.ID) {
			return errs.New(errs.PathTraversal, "perspective id is not safe as a path segment", errs.D("id", item.ID))
		}
		if seen[item.ID] {
			return errs.New(errs.DuplicatePerspectiveID, "duplicate perspective id", errs.D("id", item.ID))
		}
		seen[item.ID] = true
		if !validTracks[item.Track] {
			return errs.New(errs.SchemaValidationFailed, "perspective track is invalid", errs.D("id", item.ID, "track", item.Track))
		}
		if item.PromptContract.MaxWords <= 0 || item.PromptContract.MaxSources <= 0 {
			return errs.New(errs.SchemaValidationFailed, "perspective prompt_contract caps must be positive", errs.D("id", item.ID))
		}
	}
	return nil
}

// Find returns the perspective with the given id, or PERSPECTIVE_NOT_FOUND.
func (p *Perspectives) Find(id string) (*Perspective, *errs.Error) {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i], nil
		}
	}
	return nil, errs.New(errs.PerspectiveNotFound, "perspective not found", errs.D("id", id))
}
