package schema

import "time"

// Wave1PlanEntry is one row of wave-1/wave1-plan.json.
type Wave1PlanEntry struct {
	PerspectiveID string `json:"perspective_id"`
	AgentType     string `json:"agent_type"`
	PromptMD      string `json:"prompt_md"`
	OutputMD      string `json:"output_md"`
}

// Wave1Plan is wave-1/wave1-plan.json.
type Wave1Plan struct {
	SchemaVersion      string           `json:"schema_version"`
	PerspectivesDigest string           `json:"perspectives_digest"`
	Entries            []Wave1PlanEntry `json:"entries"`
}

const Wave1PlanSchemaVersion = "wave1_plan.v1"

// WaveOutputSidecar is <pid>.meta.json alongside a wave output markdown
// file.
type WaveOutputSidecar struct {
	SchemaVersion   string     `json:"schema_version"`
	PromptDigest    string     `json:"prompt_digest"`
	AgentRunID      string     `json:"agent_run_id"`
	IngestedAt      time.Time  `json:"ingested_at"`
	SourceInputPath string     `json:"source_input_path"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Model           string     `json:"model,omitempty"`
	ToolInvocations int        `json:"tool_invocations,omitempty"`
}

const WaveOutputSidecarSchemaVersion = "wave_output_sidecar.v1"

// PerPerspectiveResult is one row of wave-review.json's results.
type PerPerspectiveResult struct {
	PerspectiveID string   `json:"perspective_id"`
	Pass          bool     `json:"pass"`
	Reasons       []string `json:"reasons,omitempty"`
}

// WaveReview is wave-review.json, consumed by gate_b_derive.
type WaveReview struct {
	SchemaVersion   string                 `json:"schema_version"`
	OK              bool                   `json:"ok"`
	Pass            bool                   `json:"pass"`
	Validated       int                    `json:"validated"`
	Failed          int                    `json:"failed"`
	Results         []PerPerspectiveResult `json:"results"`
	RetryDirectives []RetryDirective       `json:"retry_directives"`
}

const WaveReviewSchemaVersion = "wave_review.v1"

// PivotDecision is the nested decision sub-document pivot.json prefers.
type PivotDecision struct {
	Wave2Required *bool    `json:"wave2_required"`
	Wave2GapIDs   []string `json:"wave2_gap_ids"`
}

// Pivot is pivot.json. RunWave2 is the legacy top-level field the
// advancer only consults when Decision.Wave2Required is absent; if both
// are present and disagree, the advancer raises SCHEMA_VALIDATION_FAILED
// rather than guessing (design note, open question 2).
type Pivot struct {
	SchemaVersion string         `json:"schema_version"`
	Decision      PivotDecision  `json:"decision"`
	RunWave2      *bool          `json:"run_wave2,omitempty"`
}

const PivotSchemaVersion = "pivot.v1"
