// Package schema defines the strict document shapes persisted under a run
// root (manifest.v1, gates.v1, perspectives.v1, telemetry.v1,
// run_policy.v1, scope.v1, wave-output, citation, summary-pack,
// synthesis-meta) and the validators that enforce them on every read and
// write. Every ingress document is validated here before a caller is
// allowed to act on it — generalizing the teacher's ValidationError
// pattern (pkg/services/errors.go) into one validator per artifact kind.
package schema

import (
	"time"

	"github.com/resorch/resorch/internal/errs"
)

// Mode is the run's depth setting.
type Mode string

const (
	ModeQuick    Mode = "quick"
	ModeStandard Mode = "standard"
	ModeDeep     Mode = "deep"
)

// Sensitivity constrains how aggressively the run may reach the network.
type Sensitivity string

const (
	SensitivityNormal     Sensitivity = "normal"
	SensitivityRestricted Sensitivity = "restricted"
	SensitivityNoWeb      Sensitivity = "no_web"
)

// Status is the run's overall lifecycle status.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Stage is a node in the stage adjacency graph (spec section 4.2).
type Stage string

const (
	StageInit         Stage = "init"
	StagePerspectives Stage = "perspectives"
	StageWave1        Stage = "wave1"
	StagePivot        Stage = "pivot"
	StageWave2        Stage = "wave2"
	StageCitations    Stage = "citations"
	StageSummaries    Stage = "summaries"
	StageSynthesis    Stage = "synthesis"
	StageReview       Stage = "review"
	StageFinalize     Stage = "finalize"
)

// Adjacency is the allowed transition graph from spec section 4.2. An
// empty destination set means the stage is terminal.
var Adjacency = map[Stage][]Stage{
	StageInit:         {StagePerspectives, StageWave1},
	StagePerspectives: {StageWave1},
	StageWave1:        {StagePivot},
	StagePivot:        {StageWave2, StageCitations},
	StageWave2:        {StageCitations},
	StageCitations:    {StageSummaries},
	StageSummaries:    {StageSynthesis},
	StageSynthesis:    {StageReview},
	StageReview:       {StageSynthesis, StageFinalize},
	StageFinalize:     {},
}

// AllowedTransition reports whether (from, to) is present in Adjacency.
func AllowedTransition(from, to Stage) bool {
	for _, candidate := range Adjacency[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// HistoryEntry records one stage transition (invariant 5).
type HistoryEntry struct {
	From           Stage     `json:"from"`
	To             Stage     `json:"to"`
	TS             time.Time `json:"ts"`
	Reason         string    `json:"reason"`
	InputsDigest   string    `json:"inputs_digest"`
	GatesRevision  int       `json:"gates_revision"`
}

// StageInfo is the manifest's stage sub-document.
type StageInfo struct {
	Current        Stage          `json:"current"`
	StartedAt      time.Time      `json:"started_at"`
	LastProgressAt *time.Time     `json:"last_progress_at,omitempty"`
	History        []HistoryEntry `json:"history"`
}

// Query is the manifest's query sub-document.
type Query struct {
	Text        string      `json:"text"`
	Constraints string      `json:"constraints,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity"`
}

// Limits is the manifest's resource-limits sub-document.
type Limits struct {
	MaxWave1Agents      int `json:"max_wave1_agents"`
	MaxWave2Agents      int `json:"max_wave2_agents"`
	MaxSummaryKB        int `json:"max_summary_kb"`
	MaxTotalSummaryKB   int `json:"max_total_summary_kb"`
	MaxReviewIterations int `json:"max_review_iterations"`
}

// ArtifactPaths records the canonical relative paths for every artifact
// kind the manifest tracks.
type ArtifactPaths struct {
	Manifest     string `json:"manifest"`
	Gates        string `json:"gates"`
	Perspectives string `json:"perspectives"`
}

// Artifacts is the manifest's artifact-location sub-document.
type Artifacts struct {
	Root  string        `json:"root"`
	Paths ArtifactPaths `json:"paths"`
}

// Metrics is the manifest's metrics sub-document.
type Metrics struct {
	RetryCounts map[string]int `json:"retry_counts,omitempty"`
}

// Failure records one terminal or recoverable failure observed on the run.
type Failure struct {
	Kind    string    `json:"kind"`
	Stage   Stage     `json:"stage"`
	TS      time.Time `json:"ts"`
	Message string    `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Manifest is the manifest.v1 document: the run's single authoritative
// record.
type Manifest struct {
	SchemaVersion string      `json:"schema_version"`
	RunID         string      `json:"run_id"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Revision      int         `json:"revision"`
	Mode          Mode        `json:"mode"`
	Status        Status      `json:"status"`
	Query         Query       `json:"query"`
	Stage         StageInfo   `json:"stage"`
	Limits        Limits      `json:"limits"`
	Artifacts     Artifacts   `json:"artifacts"`
	MetricsInfo   Metrics     `json:"metrics"`
	Failures      []Failure   `json:"failures"`
}

const ManifestSchemaVersion = "manifest.v1"

var validModes = map[Mode]bool{ModeQuick: true, ModeStandard: true, ModeDeep: true}
var validSensitivities = map[Sensitivity]bool{SensitivityNormal: true, SensitivityRestricted: true, SensitivityNoWeb: true}
var validStatuses = map[Status]bool{
	StatusCreated: true, StatusRunning: true, StatusPaused: true,
	StatusFailed: true, StatusCompleted: true, StatusCancelled: true,
}
var validStages = map[Stage]bool{
	StageInit: true, StagePerspectives: true, StageWave1: true, StagePivot: true,
	StageWave2: true, StageCitations: true, StageSummaries: true, StageSynthesis: true,
	StageReview: true, StageFinalize: true,
}

// Validate enforces the structural and enum constraints of manifest.v1.
func (m *Manifest) Validate() *errs.Error {
	if m.SchemaVersion != ManifestSchemaVersion {
		return errs.New(errs.SchemaValidationFailed, "unexpected manifest schema_version", errs.D("got", m.SchemaVersion, "want", ManifestSchemaVersion))
	}
	if m.RunID == "" {
		return errs.New(errs.SchemaValidationFailed, "manifest.run_id is required", nil)
	}
	if m.Revision < 1 {
		return errs.New(errs.SchemaValidationFailed, "manifest.revision must be >= 1", errs.D("revision", m.Revision))
	}
	if !validModes[m.Mode] {
		return errs.New(errs.SchemaValidationFailed, "manifest.mode is invalid", errs.D("mode", m.Mode))
	}
	if !validStatuses[m.Status] {
		return errs.New(errs.SchemaValidationFailed, "manifest.status is invalid", errs.D("status", m.Status))
	}
	if !validSensitivities[m.Query.Sensitivity] {
		return errs.New(errs.SchemaValidationFailed, "manifest.query.sensitivity is invalid", errs.D("sensitivity", m.Query.Sensitivity))
	}
	if !validStages[m.Stage.Current] {
		return errs.New(errs.SchemaValidationFailed, "manifest.stage.current is invalid", errs.D("stage", m.Stage.Current))
	}
	for _, h := range m.Stage.History {
		if !validStages[h.From] || !validStages[h.To] {
			return errs.New(errs.SchemaValidationFailed, "manifest.stage.history entry has invalid stage", errs.D("from", h.From, "to", h.To))
		}
	}
	return nil
}
