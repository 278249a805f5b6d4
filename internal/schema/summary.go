package schema

import "time"

// KeyClaim is one claim in a per-perspective summary, backed by citation
// cids.
type KeyClaim struct {
	Text          string   `json:"text"`
	CitationCIDs  []string `json:"citation_cids"`
}

// SummaryEntry is one per-perspective row of summaries/summary-pack.json.
// Markdown holds the rendered summary body used to write the
// summaries/<pid>.md sidecar; it is never persisted in the pack itself.
type SummaryEntry struct {
	PerspectiveID string     `json:"perspective_id"`
	SizeKB        float64    `json:"size_kb"`
	KeyClaims     []KeyClaim `json:"key_claims"`
	SourcePath    string     `json:"source_path"`
	Markdown      string     `json:"-"`
}

// SummaryPack is summaries/summary-pack.json.
type SummaryPack struct {
	SchemaVersion string         `json:"schema_version"`
	GeneratedAt   time.Time      `json:"generated_at"`
	TotalSizeKB   float64        `json:"total_size_kb"`
	Entries       []SummaryEntry `json:"entries"`
}

const SummaryPackSchemaVersion = "summary_pack.v1"

// SummaryMeta is summaries/<pid>.meta.json, the per-perspective sidecar
// alongside summaries/<pid>.md.
type SummaryMeta struct {
	SchemaVersion string    `json:"schema_version"`
	PerspectiveID string    `json:"perspective_id"`
	SourcePath    string    `json:"source_path"`
	Digest        string    `json:"digest"`
	SizeKB        float64   `json:"size_kb"`
	GeneratedAt   time.Time `json:"generated_at"`
}

const SummaryMetaSchemaVersion = "summary_meta.v1"

// SynthesisMeta is synthesis/final-synthesis.meta.json.
type SynthesisMeta struct {
	SchemaVersion string    `json:"schema_version"`
	Mode          string    `json:"mode"` // "fixture" | "generated"
	Digest        string    `json:"digest"`
	GeneratedAt   time.Time `json:"generated_at"`
}

const SynthesisMetaSchemaVersion = "synthesis_meta.v1"

// RequiredSynthesisHeadings are the headings every final-synthesis.md
// must contain (spec section 4.8, gate E criterion).
var RequiredSynthesisHeadings = []string{"Summary", "Key Findings", "Evidence", "Caveats"}

// ReviewDecision is the review bundle's verdict.
type ReviewDecision string

const (
	ReviewPass             ReviewDecision = "PASS"
	ReviewChangesRequired  ReviewDecision = "CHANGES_REQUIRED"
)

// Finding is one item in a review bundle's findings list.
type Finding struct {
	Severity string `json:"severity"`
	Section  string `json:"section,omitempty"`
	Message  string `json:"message"`
}

// ReviewBundle is review/review-bundle.json.
type ReviewBundle struct {
	SchemaVersion string         `json:"schema_version"`
	Decision      ReviewDecision `json:"decision"`
	Findings      []Finding      `json:"findings"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

const ReviewBundleSchemaVersion = "review_bundle.v1"

// GateEReport is the shared shape of the gate-E reports internal/review
// writes (numeric claims, sections). No citation-utilization report is
// written.
type GateEReport struct {
	SchemaVersion string   `json:"schema_version"`
	Kind          string   `json:"kind"`
	Pass          bool     `json:"pass"`
	Details       []string `json:"details,omitempty"`
}

// RetryDirective is one entry of retry/retry-directives.json, appended to
// the next prompt for a given perspective after a failed contract
// validation.
type RetryDirective struct {
	PerspectiveID string `json:"perspective_id"`
	Reason        string `json:"reason"`
	Instruction   string `json:"instruction"`
}

// RetryDirectives is retry/retry-directives.json.
type RetryDirectives struct {
	SchemaVersion             string            `json:"schema_version"`
	RunID                     string            `json:"run_id"`
	Stage                     Stage             `json:"stage"`
	GeneratedAt               time.Time         `json:"generated_at"`
	ConsumedAt                *time.Time        `json:"consumed_at"`
	RetryDirectivesList       []RetryDirective  `json:"retry_directives"`
	DeferredValidationFailures []string         `json:"deferred_validation_failures"`
}

const RetryDirectivesSchemaVersion = "retry_directives.v1"

// LedgerEntry is one line of <runs_root>/runs-ledger.jsonl.
type LedgerEntry struct {
	TS        time.Time   `json:"ts"`
	RunID     string      `json:"run_id"`
	Root      string      `json:"root"`
	SessionID string      `json:"session_id,omitempty"`
	Query     string      `json:"query"`
	Mode      Mode        `json:"mode"`
	Sensitivity Sensitivity `json:"sensitivity"`
}

// LockDoc is the .lock file contents.
type LockDoc struct {
	PID           int       `json:"pid"`
	Hostname      string    `json:"hostname"`
	CreatedAt     time.Time `json:"created_at"`
	LeaseSeconds  int       `json:"lease_seconds"`
	RefreshedAt   time.Time `json:"refreshed_at"`
	OwnerID       string    `json:"owner_id"`
	Reason        string    `json:"reason,omitempty"`
}

// TickMarker is logs/tick-in-progress.json.
type TickMarker struct {
	StartedAt time.Time `json:"started_at"`
	Stage     Stage     `json:"stage"`
	OwnerID   string    `json:"owner_id"`
}

// AuditEntry is one line of logs/audit.jsonl.
type AuditEntry struct {
	TS           time.Time      `json:"ts"`
	Action       string         `json:"action"`
	InputsDigest string         `json:"inputs_digest"`
	Details      map[string]any `json:"details,omitempty"`
}

// RunMetrics is metrics/run-metrics.json.
type RunMetrics struct {
	SchemaVersion string                    `json:"schema_version"`
	GeneratedAt   time.Time                 `json:"generated_at"`
	LastSeq       int64                     `json:"last_seq"`
	RunStatus     Status                    `json:"run_status"`
	RunDurationS  float64                   `json:"run_duration_s"`
	Stages        map[string]StageMetrics   `json:"stages"`
}

const RunMetricsSchemaVersion = "run_metrics.v1"

// StageMetrics is the per-stage aggregate run_metrics_write computes.
type StageMetrics struct {
	AttemptsTotal int     `json:"attempts_total"`
	RetriesTotal  int     `json:"retries_total"`
	FailuresTotal int     `json:"failures_total"`
	TimeoutsTotal int     `json:"timeouts_total"`
	DurationS     float64 `json:"duration_s"`
}
