package schema

// RunPolicy is the run_policy.v1 document (run-config/policy.json). It is
// optional; internal/policy sanitizes missing or malformed fields to the
// defaults named in spec section 5 and section 6.5 rather than failing,
// mirroring the teacher's resolveXConfig fallback style
// (pkg/config/loader.go).
type RunPolicy struct {
	SchemaVersion              string                  `json:"schema_version"`
	StageTimeoutsSeconds       map[string]int          `json:"stage_timeouts_seconds_v1"`
	CitationsLadderPolicy      CitationsLadderPolicy   `json:"citations_ladder_policy_v1"`
	RunLockPolicy              RunLockPolicy           `json:"run_lock_policy_v1"`
	// TickMarkerStaleAfterSeconds is this expansion's exposed override for
	// the spec's previously-hardcoded 5 minute tick-marker staleness
	// threshold (see design notes open question 3).
	TickMarkerStaleAfterSeconds int `json:"tick_marker_stale_after_seconds"`
}

const RunPolicySchemaVersion = "run_policy.v1"

// CitationsLadderPolicy configures the online citation-validation ladder.
type CitationsLadderPolicy struct {
	DirectFetchTimeoutMs   int     `json:"direct_fetch_timeout_ms"`
	EndpointTimeoutMs      int     `json:"endpoint_timeout_ms"`
	MaxRedirects           int     `json:"max_redirects"`
	MaxBodyBytes           int64   `json:"max_body_bytes"`
	DirectFetchMaxAttempts int     `json:"direct_fetch_max_attempts"`
	BrightDataMaxAttempts  int     `json:"bright_data_max_attempts"`
	ApifyMaxAttempts       int     `json:"apify_max_attempts"`
	BackoffInitialMs       int     `json:"backoff_initial_ms"`
	BackoffMultiplier      float64 `json:"backoff_multiplier"`
	BackoffMaxMs           int     `json:"backoff_max_ms"`
}

// RunLockPolicy configures the run lock's lease and heartbeat.
type RunLockPolicy struct {
	LeaseSeconds          int `json:"lease_seconds"`
	HeartbeatIntervalMs   int `json:"heartbeat_interval_ms"`
	HeartbeatMaxFailures  int `json:"heartbeat_max_failures"`
}

// ScopeDoc is operator/scope.v1: the resolved flags a run was started
// with, kept for audit/debugging purposes alongside the manifest.
type ScopeDoc struct {
	SchemaVersion string `json:"schema_version"`
	RunID         string `json:"run_id"`
	Query         string `json:"query"`
	Mode          Mode   `json:"mode"`
	Sensitivity   Sensitivity `json:"sensitivity"`
	RootOverride  string `json:"root_override,omitempty"`
}

const ScopeSchemaVersion = "scope.v1"
