// Package policy sanitizes run_policy.v1 (run-config/policy.json): an
// optional artifact whose missing or malformed fields fall back to
// documented defaults rather than failing the tick. The merge-with-
// override-over-defaults approach mirrors the teacher's
// pkg/config/loader.go resolveQueueConfig, which layers YAML onto
// hardcoded defaults with dario.cat/mergo.
package policy

import (
	"log/slog"

	"dario.cat/mergo"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// DefaultStageTimeoutsSeconds mirrors spec section 5's default table.
func DefaultStageTimeoutsSeconds() map[string]int {
	return map[string]int{
		"init":         120,
		"perspectives": 86400,
		"wave1":        600,
		"pivot":        120,
		"wave2":        600,
		"citations":    600,
		"summaries":    600,
		"synthesis":    600,
		"review":       300,
		"finalize":     120,
	}
}

const defaultTickMarkerStaleAfterSeconds = 300

func defaultCitationsLadderPolicy() schema.CitationsLadderPolicy {
	return schema.CitationsLadderPolicy{
		DirectFetchTimeoutMs:   5000,
		EndpointTimeoutMs:      15000,
		MaxRedirects:           5,
		MaxBodyBytes:           5 * 1024 * 1024,
		DirectFetchMaxAttempts: 2,
		BrightDataMaxAttempts:  2,
		ApifyMaxAttempts:       2,
		BackoffInitialMs:       250,
		BackoffMultiplier:      2.0,
		BackoffMaxMs:           8000,
	}
}

func defaultRunLockPolicy() schema.RunLockPolicy {
	return schema.RunLockPolicy{
		LeaseSeconds:         60,
		HeartbeatIntervalMs:  15000,
		HeartbeatMaxFailures: 3,
	}
}

// Default returns the fully-populated default run_policy.v1 document.
func Default() *schema.RunPolicy {
	return &schema.RunPolicy{
		SchemaVersion:               schema.RunPolicySchemaVersion,
		StageTimeoutsSeconds:        DefaultStageTimeoutsSeconds(),
		CitationsLadderPolicy:       defaultCitationsLadderPolicy(),
		RunLockPolicy:                defaultRunLockPolicy(),
		TickMarkerStaleAfterSeconds: defaultTickMarkerStaleAfterSeconds,
	}
}

// Load reads run-config/policy.json if present, merges it over the
// defaults, and warns-and-falls-back on any field that fails its own
// sanity check rather than failing the tick — run policy is documented
// optional (spec section 6.5).
func Load(policyPath string, logger *slog.Logger) *schema.RunPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	result := Default()
	if !store.Exists(policyPath) {
		return result
	}

	var fromDisk schema.RunPolicy
	if e := store.ReadJSON(policyPath, &fromDisk); e != nil {
		logger.Warn("run policy present but unreadable, using defaults", "path", policyPath, "error", e)
		return result
	}

	sanitizeStageTimeouts(&fromDisk, logger)
	sanitizeLadderPolicy(&fromDisk, logger)
	sanitizeLockPolicy(&fromDisk, logger)

	if err := mergo.Merge(result, fromDisk, mergo.WithOverride); err != nil {
		logger.Warn("failed to merge run policy overrides, using defaults", "path", policyPath, "error", err)
		return Default()
	}
	// mergo treats a positive int zero-value as "unset" and won't override
	// with an explicit zero; since every timeout here must be > 0 that
	// matches spec intent, but stage-timeout maps need an explicit per-key
	// merge since mergo replaces whole maps rather than merging keys when
	// WithOverride is used on a non-nil destination map that the source
	// also sets. Do that merge by hand to keep unset stages at default.
	for stage, v := range fromDisk.StageTimeoutsSeconds {
		if v > 0 {
			result.StageTimeoutsSeconds[stage] = v
		}
	}
	return result
}

func sanitizeStageTimeouts(p *schema.RunPolicy, logger *slog.Logger) {
	for stage, v := range p.StageTimeoutsSeconds {
		if v <= 0 {
			logger.Warn("invalid stage timeout, ignoring override", "stage", stage, "value", v)
			delete(p.StageTimeoutsSeconds, stage)
		}
	}
}

func sanitizeLadderPolicy(p *schema.RunPolicy, logger *slog.Logger) {
	lp := &p.CitationsLadderPolicy
	if lp.BackoffMultiplier <= 1.0 && lp.BackoffMultiplier != 0 {
		logger.Warn("citations ladder backoff_multiplier must exceed 1.0, ignoring", "value", lp.BackoffMultiplier)
		lp.BackoffMultiplier = 0
	}
	if lp.MaxBodyBytes < 0 {
		logger.Warn("citations ladder max_body_bytes must be non-negative, ignoring", "value", lp.MaxBodyBytes)
		lp.MaxBodyBytes = 0
	}
}

func sanitizeLockPolicy(p *schema.RunPolicy, logger *slog.Logger) {
	if p.RunLockPolicy.LeaseSeconds < 0 {
		logger.Warn("run lock lease_seconds must be non-negative, ignoring", "value", p.RunLockPolicy.LeaseSeconds)
		p.RunLockPolicy.LeaseSeconds = 0
	}
}

// TimeoutForStage resolves the configured timeout for a stage, returning
// a typed error only if the stage name is altogether unrecognized.
func TimeoutForStage(p *schema.RunPolicy, stage schema.Stage) (int, *errs.Error) {
	if v, ok := p.StageTimeoutsSeconds[string(stage)]; ok && v > 0 {
		return v, nil
	}
	if v, ok := DefaultStageTimeoutsSeconds()[string(stage)]; ok {
		return v, nil
	}
	return 0, errs.New(errs.InvalidArgs, "no timeout configured for stage", errs.D("stage", stage))
}
