// Package runinit implements the run initializer (C16): creating a
// fresh run root and its standard subdirectories, and writing the
// canonical manifest.v1, gates.v1, and operator/scope.v1 documents,
// plus the shared runs ledger append. Grounded on the teacher's
// session-bootstrap pattern in pkg/session (allocate an id, create a
// directory, write an initial record) generalized to resorch's
// file-based run root.
package runinit

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/gates"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// standardSubdirs are created under every run root regardless of mode.
var standardSubdirs = []string{
	"wave-1", "wave-2", "citations", "summaries", "synthesis",
	"review", "reports", "retry", "metrics", "logs", "operator",
}

// Request carries the resolved CLI flags for run_init.
type Request struct {
	RunsRoot    string
	RunID       string // optional; generated if empty
	Query       string
	Mode        schema.Mode
	Sensitivity schema.Sensitivity
	RootOverride string // optional; defaults to <runs_root>/<run_id>
	SessionID   string
	Disabled    bool
}

// DefaultLimitsForMode scales resource limits to the run's depth
// setting: quick runs fan out and review less than deep runs.
func DefaultLimitsForMode(mode schema.Mode) schema.Limits {
	switch mode {
	case schema.ModeQuick:
		return schema.Limits{MaxWave1Agents: 3, MaxWave2Agents: 2, MaxSummaryKB: 32, MaxTotalSummaryKB: 128, MaxReviewIterations: 1}
	case schema.ModeDeep:
		return schema.Limits{MaxWave1Agents: 8, MaxWave2Agents: 6, MaxSummaryKB: 64, MaxTotalSummaryKB: 512, MaxReviewIterations: 3}
	default:
		return schema.Limits{MaxWave1Agents: 5, MaxWave2Agents: 4, MaxSummaryKB: 48, MaxTotalSummaryKB: 256, MaxReviewIterations: 2}
	}
}

// Result is run_init's return contract.
type Result struct {
	RunID        string
	RunRoot      string
	ManifestPath string
	GatesPath    string
}

// Init creates the run root and its initial artifacts.
func Init(req Request, now time.Time) (*Result, *errs.Error) {
	if req.Disabled {
		return nil, errs.New(errs.Disabled, "run_init is disabled", nil)
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if !store.ValidRunID(runID) {
		return nil, errs.New(errs.InvalidArgs, "run_id must be non-empty and contain no path separators", errs.D("run_id", runID))
	}

	runRoot := req.RootOverride
	if runRoot == "" {
		runRoot = filepath.Join(req.RunsRoot, runID)
	}
	if _, e := store.WithinRoot(req.RunsRoot, runRoot); e != nil {
		return nil, e
	}

	manifestPath := filepath.Join(runRoot, "manifest.json")
	gatesPath := filepath.Join(runRoot, "gates.json")
	if store.Exists(runRoot) {
		if !store.Exists(manifestPath) || !store.Exists(gatesPath) {
			return nil, errs.New(errs.AlreadyExistsConflict, "run root exists but is missing manifest or gates", errs.D("run_root", runRoot))
		}
		return nil, errs.New(errs.AlreadyExistsConflict, "run root already initialized", errs.D("run_root", runRoot))
	}

	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return nil, errs.Wrap(errs.WriteFailed, "create run root", err, errs.D("run_root", runRoot))
	}
	for _, sub := range standardSubdirs {
		if err := os.MkdirAll(filepath.Join(runRoot, sub), 0o755); err != nil {
			return nil, errs.Wrap(errs.WriteFailed, "create run subdirectory", err, errs.D("dir", sub))
		}
	}

	manifest := &schema.Manifest{
		SchemaVersion: schema.ManifestSchemaVersion,
		RunID:         runID,
		Revision:      1,
		Mode:          req.Mode,
		Status:        schema.StatusRunning,
		Query:         schema.Query{Text: req.Query, Sensitivity: req.Sensitivity},
		Stage:         schema.StageInfo{Current: schema.StageInit, StartedAt: now},
		Limits:        DefaultLimitsForMode(req.Mode),
		Artifacts: schema.Artifacts{
			Root: runRoot,
			Paths: schema.ArtifactPaths{
				Manifest:     "manifest.json",
				Gates:        "gates.json",
				Perspectives: "perspectives.json",
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if e := manifest.Validate(); e != nil {
		return nil, e
	}
	if e := store.AtomicWriteJSON(manifestPath, manifest); e != nil {
		return nil, e
	}

	if e := store.AtomicWriteJSON(gatesPath, gates.NewInitial()); e != nil {
		return nil, e
	}

	scope := schema.ScopeDoc{
		SchemaVersion: schema.ScopeSchemaVersion,
		RunID:         runID,
		Query:         req.Query,
		Mode:          req.Mode,
		Sensitivity:   req.Sensitivity,
		RootOverride:  req.RootOverride,
	}
	if e := store.AtomicWriteJSON(filepath.Join(runRoot, "operator", "scope.json"), scope); e != nil {
		return nil, e
	}

	entry := schema.LedgerEntry{
		TS: now, RunID: runID, Root: runRoot, SessionID: req.SessionID,
		Query: req.Query, Mode: req.Mode, Sensitivity: req.Sensitivity,
	}
	line, err := store.CanonicalizeJSON(entry)
	if err != nil {
		return nil, errs.Wrap(errs.WriteFailed, "canonicalize ledger entry", err, nil)
	}
	if e := store.AppendLine(filepath.Join(req.RunsRoot, "runs-ledger.jsonl"), line); e != nil {
		return nil, e
	}

	return &Result{RunID: runID, RunRoot: runRoot, ManifestPath: manifestPath, GatesPath: gatesPath}, nil
}
