package tick

import (
	"context"
	"encoding/json"
	"time"

	"github.com/resorch/resorch/internal/agentdriver"
	"github.com/resorch/resorch/internal/citations"
	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/gates"
	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/planning"
	"github.com/resorch/resorch/internal/retry"
	"github.com/resorch/resorch/internal/review"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/stage"
	"github.com/resorch/resorch/internal/store"
	"github.com/resorch/resorch/internal/synthesis"
	"github.com/resorch/resorch/internal/wave"
)

// Dependencies bundles everything a stage body needs beyond what is
// already on disk under the run root: the agent driver, the citations
// mode/fixtures/ladder configuration, and the operator-supplied review
// findings and rollout-safety configuration that gate F and the review
// factory consume.
type Dependencies struct {
	AgentDriver agentdriver.AgentDriver

	CitationsMode   string // "offline" | "online"
	OfflineFixtures citations.OfflineFixtures
	Ladder          citations.LadderConfig

	SummaryEntries []schema.SummaryEntry
	SynthesisMode  string // "fixture" | "generated"
	SynthesisMD    string // required when SynthesisMode == "fixture"
	CitedCID       string // used by the generated-synthesis renderer

	ReviewFindings []schema.Finding
	RolloutSafety  gates.RolloutSafetyEvaluator

	// LadderPolicy configures the online citations ladder's timeouts,
	// attempt caps, and backoff; zero value falls back to
	// internal/policy's defaults.
	LadderPolicy schema.CitationsLadderPolicy
}

// supportedLiveStages are the stages tick_live knows how to drive
// forward: initial planning through the citations ladder.
var supportedLiveStages = map[schema.Stage]bool{
	schema.StageInit: true, schema.StagePerspectives: true, schema.StageWave1: true,
	schema.StagePivot: true, schema.StageWave2: true, schema.StageCitations: true,
}

// supportedPostSummariesStages are the stages tick_post_summaries
// drives: summary boundedness through finalization.
var supportedPostSummariesStages = map[schema.Stage]bool{
	schema.StageSummaries: true, schema.StageSynthesis: true, schema.StageReview: true, schema.StageFinalize: true,
}

// IsLiveStage reports whether tick_live drives the given stage, so a
// caller holding only a manifest can pick the matching Body constructor
// without duplicating the stage-set split living above.
func IsLiveStage(stg schema.Stage) bool {
	return supportedLiveStages[stg]
}

// IsPostSummariesStage reports whether tick_post_summaries drives the
// given stage.
func IsPostSummariesStage(stg schema.Stage) bool {
	return supportedPostSummariesStages[stg]
}

// NewLiveTickDriver builds the tick_live Body (spec section 4.13):
// init/perspectives/wave1/pivot/wave2/citations stage bodies.
func NewLiveTickDriver(deps Dependencies) Body {
	return func(ctx context.Context, runRoot string, m *schema.Manifest) (*Result, *errs.Error) {
		if !supportedLiveStages[m.Stage.Current] {
			return nil, errs.New(errs.StageMismatch, "tick_live does not drive this stage", errs.D("stage", m.Stage.Current))
		}
		return driveStage(ctx, runRoot, m, deps)
	}
}

// NewPostSummariesTickDriver builds the tick_post_summaries Body: the
// summaries/synthesis/review/finalize stage bodies.
func NewPostSummariesTickDriver(deps Dependencies) Body {
	return func(ctx context.Context, runRoot string, m *schema.Manifest) (*Result, *errs.Error) {
		if !supportedPostSummariesStages[m.Stage.Current] {
			return nil, errs.New(errs.StageMismatch, "tick_post_summaries does not drive this stage", errs.D("stage", m.Stage.Current))
		}
		return driveStage(ctx, runRoot, m, deps)
	}
}

func driveStage(ctx context.Context, runRoot string, m *schema.Manifest, deps Dependencies) (*Result, *errs.Error) {
	now := time.Now().UTC()

	switch m.Stage.Current {
	case schema.StageInit:
		if store.Exists(runRoot + "/perspectives.json") {
			return advanceTo(runRoot, m, schema.StageWave1, "wave1_ready", "")
		}
		return advanceTo(runRoot, m, schema.StagePerspectives, "planning_started", "")

	case schema.StagePerspectives:
		return drivePlanning(runRoot, m)

	case schema.StageWave1:
		return driveWave(runRoot, m, schema.StageWave1, 1, deps)

	case schema.StagePivot:
		pivotPath := runRoot + "/pivot.json"
		var pivot schema.Pivot
		if e := store.ReadJSON(pivotPath, &pivot); e != nil {
			return nil, e
		}
		to := schema.StageCitations
		if pivot.Decision.Wave2Required != nil && *pivot.Decision.Wave2Required {
			to = schema.StageWave2
			if e := stage.CheckWave2Cap(pivot.Decision.Wave2GapIDs, m.Limits.MaxWave2Agents); e != nil {
				return nil, e
			}
		}
		return advanceTo(runRoot, m, to, "pivot_decision", "")

	case schema.StageWave2:
		return driveWave(runRoot, m, schema.StageWave2, 2, deps)

	case schema.StageCitations:
		return driveCitations(runRoot, m, deps, now)

	case schema.StageSummaries:
		return driveSummaries(runRoot, m, deps, now)

	case schema.StageSynthesis:
		return driveSynthesis(runRoot, m, deps, now)

	case schema.StageReview:
		return driveReview(runRoot, m, deps, now)

	case schema.StageFinalize:
		return &Result{OK: true, From: schema.StageFinalize, To: schema.StageFinalize, Status: m.Status}, nil
	}
	return nil, errs.New(errs.StageMismatch, "no stage body for this stage", errs.D("stage", m.Stage.Current))
}

func advanceTo(runRoot string, m *schema.Manifest, to schema.Stage, reason, inputsDigest string) (*Result, *errs.Error) {
	gatesDoc, e := gates.Read(gates.Path(runRoot))
	if e != nil {
		return nil, e
	}
	rev := m.Revision
	tr, e := stage.Advance(runRoot, &rev, m.Stage.Current, to, reason, inputsDigest, gatesDoc)
	if e != nil {
		return nil, e
	}
	updated, e := manifest.Read(manifest.Path(runRoot))
	if e != nil {
		return nil, e
	}
	return &Result{OK: true, From: tr.From, To: tr.To, Status: updated.Status, DecisionInputsDigest: tr.InputsDigest}, nil
}

// drivePlanning builds perspectives.json (unless a caller already
// seeded it before this tick), evaluates gate A, and advances to wave1.
func drivePlanning(runRoot string, m *schema.Manifest) (*Result, *errs.Error) {
	path := runRoot + "/perspectives.json"
	if !store.Exists(path) {
		p, e := planning.Validated(m.Query, m.Limits)
		if e != nil {
			return nil, e
		}
		if e := store.AtomicWriteJSON(path, p); e != nil {
			return nil, e
		}
	}

	gateA := &gates.PlanningCompletenessEvaluator{}
	result, e := gateA.Evaluate(context.Background(), runRoot)
	if e != nil {
		return nil, e
	}
	if e := writeGate(runRoot, schema.GateA, result); e != nil {
		return nil, e
	}
	if result.Status != schema.GatePass {
		return nil, errs.New(errs.GateBlocked, "gate A did not pass", errs.D("notes", result.Notes))
	}

	return advanceTo(runRoot, m, schema.StageWave1, "planning_complete", result.InputsDigest)
}

func driveWave(runRoot string, m *schema.Manifest, stg schema.Stage, waveNum int, deps Dependencies) (*Result, *errs.Error) {
	var perspectives schema.Perspectives
	if e := store.ReadJSON(runRoot+"/perspectives.json", &perspectives); e != nil {
		return nil, e
	}
	plan, e := wave.LoadFreshPlan(runRoot, waveNum, &perspectives)
	if e != nil {
		if e.Code != errs.NotFound {
			return nil, e
		}
		plan, e = wave.BuildPlan(runRoot, waveNum, &perspectives)
		if e != nil {
			return nil, e
		}
	}

	directives, e := retry.Read(runRoot)
	if e != nil {
		return nil, e
	}
	directiveFor := make(map[string]*schema.RetryDirective)
	if directives != nil && directives.ConsumedAt == nil {
		for i := range directives.RetryDirectivesList {
			d := directives.RetryDirectivesList[i]
			directiveFor[d.PerspectiveID] = &d
		}
	}

	var outcomes []wave.PerspectiveOutcome
	for _, entry := range plan.Entries {
		perspective, e := perspectives.Find(entry.PerspectiveID)
		if e != nil {
			return nil, e
		}
		outcome, e := wave.ExecuteEntry(context.Background(), runRoot, m.RunID, stg, entry, *perspective, directiveFor[entry.PerspectiveID], deps.AgentDriver)
		if e != nil {
			return nil, e
		}
		outcomes = append(outcomes, *outcome)
		if _, touchErr := manifest.TouchProgress(runRoot); touchErr != nil {
			return nil, touchErr
		}
	}

	_, newDirectives, e := wave.BuildReview(runRoot, m.RunID, stg, outcomes)
	if e != nil {
		return nil, e
	}

	gateB := &gates.WaveOutputContractEvaluator{}
	result, e := gateB.Evaluate(context.Background(), runRoot)
	if e != nil {
		return nil, e
	}
	if e := writeGate(runRoot, schema.GateB, result); e != nil {
		return nil, e
	}

	counts := m.MetricsInfo.RetryCounts
	if applyErr := wave.ApplyRetryOutcome(runRoot, m.RunID, stg, newDirectives, counts); applyErr != nil {
		return nil, applyErr
	}

	to := schema.StagePivot
	if stg == schema.StageWave2 {
		to = schema.StageCitations
	}
	r, e := advanceTo(runRoot, m, to, "wave_review_pass", result.InputsDigest)
	if e != nil {
		return nil, e
	}
	r.WaveOutputsCount = len(outcomes)
	return r, nil
}

func driveCitations(runRoot string, m *schema.Manifest, deps Dependencies, now time.Time) (*Result, *errs.Error) {
	var perspectives schema.Perspectives
	if e := store.ReadJSON(runRoot+"/perspectives.json", &perspectives); e != nil {
		return nil, e
	}
	var ids []string
	for _, p := range perspectives.Items {
		ids = append(ids, p.ID)
	}
	waves := []int{1}
	if store.Exists(runRoot + "/wave-2") {
		waves = append(waves, 2)
	}

	extracted, e := citations.ExtractURLs(runRoot, waves, ids)
	if e != nil {
		return nil, e
	}
	if e := citations.WriteExtractionArtifacts(runRoot, extracted); e != nil {
		return nil, e
	}
	entries, err := citations.BuildURLMap(extracted)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidJSON, "build url map", err, nil)
	}
	if e := citations.WriteURLMap(runRoot, entries); e != nil {
		return nil, e
	}

	var records []schema.Citation
	if deps.CitationsMode == "online" {
		var fixtures []schema.OnlineFixture
		records, fixtures = citations.ValidateOnline(context.Background(), entries, deps.Ladder, deps.LadderPolicy, now)
		if e := citations.WriteOnlineFixtures(runRoot, fixtures, now); e != nil {
			return nil, e
		}
	} else {
		records = citations.ValidateOffline(entries, deps.OfflineFixtures, now)
	}
	if e := citations.WriteCitations(runRoot, records); e != nil {
		return nil, e
	}
	if e := citations.BuildBlockedQueue(runRoot, records); e != nil {
		return nil, e
	}

	gateC := &gates.CitationIntegrityEvaluator{}
	result, e := gateC.Evaluate(context.Background(), runRoot)
	if e != nil {
		return nil, e
	}
	if e := writeGate(runRoot, schema.GateC, result); e != nil {
		return nil, e
	}

	return advanceTo(runRoot, m, schema.StageSummaries, "citations_validated", result.InputsDigest)
}

func driveSummaries(runRoot string, m *schema.Manifest, deps Dependencies, now time.Time) (*Result, *errs.Error) {
	_, e := synthesis.BuildSummaryPack(runRoot, deps.SummaryEntries, m.Limits, now)
	if e != nil {
		return nil, e
	}
	gateD := &gates.SummaryBoundednessEvaluator{Limits: m.Limits}
	result, e := gateD.Evaluate(context.Background(), runRoot)
	if e != nil {
		return nil, e
	}
	if e := writeGate(runRoot, schema.GateD, result); e != nil {
		return nil, e
	}
	return advanceTo(runRoot, m, schema.StageSynthesis, "summary_pack_built", result.InputsDigest)
}

func driveSynthesis(runRoot string, m *schema.Manifest, deps Dependencies, now time.Time) (*Result, *errs.Error) {
	validCIDs, e := validCitationCIDs(runRoot)
	if e != nil {
		return nil, e
	}

	md := deps.SynthesisMD
	mode := deps.SynthesisMode
	if mode != "fixture" {
		mode = "generated"
		var pack schema.SummaryPack
		if re := store.ReadJSON(synthesis.SummaryPackPath(runRoot), &pack); re != nil {
			return nil, re
		}
		md = synthesis.RenderGeneratedSynthesis(&pack, deps.CitedCID)
	}
	if e := synthesis.WriteSynthesis(runRoot, mode, md, validCIDs, now); e != nil {
		return nil, e
	}
	return advanceTo(runRoot, m, schema.StageReview, "synthesis_written", store.PromptDigest(md))
}

func driveReview(runRoot string, m *schema.Manifest, deps Dependencies, now time.Time) (*Result, *errs.Error) {
	md, e := store.ReadText(synthesis.SynthesisPath(runRoot))
	if e != nil {
		return nil, e
	}
	if _, e := review.WriteNumericClaimsReport(runRoot, string(md)); e != nil {
		return nil, e
	}
	if _, e := review.WriteSectionsReport(runRoot, string(md)); e != nil {
		return nil, e
	}
	bundle, e := review.RunFactory(runRoot, deps.ReviewFindings, now)
	if e != nil {
		return nil, e
	}

	gatesDoc, e := gates.Read(gates.Path(runRoot))
	if e != nil {
		return nil, e
	}
	rev := gatesDoc.Revision
	if _, e := review.EvaluateGateE(runRoot, &rev, now); e != nil {
		return nil, e
	}
	gatesDoc, e = gates.Read(gates.Path(runRoot))
	if e != nil {
		return nil, e
	}
	rev = gatesDoc.Revision
	rollout := deps.RolloutSafety
	if rollout.CitationsMode == "" {
		rollout.CitationsMode = deps.CitationsMode
	}
	if rollout.Sensitivity == "" {
		rollout.Sensitivity = m.Query.Sensitivity
	}
	if _, e := review.EvaluateGateF(runRoot, &rollout, &rev, now); e != nil {
		return nil, e
	}

	gatesDoc, e = gates.Read(gates.Path(runRoot))
	if e != nil {
		return nil, e
	}
	gateEStatus := gatesDoc.Gates[schema.GateE].Status

	reviewCapExceeded := stage.CheckReviewCap(m.Stage.History, m.Limits.MaxReviewIterations) != nil
	action, actionErr := review.ResolveReviewCycle(bundle, gateEStatus, m.MetricsInfo.RetryCounts, reviewCapExceeded)
	if actionErr != nil {
		return nil, actionErr
	}

	switch action {
	case retry.ActionApprove:
		r, e := advanceTo(runRoot, m, schema.StageFinalize, "review_approved", "")
		if e != nil {
			return nil, e
		}
		r.ReviewIteration = len(m.Stage.History)
		return r, nil
	case retry.ActionRevise:
		if e := stage.CheckReviewCap(m.Stage.History, m.Limits.MaxReviewIterations); e != nil {
			return nil, e
		}
		return advanceTo(runRoot, m, schema.StageSynthesis, "review_changes_required", "")
	default:
		return nil, errs.New(errs.LifecycleRuleViolation, "review aborted", nil)
	}
}

func writeGate(runRoot string, id schema.GateID, result *gates.Result) *errs.Error {
	gatesDoc, e := gates.Read(gates.Path(runRoot))
	if e != nil {
		return e
	}
	rev := gatesDoc.Revision
	_, e = gates.Write(runRoot, &rev, gates.GatePatch{
		ID: id, Status: result.Status, CheckedAt: time.Now().UTC(),
		Metrics: result.Metrics, Warnings: result.Warnings, Notes: result.Notes,
	}, result.InputsDigest)
	return e
}

func validCitationCIDs(runRoot string) (map[string]bool, *errs.Error) {
	lines, e := store.ReadLines(runRoot + "/citations/citations.jsonl")
	if e != nil {
		return nil, e
	}
	out := make(map[string]bool, len(lines))
	for _, line := range lines {
		var c schema.Citation
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, errs.Wrap(errs.InvalidJSON, "parse citation record", err, nil)
		}
		if c.Status == schema.CitationValid {
			out[c.CID] = true
		}
	}
	return out, nil
}
