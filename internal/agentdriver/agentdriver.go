// Package agentdriver defines the AgentDriver boundary (spec.md §6.2):
// the one abstraction through which the core turns a perspective's
// prompt markdown into output markdown, without ever implementing
// subagent invocation itself. Grounded on the teacher's pkg/agent
// driver-selection pattern (multiple interchangeable llm.Client
// implementations behind one interface) and on pkg/mcp's thin
// validate-then-delegate adapters.
package agentdriver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/resorch/resorch/internal/errs"
)

// RunAgentInput is the request the core hands to a driver for one
// perspective's wave invocation.
type RunAgentInput struct {
	RunID         string
	Stage         string
	RunRoot       string
	PerspectiveID string
	AgentType     string
	PromptMD      string
	OutputMD      string
}

// RunAgentOutput is what a driver returns on success. Markdown is
// always non-empty; the remaining fields are advisory metadata the
// core records in the wave sidecar.
type RunAgentOutput struct {
	Markdown   string
	AgentRunID string
	StartedAt  string
	FinishedAt string
	Model      string
}

// AgentDriver turns a perspective's prompt into markdown. Drivers must
// not write outside in.RunRoot; the core owns the output file and its
// sidecar.
type AgentDriver interface {
	RunAgent(ctx context.Context, in RunAgentInput) (*RunAgentOutput, *errs.Error)
}

func validate(in RunAgentInput) *errs.Error {
	if strings.TrimSpace(in.RunRoot) == "" || strings.TrimSpace(in.PerspectiveID) == "" {
		return errs.New(errs.SchemaValidationFailed, "run_agent requires run_root and perspective_id", nil)
	}
	return nil
}

// FixtureDriver reads canned markdown from a fixture directory, one
// file per perspective named "<perspective_id>.md", used by the seed
// scenarios documented in spec.md §8.
type FixtureDriver struct {
	FixtureDir string
}

func (d FixtureDriver) RunAgent(_ context.Context, in RunAgentInput) (*RunAgentOutput, *errs.Error) {
	if e := validate(in); e != nil {
		return nil, e
	}
	path := filepath.Join(d.FixtureDir, in.PerspectiveID+".md")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "no fixture markdown for perspective", errs.D("path", path))
		}
		return nil, errs.Wrap(errs.ReadFailed, "read fixture markdown", err, errs.D("path", path))
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, errs.New(errs.NotFound, "fixture markdown is empty", errs.D("path", path))
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return &RunAgentOutput{
		Markdown:   string(b),
		AgentRunID: "fixture-" + in.PerspectiveID,
		StartedAt:  now,
		FinishedAt: now,
		Model:      "fixture",
	}, nil
}

// TaskDriver never produces output synchronously: it always returns
// RUN_AGENT_REQUIRED so the tick returns control to the operator, who
// later supplies the markdown out-of-band via the `agent-result` CLI
// command. Pending results are tracked by perspective ID so a second
// tick for the same perspective can be resolved once the result
// arrives.
type TaskDriver struct {
	pending map[string]RunAgentOutput
}

// NewTaskDriver constructs an empty TaskDriver.
func NewTaskDriver() *TaskDriver {
	return &TaskDriver{pending: make(map[string]RunAgentOutput)}
}

// SubmitResult records an out-of-band agent result for perspectiveID,
// to be consumed by the next RunAgent call for that perspective. It
// mirrors the `agent-result` CLI command's effect on the driver.
func (d *TaskDriver) SubmitResult(perspectiveID string, out RunAgentOutput) {
	if d.pending == nil {
		d.pending = make(map[string]RunAgentOutput)
	}
	d.pending[perspectiveID] = out
}

// Remaining lists the perspective IDs still awaiting an out-of-band
// result. The CLI's task-driver bridge uses this after a tick to know
// which on-disk pending-result files were consumed and can be removed.
func (d *TaskDriver) Remaining() []string {
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	return ids
}

func (d *TaskDriver) RunAgent(_ context.Context, in RunAgentInput) (*RunAgentOutput, *errs.Error) {
	if e := validate(in); e != nil {
		return nil, e
	}
	if out, ok := d.pending[in.PerspectiveID]; ok {
		delete(d.pending, in.PerspectiveID)
		if strings.TrimSpace(out.Markdown) == "" {
			return nil, errs.New(errs.SchemaValidationFailed, "submitted agent result markdown is empty", nil)
		}
		if out.AgentRunID == "" {
			out.AgentRunID = uuid.NewString()
		}
		return &out, nil
	}
	return nil, errs.New(errs.RunAgentRequired, "perspective requires an out-of-band agent run", errs.D("perspective_id", in.PerspectiveID))
}

// LiveDriver is a thin adapter stub documenting the subprocess/HTTP
// boundary a real deployment would fill in. Subagent invocation is
// explicitly out of core scope, so it validates its input and reports
// RUN_AGENT_FAILED rather than attempting any real call.
type LiveDriver struct {
	Endpoint string
}

func (d LiveDriver) RunAgent(_ context.Context, in RunAgentInput) (*RunAgentOutput, *errs.Error) {
	if e := validate(in); e != nil {
		return nil, e
	}
	if strings.TrimSpace(d.Endpoint) == "" {
		return nil, errs.New(errs.RunAgentFailed, "live driver has no configured endpoint", nil)
	}
	return nil, errs.New(errs.RunAgentFailed, "live driver invocation is not implemented in this deployment", errs.D("endpoint", d.Endpoint))
}
