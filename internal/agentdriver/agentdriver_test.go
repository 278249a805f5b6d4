package agentdriver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/errs"
)

func TestFixtureDriverReadsMarkdown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p-A.md"), []byte("# p-A\n\nbody\n"), 0o644))

	d := FixtureDriver{FixtureDir: dir}
	out, e := d.RunAgent(context.Background(), RunAgentInput{RunRoot: dir, PerspectiveID: "p-A"})
	require.Nil(t, e)
	require.Contains(t, out.Markdown, "p-A")
}

func TestFixtureDriverMissingFixture(t *testing.T) {
	dir := t.TempDir()
	d := FixtureDriver{FixtureDir: dir}
	_, e := d.RunAgent(context.Background(), RunAgentInput{RunRoot: dir, PerspectiveID: "p-missing"})
	require.NotNil(t, e)
	require.Equal(t, string(errs.NotFound), string(e.Code))
}

func TestTaskDriverRequiresOutOfBandResult(t *testing.T) {
	d := NewTaskDriver()
	_, e := d.RunAgent(context.Background(), RunAgentInput{RunRoot: "/tmp", PerspectiveID: "p-A"})
	require.NotNil(t, e)
	require.Equal(t, string(errs.RunAgentRequired), string(e.Code))

	d.SubmitResult("p-A", RunAgentOutput{Markdown: "# result"})
	out, e2 := d.RunAgent(context.Background(), RunAgentInput{RunRoot: "/tmp", PerspectiveID: "p-A"})
	require.Nil(t, e2)
	require.Equal(t, "# result", out.Markdown)
}

func TestLiveDriverUnimplemented(t *testing.T) {
	d := LiveDriver{Endpoint: "https://example.invalid"}
	_, e := d.RunAgent(context.Background(), RunAgentInput{RunRoot: "/tmp", PerspectiveID: "p-A"})
	require.NotNil(t, e)
	require.Equal(t, string(errs.RunAgentFailed), string(e.Code))
}
