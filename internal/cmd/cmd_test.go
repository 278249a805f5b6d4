package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/config"
	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/schema"
)

func TestExitCodeForClassifiesKnownCodes(t *testing.T) {
	require.Equal(t, exitOK, ExitCodeFor(nil))
	require.Equal(t, exitOperatorError, ExitCodeFor(errs.New(errs.InvalidArgs, "bad arg", nil)))
	require.Equal(t, exitOperatorError, ExitCodeFor(errs.New(errs.RevisionMismatch, "stale revision", nil)))
	require.Equal(t, exitLifecycleViolation, ExitCodeFor(errs.New(errs.GateBlocked, "gate blocked", nil)))
	require.Equal(t, exitIOFailure, ExitCodeFor(errs.New(errs.WriteFailed, "disk full", nil)))
	require.Equal(t, exitInternalFault, ExitCodeFor(errs.New(errs.Code("SOMETHING_UNCLASSIFIED"), "unexpected", nil)))
}

func TestExitCodeForNonTypedErrorIsOperatorError(t *testing.T) {
	require.Equal(t, exitOperatorError, ExitCodeFor(os.ErrNotExist))
}

func runInitForTest(t *testing.T, runsRoot, query string) string {
	t.Helper()
	cfg = &config.Config{RunsRoot: runsRoot}

	var buf bytes.Buffer
	initCmd.SetOut(&buf)
	require.Nil(t, initCmd.Flags().Set("run-id", "r-1"))
	require.Nil(t, initCmd.Flags().Set("mode", string(schema.ModeStandard)))
	require.Nil(t, initCmd.Flags().Set("sensitivity", string(schema.SensitivityNormal)))

	err := runInit(initCmd, []string{query})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out["manifest_path"]
}

func TestRunInitCreatesManifestAndGates(t *testing.T) {
	runsRoot := t.TempDir()
	manifestPath := runInitForTest(t, runsRoot, "what happened to the widget rollout")

	require.FileExists(t, manifestPath)
	m, e := manifest.Read(manifestPath)
	require.Nil(t, e)
	require.Equal(t, schema.StageInit, m.Stage.Current)
	require.Equal(t, schema.StatusRunning, m.Status)
}

func TestRunStatusReportsStageAndGates(t *testing.T) {
	runsRoot := t.TempDir()
	manifestPath := runInitForTest(t, runsRoot, "q")

	var buf bytes.Buffer
	statusCmd.SetOut(&buf)
	require.NoError(t, runStatus(statusCmd, []string{manifestPath}))
	require.Contains(t, buf.String(), "stage=init")
	require.Contains(t, buf.String(), "status=running")
}

func TestRunTriageReportsLastFailure(t *testing.T) {
	runsRoot := t.TempDir()
	manifestPath := runInitForTest(t, runsRoot, "q")
	runRoot := runRootFromManifestPath(manifestPath)

	_, e := manifest.Write(runRoot, nil, manifest.Patch{
		AppendFailures: []schema.Failure{{Kind: "timeout", Stage: schema.StageWave1, TS: time.Now().UTC(), Message: "wave1 timed out"}},
	}, "test_seed_failure", "")
	require.Nil(t, e)

	var buf bytes.Buffer
	triageCmd.SetOut(&buf)
	require.NoError(t, runTriage(triageCmd, []string{manifestPath}))

	var report map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	require.Equal(t, "init", report["stage"])
	lastFailure, ok := report["last_failure"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "wave1 timed out", lastFailure["message"])
}

func TestRunAgentResultWritesPendingFile(t *testing.T) {
	runsRoot := t.TempDir()
	manifestPath := runInitForTest(t, runsRoot, "q")
	runRoot := runRootFromManifestPath(manifestPath)

	mdPath := filepath.Join(t.TempDir(), "out.md")
	require.NoError(t, os.WriteFile(mdPath, []byte("# Findings\nfound nothing\n"), 0o644))

	var buf bytes.Buffer
	agentResultCmd.SetOut(&buf)
	require.Nil(t, agentResultCmd.Flags().Set("model", "test-model"))
	require.NoError(t, runAgentResult(agentResultCmd, []string{manifestPath, "p-1", mdPath}))

	pendingPath := filepath.Join(pendingResultsDir(runRoot), "p-1.json")
	require.FileExists(t, pendingPath)

	driver, loadErr := loadTaskDriver(runRoot)
	require.NoError(t, loadErr)
	require.Equal(t, []string{"p-1"}, driver.Remaining())
}

func TestLifecycleCommandsMutateStatus(t *testing.T) {
	runsRoot := t.TempDir()
	manifestPath := runInitForTest(t, runsRoot, "q")

	pauseCmd := newLifecycleCmd("pause", "Pause a run", schema.StatusPaused)
	var buf bytes.Buffer
	pauseCmd.SetOut(&buf)
	require.NoError(t, pauseCmd.RunE(pauseCmd, []string{manifestPath}))

	m, e := manifest.Read(manifestPath)
	require.Nil(t, e)
	require.Equal(t, schema.StatusPaused, m.Status)

	resumeCmd := newLifecycleCmd("resume", "Resume a paused run", schema.StatusRunning)
	require.NoError(t, resumeCmd.RunE(resumeCmd, []string{manifestPath}))
	m, e = manifest.Read(manifestPath)
	require.Nil(t, e)
	require.Equal(t, schema.StatusRunning, m.Status)
}
