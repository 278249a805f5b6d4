package runinit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

func TestInitCreatesRunRootAndArtifacts(t *testing.T) {
	runsRoot := t.TempDir()
	req := Request{RunsRoot: runsRoot, RunID: "r-1", Query: "what happened", Mode: schema.ModeStandard, Sensitivity: schema.SensitivityNormal}

	result, e := Init(req, time.Now().UTC())
	require.Nil(t, e)
	require.Equal(t, "r-1", result.RunID)
	require.True(t, store.Exists(result.ManifestPath))
	require.True(t, store.Exists(result.GatesPath))
	require.True(t, store.Exists(filepath.Join(result.RunRoot, "wave-1")))
	require.True(t, store.Exists(filepath.Join(runsRoot, "runs-ledger.jsonl")))

	var m schema.Manifest
	require.Nil(t, store.ReadJSON(result.ManifestPath, &m))
	require.Equal(t, schema.StageInit, m.Stage.Current)
	require.Equal(t, schema.StatusRunning, m.Status)
}

func TestInitRefusesExistingRoot(t *testing.T) {
	runsRoot := t.TempDir()
	req := Request{RunsRoot: runsRoot, RunID: "r-1", Query: "q", Mode: schema.ModeQuick, Sensitivity: schema.SensitivityNormal}

	_, e := Init(req, time.Now().UTC())
	require.Nil(t, e)

	_, e2 := Init(req, time.Now().UTC())
	require.NotNil(t, e2)
	require.Equal(t, string(errs.AlreadyExistsConflict), string(e2.Code))
}

func TestInitRejectsInvalidRunID(t *testing.T) {
	runsRoot := t.TempDir()
	req := Request{RunsRoot: runsRoot, RunID: "../escape", Query: "q", Mode: schema.ModeQuick, Sensitivity: schema.SensitivityNormal}
	_, e := Init(req, time.Now().UTC())
	require.NotNil(t, e)
	require.Equal(t, string(errs.InvalidArgs), string(e.Code))
}
