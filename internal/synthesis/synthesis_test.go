package synthesis

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/schema"
)

func readJSON(t *testing.T, path string, v any) error {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func TestBuildSummaryPackRejectsOversizedEntry(t *testing.T) {
	root := t.TempDir()
	entries := []schema.SummaryEntry{{PerspectiveID: "p-A", SizeKB: 50}}
	_, e := BuildSummaryPack(root, entries, schema.Limits{MaxSummaryKB: 10, MaxTotalSummaryKB: 100}, time.Now().UTC())
	require.NotNil(t, e)
	require.Equal(t, string(errs.SchemaValidationFailed), string(e.Code))
}

func TestBuildSummaryPackRejectsOversizedTotal(t *testing.T) {
	root := t.TempDir()
	entries := []schema.SummaryEntry{{PerspectiveID: "p-A", SizeKB: 60}, {PerspectiveID: "p-B", SizeKB: 60}}
	_, e := BuildSummaryPack(root, entries, schema.Limits{MaxSummaryKB: 100, MaxTotalSummaryKB: 100}, time.Now().UTC())
	require.NotNil(t, e)
}

func TestBuildSummaryPackHappyPath(t *testing.T) {
	root := t.TempDir()
	entries := []schema.SummaryEntry{{PerspectiveID: "p-A", SizeKB: 10}}
	pack, e := BuildSummaryPack(root, entries, schema.Limits{MaxSummaryKB: 100, MaxTotalSummaryKB: 100}, time.Now().UTC())
	require.Nil(t, e)
	require.Equal(t, 10.0, pack.TotalSizeKB)
}

func TestBuildSummaryPackWritesPerPerspectiveSidecars(t *testing.T) {
	root := t.TempDir()
	entries := []schema.SummaryEntry{
		{PerspectiveID: "p-A", SizeKB: 10, KeyClaims: []schema.KeyClaim{{Text: "claim one", CitationCIDs: []string{"c-0000"}}}},
	}
	_, e := BuildSummaryPack(root, entries, schema.Limits{MaxSummaryKB: 100, MaxTotalSummaryKB: 100}, time.Now().UTC())
	require.Nil(t, e)
	require.FileExists(t, filepath.Join(root, "summaries", "p-A.md"))
	require.FileExists(t, filepath.Join(root, "summaries", "p-A.meta.json"))

	var meta schema.SummaryMeta
	require.NoError(t, readJSON(t, filepath.Join(root, "summaries", "p-A.meta.json"), &meta))
	require.Equal(t, "p-A", meta.PerspectiveID)
	require.Equal(t, "wave-1/p-A.md", meta.SourcePath)
}

func TestBuildSummaryPackRejectsUnsafePerspectiveID(t *testing.T) {
	root := t.TempDir()
	entries := []schema.SummaryEntry{{PerspectiveID: "../escape", SizeKB: 1}}
	_, e := BuildSummaryPack(root, entries, schema.Limits{}, time.Now().UTC())
	require.NotNil(t, e)
	require.Equal(t, string(errs.PathTraversal), string(e.Code))
}

func TestValidateSynthesisRequiresHeadingsAndCitation(t *testing.T) {
	valid := map[string]bool{"c-0000": true}
	md := "# Summary\n\ntext [@c-0000]\n\n# Key Findings\n\nx\n\n# Evidence\n\ny\n\n# Caveats\n\nz\n"
	require.Nil(t, ValidateSynthesis(md, valid))

	missingHeading := "# Summary\n\ntext [@c-0000]\n"
	e := ValidateSynthesis(missingHeading, valid)
	require.NotNil(t, e)
	require.Equal(t, string(errs.MissingRequiredSection), string(e.Code))

	unknownCID := "# Summary\n\n[@unknown]\n\n# Key Findings\n\nx\n\n# Evidence\n\ny\n\n# Caveats\n\nz\n"
	e2 := ValidateSynthesis(unknownCID, valid)
	require.NotNil(t, e2)
	require.Equal(t, string(errs.UnknownCID), string(e2.Code))
}

func TestWriteSynthesisRoundTrip(t *testing.T) {
	root := t.TempDir()
	valid := map[string]bool{"c-0000": true}
	md := "# Summary\n\n[@c-0000]\n\n# Key Findings\n\nx\n\n# Evidence\n\ny\n\n# Caveats\n\nz\n"
	e := WriteSynthesis(root, "generated", md, valid, time.Now().UTC())
	require.Nil(t, e)
}
