package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "./runs", cfg.RunsRoot)
	require.Equal(t, "fixture", cfg.Driver.Type)
	require.Equal(t, "", cfg.ConfigPath)
}

func TestLoadMergesYAMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resorch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runs_root: /var/resorch/runs
driver:
  type: live
  endpoint: https://agents.internal/run
citations:
  bright_data_endpoint: https://bd.example.com
  bright_data_api_key: ${TEST_BD_KEY}
`), 0o644))
	t.Setenv("TEST_BD_KEY", "secret-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/resorch/runs", cfg.RunsRoot)
	require.Equal(t, "live", cfg.Driver.Type)
	require.Equal(t, "https://agents.internal/run", cfg.Driver.Endpoint)
	require.Equal(t, "secret-key", cfg.Citations.BrightDataAPIKey)
	require.True(t, cfg.BrightDataConfigured())
	require.False(t, cfg.ApifyConfigured())
	require.Equal(t, path, cfg.ConfigPath)
	// Watch was untouched by the YAML, so it keeps its default.
	require.Equal(t, 30, cfg.Watch.IntervalSeconds)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resorch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("driver: [this is not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestResolvePathPrefersExplicit(t *testing.T) {
	require.Equal(t, "explicit.yaml", resolvePath("explicit.yaml"))
}
