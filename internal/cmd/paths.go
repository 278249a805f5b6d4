package cmd

import "path/filepath"

// runRootFromManifestPath derives a run root from a manifest.json path,
// the same way the teacher's CLI derives a config directory from a
// single flag rather than asking the operator to repeat it.
func runRootFromManifestPath(manifestPath string) string {
	return filepath.Dir(manifestPath)
}
