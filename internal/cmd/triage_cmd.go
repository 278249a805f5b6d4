package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/resorch/resorch/internal/gates"
	"github.com/resorch/resorch/internal/manifest"
)

// triageCmd is a read-only diagnostic: it touches nothing under the run
// root and reports the state an operator needs to decide what to do
// next (current stage/status, the last recorded failure, and any gate
// not currently passing).
var triageCmd = &cobra.Command{
	Use:   "triage <manifest_path>",
	Short: "Summarize why a run is stuck, without changing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runTriage,
}

func init() {
	rootCmd.AddCommand(triageCmd)
}

type triageReport struct {
	RunID        string         `json:"run_id"`
	Status       string         `json:"status"`
	Stage        string         `json:"stage"`
	LastFailure  any            `json:"last_failure,omitempty"`
	BlockedGates map[string]any `json:"blocked_gates,omitempty"`
}

func runTriage(c *cobra.Command, args []string) error {
	manifestPath := args[0]
	runRoot := runRootFromManifestPath(manifestPath)

	m, e := manifest.Read(manifestPath)
	if e != nil {
		return e
	}

	report := triageReport{
		RunID:  m.RunID,
		Status: string(m.Status),
		Stage:  string(m.Stage.Current),
	}
	if n := len(m.Failures); n > 0 {
		report.LastFailure = m.Failures[n-1]
	}

	g, gErr := gates.Read(gates.Path(runRoot))
	if gErr == nil {
		blocked := map[string]any{}
		for id, gate := range g.Gates {
			if gate.Status != "" && gate.Status != "pass" && gate.Status != "not_run" {
				blocked[string(id)] = gate
			}
		}
		if len(blocked) > 0 {
			report.BlockedGates = blocked
		}
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Fprintln(c.OutOrStdout(), string(out))
	return nil
}
