package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/resorch/resorch/internal/gates"
	"github.com/resorch/resorch/internal/manifest"
)

// statusCmd is the expansion's convenience read: one line naming stage,
// status, and a compact gate summary, for a human glancing at a run.
// triage is the deeper diagnostic (last failure, full blocked-gate
// detail) for an operator about to act; status is for a quick look.
var statusCmd = &cobra.Command{
	Use:   "status <manifest_path>",
	Short: "Print a one-line run summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(c *cobra.Command, args []string) error {
	manifestPath := args[0]
	runRoot := runRootFromManifestPath(manifestPath)

	m, e := manifest.Read(manifestPath)
	if e != nil {
		return e
	}

	gateSummary := "gates=unavailable"
	if g, gErr := gates.Read(gates.Path(runRoot)); gErr == nil {
		pass, total := 0, 0
		for _, gt := range g.Gates {
			total++
			if gt.Status == "pass" {
				pass++
			}
		}
		gateSummary = fmt.Sprintf("gates=%d/%d pass", pass, total)
	}

	fmt.Fprintf(c.OutOrStdout(), "run=%s stage=%s status=%s %s\n", m.RunID, m.Stage.Current, m.Status, gateSummary)
	return nil
}
