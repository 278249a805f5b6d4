package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/resorch/resorch/internal/agentdriver"
	"github.com/resorch/resorch/internal/store"
)

var agentResultCmd = &cobra.Command{
	Use:   "agent-result <manifest_path> <perspective_id> <markdown_path>",
	Short: "Record an out-of-band agent result for the task driver",
	Args:  cobra.ExactArgs(3),
	RunE:  runAgentResult,
}

func init() {
	rootCmd.AddCommand(agentResultCmd)
	agentResultCmd.Flags().String("agent-run-id", "", "agent run id (generated if omitted)")
	agentResultCmd.Flags().String("started-at", "", "RFC3339 start timestamp")
	agentResultCmd.Flags().String("finished-at", "", "RFC3339 finish timestamp")
	agentResultCmd.Flags().String("model", "", "model identifier, for the wave sidecar")
}

func runAgentResult(c *cobra.Command, args []string) error {
	manifestPath, perspectiveID, markdownPath := args[0], args[1], args[2]
	runRoot := runRootFromManifestPath(manifestPath)

	md, e := store.ReadText(markdownPath)
	if e != nil {
		return e
	}

	agentRunID, _ := c.Flags().GetString("agent-run-id")
	startedAt, _ := c.Flags().GetString("started-at")
	finishedAt, _ := c.Flags().GetString("finished-at")
	model, _ := c.Flags().GetString("model")
	now := time.Now().UTC().Format(time.RFC3339)
	if startedAt == "" {
		startedAt = now
	}
	if finishedAt == "" {
		finishedAt = now
	}

	out := agentdriver.RunAgentOutput{
		Markdown:   string(md),
		AgentRunID: agentRunID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Model:      model,
	}

	dir := pendingResultsDir(runRoot)
	if mkErr := store.AtomicWriteJSON(filepath.Join(dir, perspectiveID+".json"), out); mkErr != nil {
		return mkErr
	}
	fmt.Fprintf(c.OutOrStdout(), "recorded pending result for %s\n", perspectiveID)
	return nil
}
