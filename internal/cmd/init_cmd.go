package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/resorch/resorch/internal/runinit"
	"github.com/resorch/resorch/internal/schema"
)

var initCmd = &cobra.Command{
	Use:   "init <query>",
	Short: "Start a new research run",
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("mode", string(schema.ModeStandard), "run depth: quick|standard|deep")
	initCmd.Flags().String("sensitivity", string(schema.SensitivityNormal), "network sensitivity: normal|restricted|no_web")
	initCmd.Flags().String("run-id", "", "run id (generated if omitted)")
	initCmd.Flags().String("root-override", "", "run root override (default: <runs_root>/<run_id>)")
	initCmd.Flags().String("session-id", "", "opaque session id recorded in the runs ledger")
}

func runInit(c *cobra.Command, args []string) error {
	mode, _ := c.Flags().GetString("mode")
	sensitivity, _ := c.Flags().GetString("sensitivity")
	runID, _ := c.Flags().GetString("run-id")
	rootOverride, _ := c.Flags().GetString("root-override")
	sessionID, _ := c.Flags().GetString("session-id")

	result, e := runinit.Init(runinit.Request{
		RunsRoot:     cfg.RunsRoot,
		RunID:        runID,
		Query:        args[0],
		Mode:         schema.Mode(mode),
		Sensitivity:  schema.Sensitivity(sensitivity),
		RootOverride: rootOverride,
		SessionID:    sessionID,
	}, time.Now().UTC())
	if e != nil {
		return e
	}

	out, _ := json.MarshalIndent(map[string]string{
		"run_id":        result.RunID,
		"run_root":      result.RunRoot,
		"manifest_path": result.ManifestPath,
		"gates_path":    result.GatesPath,
	}, "", "  ")
	fmt.Fprintln(c.OutOrStdout(), string(out))
	return nil
}
