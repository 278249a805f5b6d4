package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/resorch/resorch/internal/agentdriver"
	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/policy"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
	"github.com/resorch/resorch/internal/tick"
)

var tickCmd = &cobra.Command{
	Use:   "tick <manifest_path>",
	Short: "Drive a run forward by one stage step",
	Args:  cobra.ExactArgs(1),
	RunE:  runTick,
}

func init() {
	rootCmd.AddCommand(tickCmd)
	addDriverFlags(tickCmd)
	tickCmd.Flags().String("reason", "operator_tick", "audit reason recorded with this tick")
}

func runTick(c *cobra.Command, args []string) error {
	manifestPath := args[0]
	runRoot := runRootFromManifestPath(manifestPath)

	m, e := manifest.Read(manifestPath)
	if e != nil {
		return e
	}

	result, err := driveOneTick(c, runRoot, m.Stage.Current)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(map[string]string{
		"from":   string(result.From),
		"to":     string(result.To),
		"status": string(result.Status),
	}, "", "  ")
	fmt.Fprintln(c.OutOrStdout(), string(out))
	return nil
}

// driveOneTick resolves the driver, dependencies, and policy for
// runRoot and executes a single tick, bridging the task driver's
// on-disk pending-result files across the call when applicable.
func driveOneTick(c *cobra.Command, runRoot string, currentStage schema.Stage) (*tick.Result, error) {
	driver, err := buildDriver(c, runRoot)
	if err != nil {
		return nil, err
	}

	var before []string
	taskDriver, isTaskDriver := driver.(*agentdriver.TaskDriver)
	if isTaskDriver {
		before = taskDriver.Remaining()
	}

	citationsMode, _ := c.Flags().GetString("citations-mode")
	offlineFixturesPath, _ := c.Flags().GetString("offline-fixtures")
	offlineFixtures, err := buildCitationsFixtures(offlineFixturesPath)
	if err != nil {
		return nil, err
	}
	summaryEntriesPath, _ := c.Flags().GetString("summary-entries")
	summaryEntries, err := buildSummaryEntries(summaryEntriesPath)
	if err != nil {
		return nil, err
	}
	reviewFindingsPath, _ := c.Flags().GetString("review-findings")
	reviewFindings, err := buildReviewFindings(reviewFindingsPath)
	if err != nil {
		return nil, err
	}
	synthesisMode, _ := c.Flags().GetString("synthesis-mode")
	synthesisMD, _ := c.Flags().GetString("synthesis-md")
	citedCID, _ := c.Flags().GetString("cited-cid")

	runPolicy := policy.Load(filepath.Join(runRoot, "run-config", "policy.json"), nil)

	deps := tick.Dependencies{
		AgentDriver:     driver,
		CitationsMode:   citationsMode,
		OfflineFixtures: offlineFixtures,
		SummaryEntries:  summaryEntries,
		SynthesisMode:   synthesisMode,
		SynthesisMD:     synthesisMD,
		CitedCID:        citedCID,
		ReviewFindings:  reviewFindings,
		RolloutSafety:   buildRolloutSafety(c, citationsMode, currentSensitivity(runRoot)),
		LadderPolicy:    runPolicy.CitationsLadderPolicy,
	}

	var body tick.Body
	switch {
	case tick.IsLiveStage(currentStage):
		body = tick.NewLiveTickDriver(deps)
	case tick.IsPostSummariesStage(currentStage):
		body = tick.NewPostSummariesTickDriver(deps)
	default:
		return nil, fmt.Errorf("no tick driver covers stage %q", currentStage)
	}

	reason, _ := c.Flags().GetString("reason")

	result, tickErr := tick.Run(c.Context(), runRoot, runPolicy.RunLockPolicy, runPolicy.TickMarkerStaleAfterSeconds, reason, body)

	if isTaskDriver {
		sweepConsumedPendingResults(runRoot, before, taskDriver)
	}

	if tickErr != nil {
		return nil, tickErr
	}
	return result, nil
}

// currentSensitivity reads the run's scope document for the
// sensitivity gate F needs; a run without a scope document (pre-init
// edge case) is treated as normal.
func currentSensitivity(runRoot string) schema.Sensitivity {
	path := filepath.Join(runRoot, "operator", "scope.json")
	if !store.Exists(path) {
		return schema.SensitivityNormal
	}
	var scope schema.ScopeDoc
	if e := store.ReadJSON(path, &scope); e != nil {
		return schema.SensitivityNormal
	}
	return scope.Sensitivity
}
