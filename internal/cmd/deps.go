package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/resorch/resorch/internal/agentdriver"
	"github.com/resorch/resorch/internal/citations"
	"github.com/resorch/resorch/internal/gates"
	"github.com/resorch/resorch/internal/schema"
	"github.com/resorch/resorch/internal/store"
)

// addDriverFlags registers the flags common to any command that must
// construct an AgentDriver (currently just tick and watch).
func addDriverFlags(c *cobra.Command) {
	c.Flags().String("driver", "", "agent driver: fixture|live|task (default: resorch.yaml driver.type)")
	c.Flags().String("fixture-dir", "", "fixture driver: directory of <perspective_id>.md files")
	c.Flags().String("live-endpoint", "", "live driver: agent endpoint URL")
	c.Flags().String("citations-mode", "offline", "citations validation mode: offline|online")
	c.Flags().String("offline-fixtures", "", "offline citations: path to a JSON fixture map")
	c.Flags().String("summary-entries", "", "path to a JSON array of summary entries (summaries stage)")
	c.Flags().String("synthesis-mode", "generated", "synthesis mode: fixture|generated")
	c.Flags().String("synthesis-md", "", "path to fixture synthesis markdown (synthesis-mode=fixture)")
	c.Flags().String("cited-cid", "", "citation id the generated synthesis should cite")
	c.Flags().String("review-findings", "", "path to a JSON array of review findings (review stage)")
	c.Flags().Bool("bright-data-configured", false, "override: report Bright Data as configured to gate F")
	c.Flags().Bool("apify-configured", false, "override: report Apify as configured to gate F")
}

// buildDriver resolves an AgentDriver from flags, falling back to
// resorch.yaml's driver section when a flag is left empty.
func buildDriver(c *cobra.Command, runRoot string) (agentdriver.AgentDriver, error) {
	kind, _ := c.Flags().GetString("driver")
	if kind == "" {
		kind = cfg.Driver.Type
	}
	fixtureDir, _ := c.Flags().GetString("fixture-dir")
	if fixtureDir == "" {
		fixtureDir = cfg.Driver.FixtureDir
	}
	liveEndpoint, _ := c.Flags().GetString("live-endpoint")
	if liveEndpoint == "" {
		liveEndpoint = cfg.Driver.Endpoint
	}

	switch kind {
	case "fixture":
		return agentdriver.FixtureDriver{FixtureDir: fixtureDir}, nil
	case "live":
		return agentdriver.LiveDriver{Endpoint: liveEndpoint}, nil
	case "task":
		return loadTaskDriver(runRoot)
	default:
		return nil, fmt.Errorf("unknown driver %q: must be fixture, live, or task", kind)
	}
}

// pendingResultsDir is where agent-result stashes out-of-band outputs
// so they survive between the CLI process that records them and the
// later process that runs the next tick.
func pendingResultsDir(runRoot string) string {
	return filepath.Join(runRoot, "operator", "pending-results")
}

func loadTaskDriver(runRoot string) (*agentdriver.TaskDriver, error) {
	d := agentdriver.NewTaskDriver()
	dir := pendingResultsDir(runRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("read pending results dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var out agentdriver.RunAgentOutput
		if e := store.ReadJSON(filepath.Join(dir, entry.Name()), &out); e != nil {
			return nil, e
		}
		perspectiveID := entry.Name()
		if len(perspectiveID) > 5 && perspectiveID[len(perspectiveID)-5:] == ".json" {
			perspectiveID = perspectiveID[:len(perspectiveID)-5]
		}
		d.SubmitResult(perspectiveID, out)
	}
	return d, nil
}

// sweepConsumedPendingResults removes on-disk pending-result files for
// perspective IDs the driver no longer lists as outstanding, i.e. the
// ones the tick just consumed.
func sweepConsumedPendingResults(runRoot string, before []string, d *agentdriver.TaskDriver) {
	after := map[string]bool{}
	for _, id := range d.Remaining() {
		after[id] = true
	}
	for _, id := range before {
		if !after[id] {
			_ = os.Remove(filepath.Join(pendingResultsDir(runRoot), id+".json"))
		}
	}
}

func buildCitationsFixtures(path string) (citations.OfflineFixtures, error) {
	if path == "" {
		return nil, nil
	}
	var fixtures citations.OfflineFixtures
	if e := store.ReadJSON(path, &fixtures); e != nil {
		return nil, e
	}
	return fixtures, nil
}

func buildSummaryEntries(path string) ([]schema.SummaryEntry, error) {
	if path == "" {
		return nil, nil
	}
	var entries []schema.SummaryEntry
	if e := store.ReadJSON(path, &entries); e != nil {
		return nil, e
	}
	return entries, nil
}

func buildReviewFindings(path string) ([]schema.Finding, error) {
	if path == "" {
		return nil, nil
	}
	var findings []schema.Finding
	if e := store.ReadJSON(path, &findings); e != nil {
		return nil, e
	}
	return findings, nil
}

func buildRolloutSafety(c *cobra.Command, citationsMode string, sensitivity schema.Sensitivity) gates.RolloutSafetyEvaluator {
	brightData, _ := c.Flags().GetBool("bright-data-configured")
	apify, _ := c.Flags().GetBool("apify-configured")
	return gates.RolloutSafetyEvaluator{
		CitationsMode:        citationsMode,
		Sensitivity:          sensitivity,
		BrightDataConfigured: brightData || cfg.BrightDataConfigured(),
		ApifyConfigured:      apify || cfg.ApifyConfigured(),
	}
}
