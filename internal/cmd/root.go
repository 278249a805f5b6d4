// Package cmd wires the resorch operator CLI's command tree (spec.md
// §6.1): init, tick, agent-result, triage, pause, resume, cancel, plus
// the status and watch conveniences this expansion adds. Grounded on
// the teacher's cmd/tarsy/main.go flag/env resolution and on
// jra3-linear-fuse's internal/cmd package-level rootCmd/init() layout.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/resorch/resorch/internal/config"
	"github.com/resorch/resorch/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:     "resorch",
	Short:   "Deterministic, resumable research-run orchestrator",
	Long:    "resorch drives a research run's lifecycle state machine one tick at a time, with every decision reconstructible from the run root on disk.",
	Version: version.Full(),
}

var cfg *config.Config

// Execute runs the command tree against ctx (so a tick's lock
// acquisition and HTTP calls observe cancellation) and returns the
// error the invoked subcommand produced, if any; main maps it to an
// exit code.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to resorch.yaml (default: $RESORCH_CONFIG or ./resorch.yaml)")
	cobra.OnInitialize(loadConfig)
}

func loadConfig() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load resorch config, using defaults", "error", err)
		loaded = config.Defaults()
	}
	cfg = loaded
}
