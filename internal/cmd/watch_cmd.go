package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/resorch/resorch/internal/errs"
	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/schema"
)

var watchCmd = &cobra.Command{
	Use:   "watch <manifest_path>",
	Short: "Tick a run repeatedly until it finalizes or fails",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addDriverFlags(watchCmd)
	watchCmd.Flags().String("reason", "watch_tick", "audit reason recorded with each tick")
	watchCmd.Flags().Int("interval", 0, "seconds between ticks (default: resorch.yaml watch.interval_seconds)")
	watchCmd.Flags().String("cron", "", "cron expression to schedule ticks instead of a fixed interval")
}

// runWatch drives a run to completion one tick at a time, stopping on
// StageFinalize or on any error the underlying tick does not classify
// as retryable (Paused and PreviousTickIncomplete are retried, since
// both describe transient operator or crash-recovery states rather
// than a run that needs a person).
func runWatch(c *cobra.Command, args []string) error {
	manifestPath := args[0]
	runRoot := runRootFromManifestPath(manifestPath)

	cronExpr, _ := c.Flags().GetString("cron")
	if cronExpr != "" {
		return runWatchCron(c, runRoot, manifestPath, cronExpr)
	}

	interval, _ := c.Flags().GetInt("interval")
	if interval <= 0 {
		interval = cfg.Watch.IntervalSeconds
	}
	if interval <= 0 {
		interval = 30
	}

	for {
		done, err := watchOnce(c, runRoot, manifestPath)
		if done || err != nil {
			return err
		}
		select {
		case <-c.Context().Done():
			return c.Context().Err()
		case <-time.After(time.Duration(interval) * time.Second):
		}
	}
}

func runWatchCron(c *cobra.Command, runRoot, manifestPath, cronExpr string) error {
	sched := cron.New()
	done := make(chan error, 1)

	_, err := sched.AddFunc(cronExpr, func() {
		finished, tickErr := watchOnce(c, runRoot, manifestPath)
		if finished || tickErr != nil {
			done <- tickErr
		}
	})
	if err != nil {
		return fmt.Errorf("invalid --cron expression %q: %w", cronExpr, err)
	}

	sched.Start()
	defer sched.Stop()

	select {
	case err := <-done:
		return err
	case <-c.Context().Done():
		return c.Context().Err()
	}
}

// watchOnce runs a single tick and reports whether the run has reached
// a terminal state the loop should stop on.
func watchOnce(c *cobra.Command, runRoot, manifestPath string) (bool, error) {
	m, e := manifest.Read(manifestPath)
	if e != nil {
		return true, e
	}

	result, err := driveOneTick(c, runRoot, m.Stage.Current)
	if err != nil {
		var tickErr *errs.Error
		if errors.As(err, &tickErr) && (tickErr.Code == errs.Paused || tickErr.Code == errs.PreviousTickIncomplete) {
			slog.Info("watch: tick deferred", "run_root", runRoot, "reason", tickErr.Code)
			return false, nil
		}
		return true, err
	}

	out, _ := json.MarshalIndent(map[string]string{
		"from":   string(result.From),
		"to":     string(result.To),
		"status": string(result.Status),
	}, "", "  ")
	fmt.Fprintln(c.OutOrStdout(), string(out))

	if result.To == schema.StageFinalize || result.Status == schema.StatusFailed || result.Status == schema.StatusCancelled {
		return true, nil
	}
	return false, nil
}
