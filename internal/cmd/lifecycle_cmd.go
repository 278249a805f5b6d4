package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/resorch/resorch/internal/manifest"
	"github.com/resorch/resorch/internal/schema"
)

func newLifecycleCmd(use, short string, status schema.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <manifest_path>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			st := status
			runRoot := runRootFromManifestPath(args[0])
			_, e := manifest.Write(runRoot, nil, manifest.Patch{Status: &st}, use+"_cmd", "")
			if e != nil {
				return e
			}
			fmt.Fprintf(c.OutOrStdout(), "run %s is now %s\n", args[0], status)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newLifecycleCmd("pause", "Pause a run", schema.StatusPaused))
	rootCmd.AddCommand(newLifecycleCmd("resume", "Resume a paused run", schema.StatusRunning))
	rootCmd.AddCommand(newLifecycleCmd("cancel", "Cancel a run", schema.StatusCancelled))
}
