// resorch drives a research run's lifecycle state machine one tick at
// a time; see internal/cmd for the command tree.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/resorch/resorch/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	if err != nil {
		slog.Error("resorch command failed", "error", err)
	}
	os.Exit(cmd.ExitCodeFor(err))
}
