package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/3leaps/gobmc/internal/cmd"
	"github.com/3leaps/gobmc/internal/observability"
)

// Set by -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var ee *cmd.ExitError
	msg := "gobmc failed"
	if errors.As(err, &ee) {
		msg = ee.Message
	}
	cmd.ExitWithCode(observability.CLILogger, cmd.ExitCode(err), msg, err)
}
