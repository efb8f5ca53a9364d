package main

import (
	"os"

	"github.com/psantana5/expharness/cmd/expharness/cmd"
	"github.com/psantana5/expharness/internal/executor"
	"github.com/psantana5/expharness/internal/experiment"
)

func main() {
	registry := experiment.DefaultRegistry()

	// Must run before anything else: a worker never reaches the CLI.
	executor.ServeWorkerIfRequested(registry)

	if err := cmd.Execute(registry); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
