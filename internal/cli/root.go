// Package cli defines the blocks command-line interface.
//
// This package contains:
//   - Command definitions (cobra.Command instances)
//   - Flag wiring and argument validation
//   - Thin glue between the CLI surface and the workflow engine
//
// Commands:
//
//	blocks run [workflow]   - Execute a workflow file
//	blocks version          - Print version information
package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blocksrun/blocks/internal/ui"
)

// errExitSilently signals a non-zero exit without printing anything extra:
// the failure has already been reported on the console (block summary).
var errExitSilently = stderrors.New("exit silently")

// rootCmd is the base command all subcommands attach to.
var rootCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Execute YAML-defined workflows with sequential and parallel blocks",
	Long: `Blocks runs declarative YAML workflows: sequences of local commands,
remote SSH commands, loops over configuration lists, and parallel groups.

Workflow files reference parameter trees via ${file.path.to.value}
placeholders, loaded from a storage directory of YAML files.

Examples:
  blocks run main.yaml
  blocks run deploy.yaml --storage config`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure. Ctrl-C
// cancels the command context so in-flight blocks stop, then exits 130.
func Execute() {
	ui.DisableIfPiped()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)

	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, ui.Warning.Render("\nWorkflow interrupted by user"))
		os.Exit(130)
	}
	if err != nil {
		if !stderrors.Is(err, errExitSilently) {
			fmt.Fprintln(os.Stderr, ui.Failure.Render(err.Error()))
		}
		os.Exit(1)
	}
}
