// Remotely executes a command on a remote host over SSH and streams its
// output to a local log file. The blocks runner rewrites bare `remotely`
// tokens in workflow commands to this binary's absolute path, but it works
// just as well standalone.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blocksrun/blocks/internal/logger"
	"github.com/blocksrun/blocks/internal/remote"
	"github.com/blocksrun/blocks/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "remotely <ssh-url> <password> <command> <log-file>",
	Short: "Execute remote SSH commands and stream logs to a local file",
	Long: `Execute a command on a remote machine over SSH, streaming stdout and
stderr line by line into a local log file. Progress-bar style carriage
returns are flattened so the log stays readable.

Relative log paths resolve against BLOCKS_WORKFLOW_DIR when set (the
blocks runner exports it), otherwise against the current directory.

Examples:
  remotely user@host.com password123 "ls -la" ./logs/output.log
  remotely ssh://admin@192.168.1.100:2222 pass "apt-get upgrade -y" ./logs/upgrade.log`,
	Args:          cobra.ExactArgs(4),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		sshURL, password, command, logFile := args[0], args[1], args[2], args[3]

		exec := remote.NewExecutor(logger.Default())
		success, _, _ := exec.Run(cmd.Context(), "", sshURL, password, command, logFile)
		if !success {
			return errCommandFailed
		}
		return nil
	},
}

var errCommandFailed = fmt.Errorf("remote command failed")

func main() {
	ui.DisableIfPiped()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)

	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, ui.Warning.Render("\nInterrupted by user"))
		os.Exit(130)
	}
	if err != nil {
		if err != errCommandFailed {
			fmt.Fprintln(os.Stderr, ui.Failure.Render(err.Error()))
		}
		os.Exit(1)
	}
}
