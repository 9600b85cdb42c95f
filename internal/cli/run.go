package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blocksrun/blocks/internal/config"
	"github.com/blocksrun/blocks/internal/errors"
	"github.com/blocksrun/blocks/internal/logger"
	"github.com/blocksrun/blocks/internal/remote"
	"github.com/blocksrun/blocks/internal/runner"
	"github.com/blocksrun/blocks/internal/session"
	"github.com/blocksrun/blocks/internal/workflow"
)

var runStorageFlag string

// runCmd executes a workflow file.
var runCmd = &cobra.Command{
	Use:   "run [workflow]",
	Short: "Execute a workflow YAML file",
	Long: `Execute the blocks of a workflow YAML file in order.

Relative paths inside the workflow (log files, the storage directory)
resolve against the workflow file's own directory, not the shell's
current directory.

Examples:
  blocks run main.yaml
  blocks run deploy.yaml --storage config`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, args[0], runStorageFlag)
	},
}

func init() {
	runCmd.Flags().StringVar(&runStorageFlag, "storage", "storage", "directory containing configuration YAML files")
	rootCmd.AddCommand(runCmd)
}

// runWorkflow loads and executes a workflow file. A false result from the
// runner surfaces as a silent non-zero exit: the block summary has already
// told the user what failed.
func runWorkflow(cmd *cobra.Command, workflowFile, storage string) error {
	abs, err := filepath.Abs(workflowFile)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("cannot resolve workflow path '%s'", workflowFile))
	}
	if _, err := os.Stat(abs); err != nil {
		return errors.New(errors.ErrWorkflow,
			fmt.Sprintf("workflow file '%s' not found", workflowFile),
			"Check the path, or run 'ls *.yaml' to list workflows in this directory")
	}

	wf, err := workflow.Load(abs)
	if err != nil {
		return err
	}

	// All relative paths in the workflow resolve against its directory.
	dir := filepath.Dir(abs)
	if err := enterWorkflowDir(dir); err != nil {
		return err
	}

	// Workflows reference the remotely helper by bare name; point the
	// rewrite at our own install directory unless the caller overrode it.
	if os.Getenv(session.FrameworkDirEnv) == "" {
		if exe, eerr := os.Executable(); eerr == nil {
			_ = os.Setenv(session.FrameworkDirEnv, filepath.Dir(exe))
		}
	}

	log := logger.Default()
	store := config.New(log, storage)
	store.Load()

	r := runner.New(store, log)
	if !r.Execute(cmd.Context(), wf) {
		return errExitSilently
	}
	return nil
}

// enterWorkflowDir publishes the workflow directory for the remote log
// resolver and makes it the working directory for every block.
func enterWorkflowDir(dir string) error {
	if err := os.Setenv(remote.WorkflowDirEnv, dir); err != nil {
		return errors.Wrap(err, "cannot set workflow directory")
	}
	if err := os.Chdir(dir); err != nil {
		return errors.Wrap(err, fmt.Sprintf("cannot change to workflow directory '%s'", dir))
	}
	return nil
}
