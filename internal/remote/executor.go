package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/blocksrun/blocks/internal/logger"
	"github.com/blocksrun/blocks/internal/ui"
)

// WorkflowDirEnv anchors relative log paths. The runner sets it to the
// workflow file's directory so `log-into: logs/x.log` lands next to the
// workflow regardless of where commands have cd'd to.
const WorkflowDirEnv = "BLOCKS_WORKFLOW_DIR"

// Executor runs commands on remote hosts over SSH.
type Executor struct {
	log logger.Logger
	out io.Writer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithOutput redirects console messages, mainly for tests.
func WithOutput(w io.Writer) ExecutorOption {
	return func(e *Executor) { e.out = w }
}

// NewExecutor creates a remote Executor.
func NewExecutor(log logger.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{log: log, out: os.Stdout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes a command on user@host. Errors never propagate to the caller:
// connection, authentication, and mid-stream failures all land in the
// returned stderr string with success false. Only the remote exit status
// makes success true.
//
// With a log file, output streams there and stdout reports its location.
// Without one, output goes through a transient log file that is echoed to
// the console live, returned as stdout, then deleted.
func (e *Executor) Run(ctx context.Context, user, host, password, command, logFile string) (success bool, stdout, stderr string) {
	spec := host
	if user != "" {
		spec = user + "@" + host
	}
	target := ParseTarget(spec, e.log)

	fmt.Fprintln(e.out, ui.Info.Render(fmt.Sprintf("Connecting to %s...", target)))

	client, err := Dial(target, password)
	if err != nil {
		fmt.Fprintln(e.out, ui.Failure.Render("Connection failed: "+err.Error()))
		return false, "", err.Error()
	}
	defer client.Close()

	fmt.Fprintln(e.out, ui.Success.Render("Successfully connected to "+target.Host))

	if logFile != "" {
		logPath, err := resolveLogPath(logFile)
		if err != nil {
			fmt.Fprintln(e.out, ui.Failure.Render("Can't create log file: "+err.Error()))
			return false, "", err.Error()
		}

		fmt.Fprintln(e.out, ui.Detail.Render("Executing command: "+command))
		fmt.Fprintln(e.out, ui.Warning.Render("Streaming logs to: "+logPath))

		success, err := stream(ctx, client, target, command, password, logPath, nil)
		if err != nil {
			fmt.Fprintln(e.out, ui.Failure.Render("Error during command execution: "+err.Error()))
			return false, "", err.Error()
		}
		return success, "Log written to " + logPath, ""
	}

	// No log file requested: capture through a temp file so output can
	// still stream to the console and come back as stdout.
	tmp, err := os.CreateTemp("", "blocks-remote-*.log")
	if err != nil {
		return false, "", err.Error()
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	fmt.Fprintln(e.out, ui.Detail.Render("Executing command: "+command))

	success, err = stream(ctx, client, target, command, password, tmpPath, e.out)
	if err != nil {
		fmt.Fprintln(e.out, ui.Failure.Render("Error during command execution: "+err.Error()))
		return false, "", err.Error()
	}

	content, err := os.ReadFile(tmpPath)
	if err != nil {
		return success, "", err.Error()
	}
	return success, string(content), ""
}

// resolveLogPath makes a log path absolute (relative paths anchor to the
// workflow directory) and creates its parent directories.
func resolveLogPath(logFile string) (string, error) {
	path := logFile
	if !filepath.IsAbs(path) {
		base := os.Getenv(WorkflowDirEnv)
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			base = wd
		}
		path = filepath.Join(base, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
