package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/blocksrun/blocks/internal/config"
	"github.com/blocksrun/blocks/internal/logger"
	"github.com/blocksrun/blocks/internal/ui"
)

// Marker tokens appended to every command on success. They separate the
// command's real output from the pwd report and the environment dump, and
// must never occur in ordinary output.
const (
	markerPwd = "__BLOCKS_PWD__"
	markerEnv = "__BLOCKS_ENV__"
)

const shellPath = "/bin/bash"

// stateCapture saves the command's exit status before testing it: the
// markers are emitted only on success, so failed commands never mutate the
// tracked state, and the final exit re-raises the saved status so the shell
// reports the command's own result rather than the capture block's.
const stateCapture = "rc=$?; if [ $rc -eq 0 ]; then " +
	"echo '" + markerPwd + "'; pwd; " +
	"echo '" + markerEnv + "'; export -p; " +
	"fi; exit $rc"

// Tracker runs commands through the platform shell while persisting the
// working directory and environment between them.
type Tracker struct {
	store *config.Store
	log   logger.Logger
	state *State

	out    io.Writer
	echoMu sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithState starts the tracker from an existing state instead of the
// process's own directory and environment.
func WithState(s *State) Option {
	return func(t *Tracker) { t.state = s }
}

// WithOutput redirects console echo, mainly for tests.
func WithOutput(w io.Writer) Option {
	return func(t *Tracker) { t.out = w }
}

// New creates a Tracker seeded from the current process state.
func New(store *config.Store, log logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{store: store, log: log, out: os.Stdout}
	for _, opt := range opts {
		opt(t)
	}
	if t.state == nil {
		t.state = NewState()
	}
	return t
}

// State returns the tracked state. The runner clones it for parallel blocks.
func (t *Tracker) State() *State {
	return t.state
}

// Run executes a command with full state tracking: prepare it, run it under
// the shell with state capture appended, stream output live, then fold any
// directory or environment changes back into the session. The returned
// stdout has the instrumentation sections stripped.
func (t *Tracker) Run(ctx context.Context, command, name string) (success bool, stdout, stderr string) {
	prepared, interpolated := t.prepare(command)
	target := precalcTarget(interpolated, t.state.Dir)

	t.printHeader(name, prepared)

	script := strings.TrimRight(prepared, " \t\r\n") + "\n" + stateCapture
	cmd := exec.CommandContext(ctx, shellPath, "-c", script)
	cmd.Env = t.state.EnvSlice()

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return t.startFailure(err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return t.startFailure(err)
	}
	if err := cmd.Start(); err != nil {
		return t.startFailure(err)
	}

	t.log.Debug("started %s -c %q", shellPath, prepared)

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.stream(outPipe, &outBuf, isInstrumentationLine)
	}()
	go func() {
		defer wg.Done()
		t.stream(errPipe, &errBuf, isBlankLine)
	}()
	wg.Wait()

	success = cmd.Wait() == nil
	stdout = t.extractState(outBuf.String(), command, success, target)
	stderr = errBuf.String()

	if !success && strings.TrimSpace(stderr) != "" {
		fmt.Fprintln(t.out, ui.Failure.Render("  Error: "+strings.TrimSpace(stderr)))
	}
	return success, stdout, stderr
}

func (t *Tracker) startFailure(err error) (bool, string, string) {
	msg := "Command execution failed: " + err.Error()
	fmt.Fprintln(t.out, ui.Failure.Render("  Error: "+msg))
	return false, "", msg
}

func (t *Tracker) printHeader(name, prepared string) {
	fmt.Fprintln(t.out, ui.Info.Render("  Executing: "+name))
	fmt.Fprintln(t.out, ui.Detail.Render("  Command: "+prepared))
	fmt.Fprintln(t.out, ui.Accent.Render("  Working Directory: "+t.state.Dir))
}

// stream echoes one pipe to the console line-by-line while buffering all of
// it for state extraction. Lines the suppress predicate matches are kept in
// the buffer but never shown.
func (t *Tracker) stream(r io.Reader, buf *strings.Builder, suppress func(string) bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if suppress(line) {
			continue
		}
		t.echoMu.Lock()
		fmt.Fprintf(t.out, "  %s\n", strings.TrimRight(line, " \t"))
		t.echoMu.Unlock()
	}
}

func isInstrumentationLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == markerPwd || trimmed == markerEnv ||
		strings.HasPrefix(trimmed, "declare -x ")
}

func isBlankLine(line string) bool {
	return strings.TrimSpace(line) == ""
}

// extractState splits captured stdout on the marker tokens, applies any
// directory and environment changes (only for successful commands; the
// capture script already guards this, but a marker-less output must never
// mutate state either), and returns the cleaned output.
func (t *Tracker) extractState(stdout, original string, success bool, precalc string) string {
	if !strings.Contains(stdout, markerPwd) {
		return stdout
	}

	parts := strings.SplitN(stdout, markerPwd, 2)
	cleaned := parts[0]
	remainder := parts[1]

	if strings.Contains(remainder, markerEnv) {
		envParts := strings.SplitN(remainder, markerEnv, 2)
		if success {
			t.applyPwdSection(strings.TrimSpace(envParts[0]), original, precalc)
			t.state.applyEnvDump(envParts[1])
		}
	} else if success {
		lines := strings.Split(strings.TrimSpace(remainder), "\n")
		t.applyPwdSection(lines[len(lines)-1], original, precalc)
	}
	return cleaned
}

// applyPwdSection takes the first line of the pwd section that names an
// existing directory; the shell's own report always wins over the
// precalculated cd target, which only serves as a fallback.
func (t *Tracker) applyPwdSection(section, original, precalc string) {
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && isDir(line) {
			t.setDir(line)
			return
		}
	}
	if precalc != "" && strings.HasPrefix(strings.TrimSpace(original), "cd ") {
		t.setDir(precalc)
	}
}

func (t *Tracker) setDir(dir string) {
	if dir == t.state.Dir {
		return
	}
	t.state.Dir = dir
	fmt.Fprintln(t.out, ui.Success.Render("  Changed directory to: "+dir))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
