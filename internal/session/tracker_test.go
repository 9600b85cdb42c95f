package session

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocksrun/blocks/internal/config"
	"github.com/blocksrun/blocks/internal/logger"
)

func newTestTracker(t *testing.T) (*Tracker, *bytes.Buffer) {
	t.Helper()
	store := config.New(logger.Noop())
	store.Load()
	var out bytes.Buffer
	tr := New(store, logger.Noop(), WithOutput(&out))
	return tr, &out
}

func resolved(t *testing.T, path string) string {
	t.Helper()
	r, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return r
}

func TestRunCapturesOutput(t *testing.T) {
	tr, out := newTestTracker(t)

	success, stdout, stderr := tr.Run(context.Background(), "echo hello", "greet")
	assert.True(t, success)
	assert.Equal(t, "hello\n", stdout)
	assert.Empty(t, stderr)

	// Marker tokens never leak into returned or echoed output.
	assert.NotContains(t, stdout, markerPwd)
	assert.NotContains(t, out.String(), markerPwd)
	assert.NotContains(t, out.String(), "declare -x")
	assert.Contains(t, out.String(), "  hello")
}

func TestRunDirectoryPersists(t *testing.T) {
	tr, _ := newTestTracker(t)
	dir := t.TempDir()

	success, _, _ := tr.Run(context.Background(), "cd "+dir, "enter")
	require.True(t, success)
	assert.Equal(t, resolved(t, dir), resolved(t, tr.State().Dir))

	// The next command starts from the tracked directory.
	success, stdout, _ := tr.Run(context.Background(), "pwd", "where")
	require.True(t, success)
	assert.Equal(t, resolved(t, dir), resolved(t, strings.TrimSpace(stdout)))
}

func TestRunEnvironmentPersists(t *testing.T) {
	tr, _ := newTestTracker(t)

	success, _, _ := tr.Run(context.Background(), "export BLOCKS_TEST_FLAVOR=mint", "set")
	require.True(t, success)
	assert.Equal(t, "mint", tr.State().Env["BLOCKS_TEST_FLAVOR"])

	success, stdout, _ := tr.Run(context.Background(), "echo $BLOCKS_TEST_FLAVOR", "get")
	require.True(t, success)
	assert.Equal(t, "mint\n", stdout)
}

func TestRunReportsCommandExitStatus(t *testing.T) {
	tr, _ := newTestTracker(t)

	// A failing command must report failure even when it prints nothing:
	// the state-capture epilogue may not mask the command's own status.
	success, stdout, stderr := tr.Run(context.Background(), "false", "quiet failure")
	assert.False(t, success)
	assert.Empty(t, stdout)
	assert.Empty(t, stderr)

	success, _, _ = tr.Run(context.Background(), "exit 7", "explicit status")
	assert.False(t, success)

	success, _, _ = tr.Run(context.Background(), "true", "success")
	assert.True(t, success)
}

func TestRunFailureDoesNotMutateState(t *testing.T) {
	tr, _ := newTestTracker(t)
	before := tr.State().Dir
	envBefore := len(tr.State().Env)

	success, _, stderr := tr.Run(context.Background(),
		"export BLOCKS_TEST_LOST=1; cd /definitely/not/here", "fail")
	assert.False(t, success)
	assert.NotEmpty(t, stderr)
	assert.Equal(t, before, tr.State().Dir)
	assert.NotContains(t, tr.State().Env, "BLOCKS_TEST_LOST")
	assert.Len(t, tr.State().Env, envBefore)
}

func TestRunStderrCaptured(t *testing.T) {
	tr, out := newTestTracker(t)

	success, _, stderr := tr.Run(context.Background(), "echo oops >&2; false", "boom")
	assert.False(t, success)
	assert.Equal(t, "oops\n", stderr)
	assert.Contains(t, out.String(), "Error: oops")
}

func TestRunHeaderShowsPreparedCommand(t *testing.T) {
	tr, out := newTestTracker(t)

	tr.Run(context.Background(), "true", "noop")
	assert.Contains(t, out.String(), "Executing: noop")
	assert.Contains(t, out.String(), "cd ")
	assert.Contains(t, out.String(), "Working Directory: "+tr.State().Dir)
}

func TestPrecalcTarget(t *testing.T) {
	tests := []struct {
		name    string
		command string
		current string
		want    string
	}{
		{"not cd", "ls -la", "/home/x", ""},
		{"bare cd", "cd", "/home/x", ""},
		{"absolute", "cd /var/log", "/home/x", "/var/log"},
		{"relative", "cd build", "/home/x", "/home/x/build"},
		{"parent", "cd ..", "/home/x", "/home"},
		{"dot segments", "cd ./a/../b", "/home/x", "/home/x/b"},
		{"and operator", "cd /srv && make", "/home/x", "/srv"},
		{"or operator", "cd /srv || exit 1", "/home/x", "/srv"},
		{"semicolon", "cd /srv; ls", "/home/x", "/srv"},
		{"pipe", "cd /srv | cat", "/home/x", "/srv"},
		{"leading spaces", "  cd /srv  ", "/home/x", "/srv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, precalcTarget(tt.command, tt.current))
		})
	}
}

func TestPrecalcFallbackUsedWhenPwdMissing(t *testing.T) {
	tr, _ := newTestTracker(t)
	dir := t.TempDir()

	// Markers present but the pwd section holds no existing directory:
	// the precalculated target applies for a cd command.
	out := "text\n" + markerPwd + "\nnot-a-directory\n" + markerEnv + "\n"
	cleaned := tr.extractState(out, "cd "+dir, true, dir)
	assert.Equal(t, "text\n", cleaned)
	assert.Equal(t, dir, tr.State().Dir)
}

func TestExtractStateWithoutMarkersIsPassthrough(t *testing.T) {
	tr, _ := newTestTracker(t)
	before := tr.State().Dir

	cleaned := tr.extractState("plain output\n", "echo hi", true, "")
	assert.Equal(t, "plain output\n", cleaned)
	assert.Equal(t, before, tr.State().Dir)
}

func TestApplyEnvDumpForms(t *testing.T) {
	tests := []struct {
		name string
		line string
		key  string
		want string
	}{
		{"declare double quoted", `declare -x PATH="/usr/bin"`, "PATH", "/usr/bin"},
		{"declare single quoted", `declare -x NAME='joe'`, "NAME", "joe"},
		{"declare bare", `declare -x COUNT=3`, "COUNT", "3"},
		{"export form", `export MODE="fast"`, "MODE", "fast"},
		{"plain assignment", `TOKEN=abc123`, "TOKEN", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{Env: map[string]string{}}
			s.applyEnvDump(tt.line + "\n")
			assert.Equal(t, tt.want, s.Env[tt.key])
		})
	}
}

func TestApplyEnvDumpIgnoresJunk(t *testing.T) {
	s := &State{Env: map[string]string{}}
	s.applyEnvDump("declare -x NOVAL\nnot an assignment\n9BAD=1\n")
	assert.Empty(t, s.Env)
}

func TestStateClone(t *testing.T) {
	s := &State{Dir: "/a", Env: map[string]string{"K": "v"}}
	c := s.Clone()
	c.Dir = "/b"
	c.Env["K"] = "changed"
	c.Env["NEW"] = "x"

	assert.Equal(t, "/a", s.Dir)
	assert.Equal(t, "v", s.Env["K"])
	assert.NotContains(t, s.Env, "NEW")
}

func TestResolveHelperPath(t *testing.T) {
	t.Setenv(FrameworkDirEnv, "/opt/blocks")

	assert.Equal(t, "/opt/blocks/remotely user@host pw 'ls' out.log",
		resolveHelperPath("remotely user@host pw 'ls' out.log"))
	// Only standalone references are rewritten.
	assert.Equal(t, "echo remotely-ish", resolveHelperPath("echo remotely-ish"))

	os.Unsetenv(FrameworkDirEnv)
	assert.Equal(t, "remotely x", resolveHelperPath("remotely x"))
}

func TestInterpolationAppliesBeforeRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cfg.yaml"),
		[]byte("word: bird\n"), 0o644))
	store := config.New(logger.Noop(), dir)
	store.Load()

	var out bytes.Buffer
	tr := New(store, logger.Noop(), WithOutput(&out))

	success, stdout, _ := tr.Run(context.Background(), "echo ${cfg.word}", "interp")
	require.True(t, success)
	assert.Equal(t, "bird\n", stdout)
}
