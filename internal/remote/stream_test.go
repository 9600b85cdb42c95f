package remote

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineWriterNewlines(t *testing.T) {
	var dst bytes.Buffer
	w := newLineWriter(&dst, nil)

	_, err := w.Write([]byte("hello\nworld\n"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", dst.String())
}

func TestLineWriterCarriageReturnRedraws(t *testing.T) {
	var dst bytes.Buffer
	w := newLineWriter(&dst, nil)

	// A progress bar redrawing in place becomes one line per redraw.
	_, err := w.Write([]byte("10%\r50%\r100%\n"))
	require.NoError(t, err)
	assert.Equal(t, "10%\n50%\n100%\n", dst.String())
}

func TestLineWriterCRLFIsOneLine(t *testing.T) {
	var dst bytes.Buffer
	w := newLineWriter(&dst, nil)

	// A carriage return with nothing buffered is dropped.
	_, err := w.Write([]byte("\r\rline\n"))
	require.NoError(t, err)
	assert.Equal(t, "line\n", dst.String())
}

func TestLineWriterFlushTrailingPartial(t *testing.T) {
	var dst bytes.Buffer
	w := newLineWriter(&dst, nil)

	_, err := w.Write([]byte("no newline"))
	require.NoError(t, err)
	assert.Empty(t, dst.String())

	require.NoError(t, w.Flush())
	assert.Equal(t, "no newline\n", dst.String())
}

func TestLineWriterSplitAcrossWrites(t *testing.T) {
	var dst bytes.Buffer
	w := newLineWriter(&dst, nil)

	for _, chunk := range []string{"par", "tial ", "line", "\n"} {
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}
	assert.Equal(t, "partial line\n", dst.String())
}

func TestLineWriterEchoIndents(t *testing.T) {
	var dst, echo bytes.Buffer
	w := newLineWriter(&dst, &echo)

	_, err := w.Write([]byte("out\n"))
	require.NoError(t, err)
	assert.Equal(t, "out\n", dst.String())
	assert.Equal(t, "  out\n", echo.String())
}

// failAfterWriter accepts n writes, then fails.
type failAfterWriter struct {
	n   int
	err error
}

func (w *failAfterWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, w.err
	}
	w.n--
	return len(p), nil
}

func TestLineWriterReportsConsumedBytesOnError(t *testing.T) {
	sink := &failAfterWriter{n: 1, err: os.ErrClosed}
	w := newLineWriter(sink, nil)

	// The second newline hits the failing sink; the count must cover only
	// the bytes processed before it.
	n, err := w.Write([]byte("ok\nbad\nrest"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.Equal(t, 6, n)
	assert.Less(t, n, len("ok\nbad\nrest"))
}

func TestPrefixWriter(t *testing.T) {
	var dst bytes.Buffer
	w := &prefixWriter{dst: &dst, prefix: "[STDERR] "}

	n, err := w.Write([]byte("bad thing\n"))
	require.NoError(t, err)
	assert.Equal(t, len("bad thing\n"), n)
	assert.Equal(t, "[STDERR] bad thing\n", dst.String())

	n, err = w.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRewriteSudo(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		password string
		want     string
	}{
		{
			name:     "sudo with password",
			command:  "sudo systemctl restart app",
			password: "s3cret",
			want:     "echo 's3cret' | sudo -S systemctl restart app",
		},
		{
			name:     "multiple sudo",
			command:  "sudo apt update && sudo apt upgrade -y",
			password: "pw",
			want:     "echo 'pw' | sudo -S apt update && echo 'pw' | sudo -S apt upgrade -y",
		},
		{
			name:     "no password leaves command alone",
			command:  "sudo reboot",
			password: "",
			want:     "sudo reboot",
		},
		{
			name:     "no sudo",
			command:  "ls -la",
			password: "pw",
			want:     "ls -la",
		},
		{
			name:     "password with quote is escaped",
			command:  "sudo id",
			password: "it's",
			want:     `echo 'it'\''s' | sudo -S id`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rewriteSudo(tt.command, tt.password))
		})
	}
}

func TestResolveLogPathRelativeToWorkflowDir(t *testing.T) {
	base := t.TempDir()
	t.Setenv(WorkflowDirEnv, base)

	path, err := resolveLogPath("logs/run.log")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "logs", "run.log"), path)

	// Parent directories get created.
	info, err := os.Stat(filepath.Join(base, "logs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolveLogPathAbsolute(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(WorkflowDirEnv, "/should/not/matter")

	path, err := resolveLogPath(filepath.Join(dir, "out.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.log"), path)
}

func TestSuggestionForDialError(t *testing.T) {
	assert.Contains(t, suggestionForDialError(errString("connection refused")), "Is SSH running")
	assert.Contains(t, suggestionForDialError(errString("no route to host")), "route")
	assert.Contains(t, suggestionForDialError(errString("i/o timeout")), "timed out")
	assert.Contains(t, suggestionForDialError(errString("whatever")), "reachable")
}

type errString string

func (e errString) Error() string { return string(e) }
