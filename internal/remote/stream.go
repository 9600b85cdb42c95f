package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/blocksrun/blocks/internal/util"
)

const logSeparator = "=================================================="

// lineWriter buffers bytes into lines and writes each completed line to the
// log (and optionally echoes it to the console). A carriage return flushes
// the current line, so progress bars that redraw in place land in the log as
// one line per redraw instead of one unreadable blob.
type lineWriter struct {
	dst  io.Writer
	echo io.Writer
	buf  []byte
}

func newLineWriter(dst, echo io.Writer) *lineWriter {
	return &lineWriter{dst: dst, echo: echo}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for i, b := range p {
		switch b {
		case '\r':
			if len(w.buf) > 0 {
				if err := w.flushLine(); err != nil {
					return i, err
				}
			}
		case '\n':
			if err := w.flushLine(); err != nil {
				return i, err
			}
		default:
			w.buf = append(w.buf, b)
		}
	}
	return len(p), nil
}

// Flush writes any trailing partial line.
func (w *lineWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	return w.flushLine()
}

func (w *lineWriter) flushLine() error {
	line := w.buf
	w.buf = w.buf[:0]
	if _, err := w.dst.Write(append(line, '\n')); err != nil {
		return err
	}
	if w.echo != nil {
		fmt.Fprintf(w.echo, "  %s\n", line)
	}
	return nil
}

// prefixWriter tags every chunk written through it, used to mark stderr data
// in the log when the PTY doesn't merge the streams.
type prefixWriter struct {
	dst    io.Writer
	prefix string
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := io.WriteString(w.dst, w.prefix); err != nil {
		return 0, err
	}
	return w.dst.Write(p)
}

// rewriteSudo pipes the password into sudo's stdin-read mode so remote
// privilege escalation works without a terminal prompt.
func rewriteSudo(command, password string) string {
	if password == "" || !strings.Contains(command, "sudo") {
		return command
	}
	return strings.ReplaceAll(command, "sudo ",
		"echo "+util.ShellQuote(password)+" | sudo -S ")
}

// stream runs the command on an established connection with a PTY attached,
// writing its output to logPath line-by-line with a header and footer. The
// success flag reflects only the remote exit status.
func stream(ctx context.Context, client *ssh.Client, target *Target, command, password, logPath string, echo io.Writer) (bool, error) {
	f, err := os.Create(logPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	fmt.Fprintf(f, "=== SSH Log Stream Started ===\n")
	fmt.Fprintf(f, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(f, "Host: %s\n", target)
	fmt.Fprintf(f, "Command: %s\n", command)
	fmt.Fprintf(f, "%s\n\n", logSeparator)

	session, err := client.NewSession()
	if err != nil {
		return false, err
	}
	defer session.Close()

	// A PTY merges stderr into stdout and makes interactive-ish tools
	// (apt, wget, dd) produce their usual progress output.
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 40, 80, modes); err != nil {
		return false, err
	}

	lines := newLineWriter(f, echo)
	session.Stdout = lines
	session.Stderr = &prefixWriter{dst: lines, prefix: "[STDERR] "}

	if err := session.Start(rewriteSudo(command, password)); err != nil {
		return false, err
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		waitErr = ctx.Err()
	case waitErr = <-done:
	}
	lines.Flush()

	exitStatus := 0
	if waitErr != nil {
		var exitErr *ssh.ExitError
		if stderrors.As(waitErr, &exitErr) {
			exitStatus = exitErr.ExitStatus()
		} else {
			fmt.Fprintf(f, "\nError during command execution: %v\n", waitErr)
			return false, waitErr
		}
	}

	fmt.Fprintf(f, "\n%s\n", logSeparator)
	fmt.Fprintf(f, "Command completed with exit status: %d\n", exitStatus)
	fmt.Fprintf(f, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(f, "=== SSH Log Stream Ended ===\n")

	return exitStatus == 0, nil
}
