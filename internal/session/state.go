// Package session emulates one continuous shell session across independent
// OS processes.
//
// Each command runs in a fresh shell, with instrumentation appended so the
// working directory and exported environment survive into the next command:
// on success the shell emits a directory marker, its pwd, an environment
// marker, and an `export -p` dump. The tracker parses those sections out of
// the captured output and carries the state forward.
package session

import (
	"os"
	"regexp"
	"strings"
)

// State is the tracked shell state: the current directory and the
// environment map handed to the next command.
type State struct {
	Dir string
	Env map[string]string
}

// NewState captures the calling process's directory and environment.
func NewState() *State {
	dir, err := os.Getwd()
	if err != nil {
		dir = "/"
	}
	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return &State{Dir: dir, Env: env}
}

// Clone returns an independent copy. Parallel blocks each get their own
// clone so concurrent commands cannot race on shared state.
func (s *State) Clone() *State {
	env := make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		env[k] = v
	}
	return &State{Dir: s.Dir, Env: env}
}

// EnvSlice renders the environment in the KEY=value form exec.Cmd wants.
func (s *State) EnvSlice() []string {
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	return out
}

// envDeclPattern recognizes the assignment forms an `export -p` dump (or a
// plain export statement) can produce, with double-quoted, single-quoted, or
// bare values.
var envDeclPattern = regexp.MustCompile(`^(?:declare -x |export )?([A-Za-z_][A-Za-z0-9_]*)=(?:"([^"]*)"|'([^']*)'|(\S+))`)

// applyEnvDump parses an environment dump line-by-line and folds every
// recognized assignment into the state.
func (s *State) applyEnvDump(dump string) {
	for _, line := range strings.Split(dump, "\n") {
		m := envDeclPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := m[2]
		if value == "" {
			value = m[3]
		}
		if value == "" {
			value = m[4]
		}
		s.Env[m[1]] = value
	}
}
