package session

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/blocksrun/blocks/internal/util"
)

// FrameworkDirEnv points at the installation directory of the tool itself.
// When set, bare references to the remote-execution helper are rewritten to
// an absolute path so workflows work from any directory.
const FrameworkDirEnv = "BLOCKS_FRAMEWORK_DIR"

const helperName = "remotely"

var (
	helperPattern  = regexp.MustCompile(`(^|\s)remotely($|\s)`)
	shellOpPattern = regexp.MustCompile(`\s*(?:&&|\|\||[;|])\s*`)
)

// prepare makes a raw command executable from the tracked directory:
// interpolate config references, resolve the helper path, then prefix an
// explicit cd so the command starts where the session last left off. The
// interpolated form (without the cd prefix) is returned too; the cd-target
// fallback is computed from it.
func (t *Tracker) prepare(command string) (prepared, interpolated string) {
	interpolated = resolveHelperPath(t.store.Interpolate(command))
	prepared = "cd " + util.ShellQuote(t.state.Dir) + " && " + interpolated
	return prepared, interpolated
}

// resolveHelperPath rewrites standalone references to the remotely helper to
// an absolute path under the framework directory, when that hint is set.
func resolveHelperPath(command string) string {
	dir := os.Getenv(FrameworkDirEnv)
	if dir == "" {
		return command
	}
	return helperPattern.ReplaceAllString(command, "${1}"+filepath.Join(dir, helperName)+"${2}")
}

// precalcTarget computes the directory a cd command would land in, used as a
// fallback when the shell's own pwd report is missing from the output.
// Returns "" for commands that are not cd.
func precalcTarget(command, currentDir string) string {
	trimmed := strings.TrimSpace(command)
	if !strings.HasPrefix(trimmed, "cd ") {
		return ""
	}

	target := strings.TrimSpace(trimmed[len("cd "):])
	if target == "" {
		return ""
	}

	// Keep only the path, dropping anything after a shell operator.
	if parts := shellOpPattern.Split(target, 2); len(parts) > 0 {
		target = strings.TrimSpace(parts[0])
	}
	if target == "" {
		return ""
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(currentDir, target)
	}
	return filepath.Clean(target)
}
