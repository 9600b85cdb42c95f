// Package remote executes commands on remote hosts over SSH, streaming their
// output into log files line-by-line.
package remote

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kevinburke/ssh_config"

	"github.com/blocksrun/blocks/internal/logger"
)

// Target holds resolved SSH connection parameters.
type Target struct {
	User string
	Host string
	Port string

	// IdentityFile is a specific key picked up from ~/.ssh/config, tried
	// before the default key locations.
	IdentityFile string

	encryptedKeys []string
}

// Address returns the host:port string for dialing.
func (t *Target) Address() string {
	return net.JoinHostPort(t.Host, t.Port)
}

// String renders the target as user@host:port.
func (t *Target) String() string {
	return t.User + "@" + t.Address()
}

// ParseTarget parses a host specifier into connection settings. Accepted
// forms: `ssh://user@host:port`, `user@host`, `host:port`, or a bare host or
// ~/.ssh/config alias. Missing pieces default to the process user (falling
// back to root) and port 22, then ~/.ssh/config fills in anything the
// specifier itself didn't pin down.
func ParseTarget(spec string, log logger.Logger) *Target {
	t := &Target{User: currentUser(), Port: "22"}

	host := strings.TrimPrefix(spec, "ssh://")

	explicitUser := false
	if at := strings.Index(host, "@"); at != -1 {
		t.User = host[:at]
		host = host[at+1:]
		explicitUser = true
	}

	explicitPort := false
	if colon := strings.LastIndex(host, ":"); colon != -1 {
		if port := host[colon+1:]; isAllDigits(port) {
			t.Port = port
			host = host[:colon]
			explicitPort = true
		}
	}
	t.Host = host

	t.fillFromSSHConfig(host, explicitUser, explicitPort, log)
	return t
}

// matchWarningOnce keeps the Match-directive warning to one per process.
var matchWarningOnce sync.Once

// fillFromSSHConfig resolves HostName, Port, User, and IdentityFile from
// ~/.ssh/config. Values the caller gave explicitly are left alone.
func (t *Target) fillFromSSHConfig(alias string, explicitUser, explicitPort bool, log logger.Logger) {
	path := filepath.Join(homeDir(), ".ssh", "config")

	// The ssh_config library can't parse Match directives, so only the
	// content before the first Match block is considered.
	content, matchLine, err := trimAtMatchDirective(path)
	if err != nil {
		return
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return
	}

	found := false
	if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
		t.Host = hostname
		found = true
	}
	if port, _ := cfg.Get(alias, "Port"); port != "" && !explicitPort {
		t.Port = port
		found = true
	}
	if user, _ := cfg.Get(alias, "User"); user != "" && !explicitUser {
		t.User = user
		found = true
	}
	if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
		t.IdentityFile = expandPath(identity)
		found = true
	}

	if matchLine > 0 && !found {
		matchWarningOnce.Do(func() {
			log.Warn("host %q not found in SSH config (a Match block at line %d may hide later entries)",
				alias, matchLine)
		})
	}
}

// trimAtMatchDirective reads an SSH config and returns the content up to the
// first Match directive, plus the 1-indexed line it was found on (0 if none).
func trimAtMatchDirective(path string) ([]byte, int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "match ") {
			return []byte(strings.Join(lines[:i], "\n")), i + 1, nil
		}
	}
	return content, 0, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
