package remote

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/blocksrun/blocks/internal/errors"
)

// DialTimeout bounds the TCP connect and SSH handshake.
const DialTimeout = 10 * time.Second

// Dial connects to the target. With a password, password authentication is
// used directly. Without one, a credential-less "none" negotiation is tried
// first (some appliances allow it), then agent and key files.
func Dial(target *Target, password string) (*ssh.Client, error) {
	hostKeys, err := hostKeyCallback()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			"can't verify host keys", "check that ~/.ssh is accessible")
	}

	if password != "" {
		client, err := dialWith(target, hostKeys, ssh.Password(password))
		if err != nil {
			if isAuthError(err) {
				return nil, errors.WrapWithCode(err, errors.ErrSSH,
					fmt.Sprintf("authentication failed for %s (incorrect password)", target),
					"check the 'pass' field in the workflow")
			}
			return nil, connectionError(target, err)
		}
		return client, nil
	}

	// No auth methods at all makes the library attempt "none" auth.
	if client, err := dialWith(target, hostKeys); err == nil {
		return client, nil
	}

	auth := keyAuthMethods(target)
	if len(auth) == 0 {
		return nil, errors.New(errors.ErrSSH,
			fmt.Sprintf("no SSH auth methods available for %s", target),
			keyFailureSuggestion(target))
	}

	client, err := dialWith(target, hostKeys, auth...)
	if err != nil {
		if isAuthError(err) {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("no valid SSH keys found or not authorized on %s", target),
				keyFailureSuggestion(target))
		}
		return nil, connectionError(target, err)
	}
	return client, nil
}

func dialWith(target *Target, hostKeys ssh.HostKeyCallback, auth ...ssh.AuthMethod) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         DialTimeout,
	}

	conn, err := net.DialTimeout("tcp", target.Address(), DialTimeout)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target.Address(), config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func connectionError(target *Target, err error) error {
	var mismatch *HostKeyMismatchError
	if stderrors.As(err, &mismatch) {
		return errors.New(errors.ErrSSH, mismatch.Error(), mismatch.Suggestion())
	}
	return errors.WrapWithCode(err, errors.ErrSSH,
		fmt.Sprintf("can't reach %s", target),
		suggestionForDialError(err))
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods")
}

func keyFailureSuggestion(target *Target) string {
	attempted := "Attempted: passwordless auth, SSH keys from ~/.ssh/, and the SSH agent"
	if len(target.encryptedKeys) > 0 {
		var sb strings.Builder
		sb.WriteString("Found SSH key(s) but they're encrypted. Add them to the agent:\n")
		for _, key := range target.encryptedKeys {
			sb.WriteString("  ssh-add " + key + "\n")
		}
		sb.WriteString("\nOr provide a password via the 'pass' field in the workflow")
		return sb.String()
	}
	return attempted + "\nEnsure keys are set up (ssh-add -l) or provide a 'pass' field in the workflow"
}

func suggestionForDialError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "Is SSH running on that box? Try: ssh <host>"
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "network is unreachable"):
		return "Can't route to the host. Check your network connection."
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "i/o timeout"):
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	return "Make sure the host is reachable: ping <host>"
}

// keyAuthMethods collects agent and key-file auth, recording encrypted keys
// on the target so failure messages can point at them.
func keyAuthMethods(target *Target) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		methods = append(methods, agentAuth)
	}

	tryKey := func(path string) {
		auth, err := keyFileAuth(path)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				target.encryptedKeys = append(target.encryptedKeys, path)
			}
			return
		}
		methods = append(methods, auth)
	}

	if target.IdentityFile != "" {
		tryKey(target.IdentityFile)
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		path := filepath.Join(homeDir(), ".ssh", name)
		if path == target.IdentityFile {
			continue
		}
		tryKey(path)
	}
	return methods
}

var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns agent-backed auth if the agent is reachable and has
// keys loaded. An empty agent is skipped: placed before other methods it
// just burns an auth attempt.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})
	if agentClient == nil {
		return nil
	}

	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the shared SSH agent connection, if one was opened.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// keyFileAuth loads a private key file. Returns EncryptedKeyError for keys
// that need a passphrase.
func keyFileAuth(path string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		if strings.Contains(err.Error(), "encrypted") ||
			strings.Contains(err.Error(), "passphrase") ||
			isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: path}
		}
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func isEncryptedPEM(data []byte) bool {
	return strings.Contains(string(data), "ENCRYPTED")
}

// EncryptedKeyError marks an SSH key that requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError carries context for a known_hosts verification
// failure against a host whose key changed.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The server's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  To update known_hosts:\n"+
			"    ssh-keyscan -t rsa,ecdsa,ed25519 %s >> %s\n\n"+
			"  Or remove the old entry:\n"+
			"    ssh-keygen -R %s",
		wantStr, e.ReceivedType, host, e.KnownHosts, host)
}

// hostKeyCallback verifies hosts against ~/.ssh/known_hosts. Hosts never
// seen before are appended automatically (workflows routinely target fresh
// machines); a changed key is always rejected.
func hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := filepath.Join(homeDir(), ".ssh", "known_hosts")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte{}, 0o600); err != nil {
			return nil, err
		}
	}

	verify, err := knownhosts.New(path)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if stderrors.As(err, &keyErr) {
			if len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   path,
					Want:         keyErr.Want,
				}
			}
			// Unknown host: trust on first use and record it.
			mu.Lock()
			defer mu.Unlock()
			return appendKnownHost(path, hostname, key)
		}
		return err
	}, nil
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	_, err = f.WriteString(line + "\n")
	return err
}
