package terminal

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sshDialTimeout = 10 * time.Second

// SSHConnector establishes SSH sessions to remote servers.
// Credentials are consumed once during Connect and never stored.
type SSHConnector struct {
	// HostKeyCallback overrides known_hosts resolution when set.
	HostKeyCallback cryptossh.HostKeyCallback
}

// Connect opens an SSH connection and returns a Session backed by a remote PTY.
// The returned Session must be closed by the caller.
func (c *SSHConnector) Connect(ctx context.Context, cfg ConnectorConfig) (Session, error) {
	authMethod, err := authMethodFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh: auth config: %w", err)
	}

	hostKeyCB := c.HostKeyCallback
	if hostKeyCB == nil {
		if hostKeyCB, err = resolveHostKeyCallback(); err != nil {
			return nil, fmt.Errorf("ssh: %w", err)
		}
	}

	clientCfg := &cryptossh.ClientConfig{
		User:            cfg.User,
		Auth:            []cryptossh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCB,
		Timeout:         sshDialTimeout,
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	// Respect context cancellation during dial
	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		cl, err := cryptossh.Dial("tcp", addr, clientCfg)
		ch <- dialResult{cl, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("ssh: dial %s: %w", addr, r.err)
		}
		return newSSHSession(r.client, cfg)
	}
}

// sshSession wraps an SSH client + session + remote PTY.
type sshSession struct {
	client  *cryptossh.Client
	session *cryptossh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex
}

func newSSHSession(client *cryptossh.Client, cfg ConnectorConfig) (*sshSession, error) {
	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}
	fail := func(step string, err error) (*sshSession, error) {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: %s: %w", step, err)
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	rows, cols := cfg.size()
	if err := sess.RequestPty("xterm-256color", int(rows), int(cols), modes); err != nil {
		return fail("request pty", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		return fail("stdin pipe", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return fail("stdout pipe", err)
	}

	// sess.Shell() asks the server for the user's login shell;
	// sess.Start("$SHELL") would send the literal string unexpanded.
	if cfg.Shell != "" {
		if err := sess.Start(cfg.Shell); err != nil {
			if err2 := sess.Shell(); err2 != nil {
				return fail(fmt.Sprintf("start shell %q (fallback also failed: %v)", cfg.Shell, err2), err)
			}
		}
	} else if err := sess.Shell(); err != nil {
		return fail("start login shell", err)
	}

	return &sshSession{
		client:  client,
		session: sess,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

func (s *sshSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *sshSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshSession) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.WindowChange(int(rows), int(cols))
}

func (s *sshSession) Close() error {
	_ = s.stdin.Close()
	_ = s.session.Close()
	return s.client.Close()
}

// authMethodFromConfig builds the SSH auth method from ConnectorConfig.
func authMethodFromConfig(cfg ConnectorConfig) (cryptossh.AuthMethod, error) {
	switch cfg.AuthType {
	case AuthPrivateKey:
		signer, err := cryptossh.ParsePrivateKey([]byte(cfg.Secret))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return cryptossh.PublicKeys(signer), nil
	case AuthPassword:
		return cryptossh.Password(cfg.Secret), nil
	default:
		return nil, fmt.Errorf("unsupported auth_type: %q", cfg.AuthType)
	}
}

// resolveHostKeyCallback verifies host keys against WEBTERM_SSH_KNOWN_HOSTS,
// ~/.ssh/known_hosts and /etc/ssh/ssh_known_hosts, whichever exist. With
// none present, verification is skipped unless WEBTERM_REQUIRE_SSH_HOST_KEY
// is set.
func resolveHostKeyCallback() (cryptossh.HostKeyCallback, error) {
	candidates := make([]string, 0, 3)
	if p := strings.TrimSpace(os.Getenv("WEBTERM_SSH_KNOWN_HOSTS")); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".ssh", "known_hosts"))
	}
	candidates = append(candidates, "/etc/ssh/ssh_known_hosts")

	existing := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			existing = append(existing, candidate)
		}
	}

	if len(existing) > 0 {
		callback, err := knownhosts.New(existing...)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return callback, nil
	}

	switch strings.ToLower(strings.TrimSpace(os.Getenv("WEBTERM_REQUIRE_SSH_HOST_KEY"))) {
	case "1", "true", "yes":
		return nil, fmt.Errorf("ssh host key verification required: no known_hosts file found")
	}
	return cryptossh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in strict mode above
}

var _ Session = (*sshSession)(nil)
var _ Connector = (*SSHConnector)(nil)
