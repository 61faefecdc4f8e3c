// Package terminal opens interactive shells for the gateway's WebSocket
// relay.
//
// Connectors:
//   - SSHConnector: remote PTY over SSH for password and private_key profiles
//   - LocalConnector: local PTY on the gateway host for local profiles
package terminal

import (
	"context"
	"fmt"
)

// Auth types of an ssh_profiles record.
const (
	AuthPassword   = "password"
	AuthPrivateKey = "private_key"
	AuthLocal      = "local"
)

// Session is a running shell. Callers Write stdin bytes and Read
// stdout/stderr bytes; resize and close are handled out-of-band by the
// relay.
type Session interface {
	// Write sends bytes to the shell's stdin (keyboard input).
	Write(p []byte) (n int, err error)
	// Read receives bytes from the shell's output.
	Read(p []byte) (n int, err error)
	// Resize changes the PTY dimensions.
	Resize(rows, cols uint16) error
	// Close terminates the shell and frees all resources.
	Close() error
}

// Connector creates a Session for a given profile.
// Implementations must be safe for concurrent use.
type Connector interface {
	Connect(ctx context.Context, cfg ConnectorConfig) (Session, error)
}

// ConnectorConfig carries the parameters required to open a shell.
type ConnectorConfig struct {
	Host string
	Port int
	User string
	// AuthType is one of AuthPassword, AuthPrivateKey or AuthLocal.
	AuthType string
	// Secret is the decrypted credential (password or PEM private key).
	Secret string
	// Shell overrides the login shell (empty = default).
	Shell string
	// Cols and Rows size the initial PTY. Zero means 80x24.
	Cols, Rows uint16
}

func (c ConnectorConfig) size() (rows, cols uint16) {
	rows, cols = c.Rows, c.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}
	return rows, cols
}

// ConnectorFor picks the connector for an auth type.
func ConnectorFor(authType string) (Connector, error) {
	switch authType {
	case AuthPassword, AuthPrivateKey:
		return &SSHConnector{}, nil
	case AuthLocal:
		return &LocalConnector{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth_type: %q", authType)
	}
}
