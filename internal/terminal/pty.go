package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

const defaultLocalShell = "/bin/sh"

// LocalConnector starts a shell on the gateway host in a local PTY.
type LocalConnector struct{}

// Connect starts cfg.Shell, then $SHELL, then /bin/sh. The shell outlives
// ctx; it ends when the Session is closed.
func (c *LocalConnector) Connect(ctx context.Context, cfg ConnectorConfig) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shell := cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = defaultLocalShell
	}

	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	if home, err := os.UserHomeDir(); err == nil {
		cmd.Dir = home
	}

	rows, cols := cfg.size()
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("pty: start %s: %w", shell, err)
	}
	return &ptySession{cmd: cmd, ptmx: ptmx}, nil
}

// ptySession is a shell attached to a local PTY.
type ptySession struct {
	cmd       *exec.Cmd
	ptmx      *os.File
	closeOnce sync.Once
	closeErr  error
}

func (s *ptySession) Write(p []byte) (int, error) {
	return s.ptmx.Write(p)
}

func (s *ptySession) Read(p []byte) (int, error) {
	return s.ptmx.Read(p)
}

// Resize changes the PTY window size.
func (s *ptySession) Resize(rows, cols uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Rows: rows,
		Cols: cols,
	})
}

// Close terminates the shell and its PTY.
func (s *ptySession) Close() error {
	s.closeOnce.Do(func() {
		// Kill the subprocess to avoid orphaned processes
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.closeErr = s.ptmx.Close()
		// Wait for the process to release resources
		_ = s.cmd.Wait()
	})
	return s.closeErr
}

var _ Session = (*ptySession)(nil)
var _ Connector = (*LocalConnector)(nil)
