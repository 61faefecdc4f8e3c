// Package render is the local rendering engine: it draws remote output on
// the controlling terminal, reads keystrokes in raw mode and reports the
// terminal size in cells.
package render

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/websoft9/webterm/internal/geometry"
)

const clearScreen = "\x1b[2J\x1b[H"

// fallbackViewport is used when the output is not a terminal.
var fallbackViewport = geometry.Viewport{Width: 80, Height: 24}

// Console renders a session on a local terminal.
type Console struct {
	in     *os.File
	out    io.Writer
	fd     int
	escape escapeFilter

	mu       sync.Mutex // guards out and the fields below
	restore  *term.State
	input    func(string)
	disposed bool

	commands    chan Command
	disposeOnce sync.Once
}

// New creates a console reading keystrokes from in and drawing to out. An
// escape key of 0 disables local commands.
func New(in *os.File, out io.Writer, escape byte) *Console {
	return &Console{
		in:       in,
		out:      out,
		fd:       int(in.Fd()),
		escape:   escapeFilter{key: escape},
		commands: make(chan Command, 4),
	}
}

// Attach switches the terminal to raw mode, when it is one, and starts
// reading keystrokes.
func (c *Console) Attach() error {
	if term.IsTerminal(c.fd) {
		state, err := term.MakeRaw(c.fd)
		if err != nil {
			return fmt.Errorf("set raw mode: %w", err)
		}
		c.mu.Lock()
		c.restore = state
		c.mu.Unlock()
	}
	go c.readInput()
	return nil
}

func (c *Console) readInput() {
	buf := make([]byte, 1024)
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			data, cmds := c.escape.feed(buf[:n])
			for _, cmd := range cmds {
				c.command(cmd)
			}
			c.mu.Lock()
			fn, disposed := c.input, c.disposed
			c.mu.Unlock()
			if len(data) > 0 && fn != nil && !disposed {
				fn(string(data))
			}
		}
		if err != nil {
			// End of input ends the session.
			c.command(CommandClose)
			return
		}
	}
}

func (c *Console) command(cmd Command) {
	select {
	case c.commands <- cmd:
	default:
	}
}

// Commands delivers local commands typed after the escape key.
func (c *Console) Commands() <-chan Command {
	return c.commands
}

// OnUserInput registers the keystroke callback.
func (c *Console) OnUserInput(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = fn
}

// Write draws remote output verbatim.
func (c *Console) Write(data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	io.WriteString(c.out, data)
}

// Clear wipes the screen and homes the cursor.
func (c *Console) Clear() {
	c.Write(clearScreen)
}

// Notice prints a local status line between remote output.
func (c *Console) Notice(format string, args ...any) {
	c.Write("\r\n\x1b[7m " + fmt.Sprintf(format, args...) + " \x1b[0m\r\n")
}

// Viewport returns the current terminal size in cells.
func (c *Console) Viewport() geometry.Viewport {
	cols, rows, err := term.GetSize(c.fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return fallbackViewport
	}
	return geometry.Viewport{Width: cols, Height: rows}
}

// ComputeGrid maps the viewport one cell per unit, since a local terminal
// already measures itself in cells.
func (c *Console) ComputeGrid(vp geometry.Viewport) geometry.Grid {
	return geometry.GridOf(vp.Width, vp.Height)
}

// Dispose restores the terminal. Keystrokes read afterwards are dropped.
func (c *Console) Dispose() {
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.disposed = true
		c.input = nil
		if c.restore != nil {
			term.Restore(c.fd, c.restore)
			c.restore = nil
		}
		io.WriteString(c.out, "\x1b[0m\r\n")
	})
}
