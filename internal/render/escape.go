package render

import (
	"fmt"
	"strings"
)

// Command is a local action requested through the escape key.
type Command int

const (
	// CommandClose ends the session.
	CommandClose Command = iota + 1
	// CommandReconnect asks for a new connection.
	CommandReconnect
	// CommandHelp prints the escape key summary.
	CommandHelp
)

func (c Command) String() string {
	switch c {
	case CommandClose:
		return "close"
	case CommandReconnect:
		return "reconnect"
	case CommandHelp:
		return "help"
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// DefaultEscapeKey is Ctrl-].
const DefaultEscapeKey byte = 0x1d

// ParseEscapeKey parses "ctrl-]" style names. "none" disables the escape key
// and yields 0.
func ParseEscapeKey(s string) (byte, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return DefaultEscapeKey, nil
	case "none":
		return 0, nil
	}
	for _, prefix := range []string{"ctrl-", "ctrl+", "^"} {
		rest, ok := strings.CutPrefix(s, prefix)
		if !ok || len(rest) != 1 {
			continue
		}
		c := strings.ToUpper(rest)[0]
		if c < '@' || c > '_' {
			break
		}
		return c & 0x1f, nil
	}
	return 0, fmt.Errorf("invalid escape key %q (want e.g. ctrl-] or none)", s)
}

// EscapeName renders key the way ParseEscapeKey accepts it.
func EscapeName(key byte) string {
	if key == 0 {
		return "none"
	}
	return "ctrl-" + strings.ToLower(string(rune(key|0x40)))
}

// escapeFilter splits keystrokes into data for the remote side and local
// commands. The escape key followed by '.' closes, 'r' reconnects and '?'
// prints help. Pressing the escape key twice sends it literally; any other
// follow-up byte is passed through together with the escape key.
type escapeFilter struct {
	key     byte
	pending bool
}

func (f *escapeFilter) feed(in []byte) (out []byte, cmds []Command) {
	if f.key == 0 {
		return in, nil
	}
	out = make([]byte, 0, len(in))
	for _, b := range in {
		if !f.pending {
			if b == f.key {
				f.pending = true
				continue
			}
			out = append(out, b)
			continue
		}
		f.pending = false
		switch b {
		case '.':
			cmds = append(cmds, CommandClose)
		case 'r', 'R':
			cmds = append(cmds, CommandReconnect)
		case '?':
			cmds = append(cmds, CommandHelp)
		case f.key:
			out = append(out, f.key)
		default:
			out = append(out, f.key, b)
		}
	}
	return out, cmds
}
