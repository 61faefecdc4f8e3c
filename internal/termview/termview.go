// Package termview binds a terminal session to its surroundings: it
// resolves the target profile, checks for a credential, forwards viewport
// changes and local commands, and renders the connection status.
package termview

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/websoft9/webterm/internal/credential"
	"github.com/websoft9/webterm/internal/geometry"
	"github.com/websoft9/webterm/internal/profiles"
	"github.com/websoft9/webterm/internal/render"
	"github.com/websoft9/webterm/internal/session"
	"github.com/websoft9/webterm/internal/transport"
)

// ErrUnauthenticated is returned by Open when no credential is available.
var ErrUnauthenticated = errors.New("not authenticated")

// ProfileStore resolves profile IDs. Unknown IDs yield profiles.ErrNotFound.
type ProfileStore interface {
	Get(ctx context.Context, id string) (profiles.Profile, error)
}

// Console is the host side of a view: the rendering engine plus the
// viewport and local command sources around it.
type Console interface {
	session.Engine
	Viewport() geometry.Viewport
	WatchResize(ctx context.Context) <-chan geometry.Viewport
	Commands() <-chan render.Command
	Notice(format string, args ...any)
}

type Config struct {
	Profiles    ProfileStore
	Credentials credential.Provider
	Opener      transport.Opener
	Console     Console
	// EscapeKey is named in the reconnect hint. Zero means no hint.
	EscapeKey byte
	Logger    zerolog.Logger
}

// View is one terminal view over a session.
type View struct {
	cfg  Config
	sess *session.Session
	log  zerolog.Logger

	mu       sync.Mutex
	rendered session.State
}

// Open resolves profileID and starts a session for it. Setup failures are
// returned before any connection is attempted.
func Open(ctx context.Context, cfg Config, profileID string) (*View, error) {
	if cfg.Profiles == nil || cfg.Credentials == nil || cfg.Opener == nil || cfg.Console == nil {
		return nil, errors.New("termview: profiles, credentials, opener and console are required")
	}
	if _, ok := cfg.Credentials.Current(); !ok {
		return nil, ErrUnauthenticated
	}

	p, err := cfg.Profiles.Get(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("resolve target %s: %w", profileID, err)
	}

	v := &View{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "termview").Str("profile", p.ID).Logger(),
	}
	sess, err := session.Open(session.Config{
		Target: session.Target{
			ID:       p.ID,
			Name:     p.Name,
			Host:     p.Host,
			Port:     p.Port,
			Username: p.Username,
		},
		Credentials: cfg.Credentials,
		Opener:      cfg.Opener,
		Engine:      cfg.Console,
		Viewport:    cfg.Console.Viewport(),
		OnChange:    v.render,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	v.sess = sess
	return v, nil
}

// Run pumps viewport changes and local commands into the session until it
// ends or ctx is cancelled. The session is closed on return.
func (v *View) Run(ctx context.Context) error {
	defer v.sess.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	resizes := v.cfg.Console.WatchResize(ctx)
	commands := v.cfg.Console.Commands()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.sess.Done():
			return nil
		case vp, ok := <-resizes:
			if !ok {
				resizes = nil
				continue
			}
			v.sess.Resize(vp)
		case cmd := <-commands:
			switch cmd {
			case render.CommandClose:
				v.log.Debug().Msg("close requested")
				return nil
			case render.CommandReconnect:
				if err := v.sess.Reconnect(); err != nil {
					if errors.Is(err, session.ErrNotDisconnected) {
						v.cfg.Console.Notice("already %s", v.sess.State().Status)
						continue
					}
					return err
				}
			case render.CommandHelp:
				v.cfg.Console.Notice("%s", Help(v.cfg.EscapeKey))
			}
		}
	}
}

// State returns the session's current state.
func (v *View) State() session.State {
	return v.sess.State()
}

// Reconnect retries a disconnected session.
func (v *View) Reconnect() error {
	return v.sess.Reconnect()
}

// Close ends the session.
func (v *View) Close() {
	v.sess.Close()
}

// render prints the status line whenever status or lastError changes.
func (v *View) render(st session.State) {
	v.mu.Lock()
	same := st.Status == v.rendered.Status && st.LastError == v.rendered.LastError
	v.rendered = st
	v.mu.Unlock()
	if same {
		return
	}
	v.cfg.Console.Notice("%s", StatusLine(st, v.cfg.EscapeKey))
}

// StatusLine formats st for display. The reconnect hint is only offered
// while disconnected.
func StatusLine(st session.State, escape byte) string {
	line := st.Target.String()
	if st.Target.Port != 0 && st.Target.Port != 22 {
		line += ":" + strconv.Itoa(st.Target.Port)
	}
	switch st.Status {
	case session.StatusConnecting:
		line += "  Connecting..."
	case session.StatusConnected:
		line += "  Connected"
	case session.StatusDisconnected:
		line += "  Disconnected"
		if st.LastError != "" {
			line += ": " + st.LastError
		}
		if escape != 0 {
			name := render.EscapeName(escape)
			line += fmt.Sprintf("  [%s r] reconnect  [%s .] quit", name, name)
		}
	}
	return line
}

// Help summarizes the escape key commands.
func Help(escape byte) string {
	if escape == 0 {
		return "escape key disabled"
	}
	name := render.EscapeName(escape)
	return fmt.Sprintf("%[1]s . quit  %[1]s r reconnect  %[1]s %[1]s send %[1]s  %[1]s ? help", name)
}
