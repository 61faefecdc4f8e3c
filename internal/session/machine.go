package session

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/websoft9/webterm/internal/frame"
	"github.com/websoft9/webterm/internal/geometry"
	"github.com/websoft9/webterm/internal/transport"
)

// errNoCredential is surfaced as lastError when a (re)connect finds no
// credential to present.
var errNoCredential = errors.New("not authenticated: no credential available")

// Events consumed by the machine. Each one runs to completion before the
// next is handled.
type (
	transportEvent struct {
		gen uint64
		ev  transport.Event
	}
	inputEvent    struct{ data string }
	viewportEvent struct{ vp geometry.Viewport }
	reconnectEvent struct{ reply chan error }
	closeEvent     struct{}
)

// machine is the session state machine. It is driven by a single goroutine
// and is not safe for concurrent use.
type machine struct {
	target Target
	creds  CredentialSource
	opener transport.Opener
	engine Engine
	geo    *geometry.Coordinator
	log    zerolog.Logger

	// post hands transport callbacks back to the driving loop.
	post func(event any)
	// publish is called after every state change.
	publish func(State)

	status    Status
	lastError string
	channel   transport.Channel
	gen       uint64
	closed    bool
}

func (m *machine) state() State {
	return State{Target: m.target, Status: m.status, LastError: m.lastError}
}

func (m *machine) setStatus(s Status) {
	if m.status != s {
		m.log.Debug().Str("from", string(m.status)).Str("to", string(s)).Msg("status")
	}
	m.status = s
	m.publish(m.state())
}

// start runs the initial geometry pass and the first connect.
func (m *machine) start() {
	m.resize()
	m.connect()
}

func (m *machine) handle(ev any) {
	if m.closed {
		return
	}
	switch ev := ev.(type) {
	case transportEvent:
		m.onTransport(ev)
	case inputEvent:
		m.onInput(ev.data)
	case viewportEvent:
		m.geo.Observe(ev.vp)
		m.resize()
	case reconnectEvent:
		ev.reply <- m.reconnect()
	case closeEvent:
		m.close()
	}
}

// connect is the single (re)connect transition: the previous channel is
// closed before the next one is opened.
func (m *machine) connect() {
	if m.channel != nil {
		m.channel.Close()
		m.channel = nil
	}
	m.gen++
	m.lastError = ""
	m.geo.Reset()

	credential, ok := m.creds.Current()
	if !ok {
		m.lastError = errNoCredential.Error()
		m.setStatus(StatusDisconnected)
		return
	}
	m.setStatus(StatusConnecting)

	gen := m.gen
	m.log.Info().Str("target", m.target.ID).Uint64("attempt", gen).Msg("connecting")
	m.channel = m.opener.Open(m.target.ID, credential, func(ev transport.Event) {
		m.post(transportEvent{gen: gen, ev: ev})
	})
}

func (m *machine) onTransport(te transportEvent) {
	if te.gen != m.gen || m.channel == nil {
		// Late event from a channel that has already been replaced or
		// closed.
		return
	}
	switch te.ev.Kind {
	case transport.EventReady:
		m.setStatus(StatusConnected)
		m.resize()
	case transport.EventFrame:
		m.onFrame(te.ev.Frame)
	case transport.EventClosed:
		m.channel = nil
		if te.ev.Err != nil && m.lastError == "" {
			m.lastError = "connection failed: " + te.ev.Err.Error()
		}
		m.log.Info().AnErr("reason", te.ev.Err).Msg("channel closed")
		m.setStatus(StatusDisconnected)
	}
}

func (m *machine) onFrame(f frame.Frame) {
	switch f.Type {
	case frame.TypeOutput:
		m.engine.Write(f.Data)
	case frame.TypeError:
		m.lastError = f.Data
		m.log.Warn().Str("error", f.Data).Msg("peer reported error")
		m.channel.Close()
		m.channel = nil
		m.setStatus(StatusDisconnected)
	}
}

func (m *machine) onInput(data string) {
	if m.status != StatusConnected || m.channel == nil || data == "" {
		return
	}
	m.channel.Send(frame.Input(data))
}

// resize runs one geometry pass and sends the grid when it changed and the
// channel is usable. Dropped intents are recomputed on the next Ready.
func (m *machine) resize() {
	g, changed := m.geo.Recompute()
	if !changed || m.status != StatusConnected || m.channel == nil {
		return
	}
	m.channel.Send(frame.Resize(g.Cols, g.Rows))
	m.geo.Commit(g)
}

func (m *machine) reconnect() error {
	if m.status != StatusDisconnected {
		return ErrNotDisconnected
	}
	if c, ok := m.engine.(Clearer); ok {
		c.Clear()
	}
	m.connect()
	return nil
}

func (m *machine) close() {
	m.closed = true
	if m.channel != nil {
		m.channel.Close()
		m.channel = nil
	}
	m.engine.Dispose()
	m.log.Info().Str("target", m.target.ID).Msg("session closed")
}
