// Package session implements the interactive terminal session manager: one
// Session per visible terminal view, owning the rendering engine and at most
// one live channel to the gateway.
//
// A Session is a small state machine driven by a single event loop:
//
//	Connecting --ready--> Connected --closed/error frame--> Disconnected
//	Disconnected --Reconnect--> Connecting
//	any --Close--> (session ends)
//
// Keystrokes and resize frames are only sent while Connected. Output frames
// are written to the rendering engine in the order they arrive, in any state.
// There is no automatic retry: a failed connection stays Disconnected until
// Reconnect is called.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/websoft9/webterm/internal/geometry"
	"github.com/websoft9/webterm/internal/transport"
)

var (
	// ErrNotDisconnected is returned by Reconnect unless the session is
	// Disconnected.
	ErrNotDisconnected = errors.New("session: reconnect is only allowed while disconnected")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")
)

// Status is the connection status of a session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Target describes the remote login a session is attached to.
type Target struct {
	ID       string
	Name     string
	Host     string
	Port     int
	Username string
}

func (t Target) String() string {
	label := t.Name
	if label == "" {
		label = "Terminal"
	}
	if t.Username == "" {
		return fmt.Sprintf("%s • %s", label, t.Host)
	}
	return fmt.Sprintf("%s • %s@%s", label, t.Username, t.Host)
}

// State is a snapshot of a session for display.
type State struct {
	Target    Target
	Status    Status
	LastError string
}

// Engine is the rendering engine capability: it displays output, reports
// keystrokes and knows how many cells fit in a viewport.
type Engine interface {
	geometry.GridComputer
	// Attach binds the engine to its view. It is called once, before any
	// other method.
	Attach() error
	// Write renders data verbatim.
	Write(data string)
	// OnUserInput registers the callback receiving keystroke data. The
	// callback may be invoked from any goroutine.
	OnUserInput(fn func(data string))
	// Dispose tears the engine down. It is called exactly once.
	Dispose()
}

// Clearer is implemented by engines that can wipe their screen. Reconnect
// clears the screen when the engine supports it.
type Clearer interface {
	Clear()
}

// CredentialSource yields the bearer token presented on each connect.
type CredentialSource interface {
	Current() (string, bool)
}

// Config holds the collaborators of a Session.
type Config struct {
	Target      Target
	Credentials CredentialSource
	Opener      transport.Opener
	Engine      Engine
	// Viewport is the host viewport at creation time.
	Viewport geometry.Viewport
	// OnChange, when set, receives every state change. It runs on the
	// session's event loop and must return quickly.
	OnChange func(State)
	Logger   zerolog.Logger
}

// Session is one terminal view and its connection lifecycle.
type Session struct {
	m      *machine
	events chan any
	done   chan struct{}

	closeOnce sync.Once

	mu    sync.RWMutex
	state State
}

// Open attaches the rendering engine, starts the event loop and begins the
// first connection attempt. The caller must Close the session.
func Open(cfg Config) (*Session, error) {
	switch {
	case cfg.Credentials == nil:
		return nil, errors.New("session: credentials source is required")
	case cfg.Opener == nil:
		return nil, errors.New("session: opener is required")
	case cfg.Engine == nil:
		return nil, errors.New("session: engine is required")
	}
	if err := cfg.Engine.Attach(); err != nil {
		return nil, fmt.Errorf("session: attach engine: %w", err)
	}

	s := &Session{
		events: make(chan any, 64),
		done:   make(chan struct{}),
	}
	s.m = newMachine(cfg, s.post, func(st State) {
		s.mu.Lock()
		s.state = st
		s.mu.Unlock()
		if cfg.OnChange != nil {
			cfg.OnChange(st)
		}
	})
	s.state = s.m.state()
	cfg.Engine.OnUserInput(func(data string) {
		s.post(inputEvent{data: data})
	})

	go s.run()
	return s, nil
}

func newMachine(cfg Config, post func(any), publish func(State)) *machine {
	return &machine{
		target:  cfg.Target,
		creds:   cfg.Credentials,
		opener:  cfg.Opener,
		engine:  cfg.Engine,
		geo:     geometry.NewCoordinator(cfg.Engine, cfg.Viewport),
		log:     cfg.Logger.With().Str("component", "session").Str("target", cfg.Target.ID).Logger(),
		post:    post,
		publish: publish,
		status:  StatusConnecting,
	}
}

func (s *Session) run() {
	defer close(s.done)
	s.m.start()
	for ev := range s.events {
		s.m.handle(ev)
		if s.m.closed {
			return
		}
	}
}

// post queues ev for the event loop. Events posted after the session ended
// are discarded.
func (s *Session) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// State returns the latest published state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Resize reports a new host viewport.
func (s *Session) Resize(vp geometry.Viewport) {
	s.post(viewportEvent{vp: vp})
}

// Reconnect opens a fresh channel. It is only permitted while Disconnected.
func (s *Session) Reconnect() error {
	reply := make(chan error, 1)
	select {
	case s.events <- reconnectEvent{reply: reply}:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Close tears down the channel and the rendering engine and waits for the
// event loop to exit. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.post(closeEvent{})
	})
	<-s.done
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
