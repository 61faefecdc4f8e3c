package termview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/websoft9/webterm/internal/credential"
	"github.com/websoft9/webterm/internal/frame"
	"github.com/websoft9/webterm/internal/geometry"
	"github.com/websoft9/webterm/internal/profiles"
	"github.com/websoft9/webterm/internal/render"
	"github.com/websoft9/webterm/internal/session"
	"github.com/websoft9/webterm/internal/transport"
)

type fakeStore map[string]profiles.Profile

func (s fakeStore) Get(_ context.Context, id string) (profiles.Profile, error) {
	p, ok := s[id]
	if !ok {
		return p, profiles.ErrNotFound
	}
	return p, nil
}

type fakeChannel struct {
	deliver func(transport.Event)

	mu     sync.Mutex
	sent   []frame.Frame
	closed bool
}

func (c *fakeChannel) Send(f frame.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChannel) frames() []frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.Frame(nil), c.sent...)
}

type fakeOpener struct {
	opened chan *fakeChannel
}

func (o *fakeOpener) Open(_, _ string, deliver func(transport.Event)) transport.Channel {
	ch := &fakeChannel{deliver: deliver}
	o.opened <- ch
	return ch
}

type fakeConsole struct {
	resizes  chan geometry.Viewport
	commands chan render.Command

	mu      sync.Mutex
	notices []string
	written []string
	input   func(string)
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{
		resizes:  make(chan geometry.Viewport, 4),
		commands: make(chan render.Command, 4),
	}
}

func (c *fakeConsole) Attach() error { return nil }

func (c *fakeConsole) Write(data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
}

func (c *fakeConsole) OnUserInput(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = fn
}

func (c *fakeConsole) ComputeGrid(vp geometry.Viewport) geometry.Grid {
	return geometry.GridOf(vp.Width, vp.Height)
}

func (c *fakeConsole) Dispose() {}

func (c *fakeConsole) Viewport() geometry.Viewport {
	return geometry.Viewport{Width: 80, Height: 24}
}

func (c *fakeConsole) WatchResize(context.Context) <-chan geometry.Viewport {
	return c.resizes
}

func (c *fakeConsole) Commands() <-chan render.Command {
	return c.commands
}

func (c *fakeConsole) Notice(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (c *fakeConsole) noticeList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notices...)
}

func newConfig(creds credential.Provider) (Config, *fakeOpener, *fakeConsole) {
	opener := &fakeOpener{opened: make(chan *fakeChannel, 4)}
	console := newFakeConsole()
	return Config{
		Profiles: fakeStore{
			"42": {ID: "42", Name: "web-1", Host: "10.0.0.5", Port: 22, Username: "root"},
		},
		Credentials: creds,
		Opener:      opener,
		Console:     console,
		EscapeKey:   render.DefaultEscapeKey,
		Logger:      zerolog.Nop(),
	}, opener, console
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOpenSetupFailures(t *testing.T) {
	cfg, opener, _ := newConfig(credential.Static(""))
	if _, err := Open(context.Background(), cfg, "42"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Open without credential = %v, want ErrUnauthenticated", err)
	}

	cfg.Credentials = credential.Static("tok-1")
	if _, err := Open(context.Background(), cfg, "missing"); !errors.Is(err, profiles.ErrNotFound) {
		t.Fatalf("Open unknown target = %v, want ErrNotFound", err)
	}
	if len(opener.opened) != 0 {
		t.Fatal("a channel was opened despite setup failure")
	}
}

func TestRunForwardsResizesAndCommands(t *testing.T) {
	cfg, opener, console := newConfig(credential.Static("tok-1"))
	v, err := Open(context.Background(), cfg, "42")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- v.Run(context.Background()) }()

	ch := <-opener.opened
	ch.deliver(transport.Event{Kind: transport.EventReady})
	waitFor(t, "connected", func() bool { return v.State().Status == session.StatusConnected })

	console.resizes <- geometry.Viewport{Width: 100, Height: 30}
	waitFor(t, "resize frame", func() bool { return len(ch.frames()) == 2 })
	if got := ch.frames()[1]; got != frame.Resize(100, 30) {
		t.Fatalf("resize frame = %v", got)
	}

	// Reconnect is refused while connected.
	console.commands <- render.CommandReconnect
	waitFor(t, "refusal notice", func() bool {
		n := console.noticeList()
		return len(n) > 0 && n[len(n)-1] == "already connected"
	})

	ch.deliver(transport.Event{Kind: transport.EventFrame, Frame: frame.Error("auth failed")})
	waitFor(t, "disconnected", func() bool { return v.State().Status == session.StatusDisconnected })

	console.commands <- render.CommandReconnect
	second := <-opener.opened
	if second == ch {
		t.Fatal("reconnect reused the old channel")
	}

	console.commands <- render.CommandClose
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after close command")
	}
	if !second.closed {
		t.Fatal("channel left open after close")
	}

	notices := console.noticeList()
	var sawHint bool
	for _, n := range notices {
		if strings.Contains(n, "Disconnected: auth failed") {
			sawHint = strings.Contains(n, "[ctrl-] r] reconnect")
		}
		if strings.Contains(n, "Connected") && strings.Contains(n, "reconnect") {
			t.Fatalf("reconnect offered while connected: %q", n)
		}
	}
	if !sawHint {
		t.Fatalf("no disconnected status with reconnect hint in %q", notices)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg, opener, _ := newConfig(credential.Static("tok-1"))
	v, err := Open(context.Background(), cfg, "42")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	<-opener.opened

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := v.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if err := v.Reconnect(); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("Reconnect after Run = %v, want ErrClosed", err)
	}
}

func TestStatusLine(t *testing.T) {
	target := session.Target{Name: "web-1", Host: "10.0.0.5", Port: 2222, Username: "root"}
	tests := []struct {
		st   session.State
		want string
	}{
		{session.State{Target: target, Status: session.StatusConnecting}, "web-1 • root@10.0.0.5:2222  Connecting..."},
		{session.State{Target: target, Status: session.StatusConnected}, "web-1 • root@10.0.0.5:2222  Connected"},
		{
			session.State{Target: target, Status: session.StatusDisconnected, LastError: "auth failed"},
			"web-1 • root@10.0.0.5:2222  Disconnected: auth failed  [ctrl-] r] reconnect  [ctrl-] .] quit",
		},
	}
	for _, tt := range tests {
		if got := StatusLine(tt.st, render.DefaultEscapeKey); got != tt.want {
			t.Fatalf("StatusLine(%s) = %q, want %q", tt.st.Status, got, tt.want)
		}
	}
	if got := StatusLine(session.State{Target: target, Status: session.StatusDisconnected}, 0); strings.Contains(got, "reconnect") {
		t.Fatalf("hint shown with escape disabled: %q", got)
	}
}
