package session

import (
	"fmt"
	"sync"

	"github.com/websoft9/webterm/internal/frame"
	"github.com/websoft9/webterm/internal/geometry"
	"github.com/websoft9/webterm/internal/transport"
)

// journal records collaborator calls across fakes so tests can assert on
// their relative order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeChannel struct {
	n       int
	j       *journal
	deliver func(transport.Event)

	mu     sync.Mutex
	sent   []frame.Frame
	closes int
}

func (c *fakeChannel) Send(f frame.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return
	}
	c.sent = append(c.sent, f)
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.j.add("close#%d", c.n)
}

func (c *fakeChannel) frames() []frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.Frame(nil), c.sent...)
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type openCall struct {
	target, credential string
}

type fakeOpener struct {
	j *journal

	mu       sync.Mutex
	calls    []openCall
	channels []*fakeChannel
	opened   chan *fakeChannel
}

func newFakeOpener(j *journal) *fakeOpener {
	return &fakeOpener{j: j, opened: make(chan *fakeChannel, 16)}
}

func (o *fakeOpener) Open(targetID, credential string, deliver func(transport.Event)) transport.Channel {
	o.mu.Lock()
	o.calls = append(o.calls, openCall{targetID, credential})
	ch := &fakeChannel{n: len(o.calls), j: o.j, deliver: deliver}
	o.channels = append(o.channels, ch)
	o.mu.Unlock()
	o.j.add("open#%d", ch.n)
	o.opened <- ch
	return ch
}

func (o *fakeOpener) openCalls() []openCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]openCall(nil), o.calls...)
}

func (o *fakeOpener) last() *fakeChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.channels) == 0 {
		return nil
	}
	return o.channels[len(o.channels)-1]
}

// fakeEngine renders into a buffer and maps viewports one cell per unit.
type fakeEngine struct {
	j *journal

	mu       sync.Mutex
	written  []string
	input    func(string)
	attaches int
	disposes int
	clears   int
}

func (e *fakeEngine) Attach() error {
	e.mu.Lock()
	e.attaches++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Write(data string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.written = append(e.written, data)
}

func (e *fakeEngine) OnUserInput(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.input = fn
}

func (e *fakeEngine) ComputeGrid(vp geometry.Viewport) geometry.Grid {
	return geometry.GridOf(vp.Width, vp.Height)
}

func (e *fakeEngine) Dispose() {
	e.mu.Lock()
	e.disposes++
	e.mu.Unlock()
	if e.j != nil {
		e.j.add("dispose")
	}
}

func (e *fakeEngine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clears++
}

func (e *fakeEngine) press(data string) {
	e.mu.Lock()
	fn := e.input
	e.mu.Unlock()
	fn(data)
}

func (e *fakeEngine) output() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.written...)
}

func (e *fakeEngine) disposeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposes
}

// tokenSource is a mutable credential source.
type tokenSource struct {
	mu    sync.Mutex
	token string
}

func (s *tokenSource) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *tokenSource) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}
