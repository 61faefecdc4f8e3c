// Package transport owns the duplex WebSocket channel between a terminal
// client and the gateway.
//
// A Channel is opened for one target and lives through exactly one
// connection lifecycle: it reports Ready once the handshake completes, one
// Frame event per received message, and a single Closed event when the
// connection ends for any reason. It never reconnects on its own.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/websoft9/webterm/internal/frame"
)

const (
	// DefaultPathPrefix is where the gateway serves terminal channels.
	DefaultPathPrefix = "/ws/terminal/"

	writeWait  = 10 * time.Second
	closeGrace = time.Second
)

// ErrHandshake is wrapped by Closed events whose channel was refused before
// it became ready.
var ErrHandshake = errors.New("transport: handshake failed")

// EventKind identifies a channel lifecycle event.
type EventKind int

const (
	EventReady EventKind = iota + 1
	EventFrame
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventFrame:
		return "frame"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one lifecycle notification. Frame is set for EventFrame; Err is
// set for an EventClosed caused by anything other than a normal close.
type Event struct {
	Kind  EventKind
	Frame frame.Frame
	Err   error
}

// Channel is a live connection handle.
type Channel interface {
	// Send queues f for delivery and returns immediately. It is a no-op
	// after Close.
	Send(f frame.Frame)
	// Close ends the connection. Frames not yet delivered may be dropped.
	Close()
}

// Opener opens channels. deliver is called from the channel's own goroutine,
// in order, and must not block for long.
type Opener interface {
	Open(targetID, credential string, deliver func(Event)) Channel
}

// Config configures a Dialer.
type Config struct {
	// GatewayURL is the gateway base URL; http(s) schemes are mapped to
	// ws(s).
	GatewayURL string
	// PathPrefix precedes the target id. Defaults to DefaultPathPrefix.
	PathPrefix string
	// HandshakeTimeout bounds the opening handshake. Zero means no limit.
	HandshakeTimeout time.Duration
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration
	// ReadLimit caps the size of one received message when positive.
	ReadLimit int64
	Logger    zerolog.Logger
}

// Dialer opens WebSocket channels to the gateway.
type Dialer struct {
	cfg  Config
	base *url.URL
	ws   *websocket.Dialer
	log  zerolog.Logger
}

// NewDialer validates cfg and returns a Dialer.
func NewDialer(cfg Config) (*Dialer, error) {
	base, err := url.Parse(cfg.GatewayURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse gateway url: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("transport: unsupported gateway scheme %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("transport: gateway url %q has no host", cfg.GatewayURL)
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = DefaultPathPrefix
	}
	return &Dialer{
		cfg:  cfg,
		base: base,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: cfg.Logger.With().Str("component", "transport").Logger(),
	}, nil
}

// URL returns the channel address for targetID carrying credential as the
// "token" query parameter.
func (d *Dialer) URL(targetID, credential string) string {
	u := *d.base
	prefix := "/" + strings.Trim(d.cfg.PathPrefix, "/") + "/"
	u.Path = strings.TrimSuffix(d.base.Path, "/") + prefix + targetID
	u.RawPath = strings.TrimSuffix(d.base.EscapedPath(), "/") + prefix + url.PathEscape(targetID)
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open starts connecting to targetID in the background.
func (d *Dialer) Open(targetID, credential string, deliver func(Event)) Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		dialer:  d,
		deliver: deliver,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		log:     d.log.With().Str("target", targetID).Logger(),
	}
	go c.run(ctx, d.URL(targetID, credential))
	return c
}

// Conn is a Channel backed by one WebSocket connection.
type Conn struct {
	dialer  *Dialer
	deliver func(Event)
	cancel  context.CancelFunc
	wake    chan struct{}
	log     zerolog.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	queue  [][]byte
	closed bool
}

// Send implements Channel.
func (c *Conn) Send(f frame.Frame) {
	data, err := frame.Encode(f)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping unencodable frame")
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, data)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close implements Channel.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		_ = ws.Close()
	}
}

func (c *Conn) run(ctx context.Context, target string) {
	var closeErr error
	defer func() {
		c.deliver(Event{Kind: EventClosed, Err: closeErr})
	}()

	ws, resp, err := c.dialer.ws.DialContext(ctx, target, nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		closeErr = handshakeError(err, resp)
		c.log.Debug().Err(closeErr).Msg("dial failed")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	if c.dialer.cfg.ReadLimit > 0 {
		ws.SetReadLimit(c.dialer.cfg.ReadLimit)
	}
	c.log.Debug().Msg("channel ready")
	c.deliver(Event{Kind: EventReady})

	writeCtx, stopWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go c.writeLoop(writeCtx, ws, writerDone)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			closeErr = readError(ctx, err)
			break
		}
		c.deliver(Event{Kind: EventFrame, Frame: frame.DecodeInbound(msg)})
	}

	stopWriter()
	<-writerDone
	_ = ws.Close()
	c.log.Debug().AnErr("reason", closeErr).Msg("channel closed")
}

func (c *Conn) writeLoop(ctx context.Context, ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	var ping <-chan time.Time
	if c.dialer.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.dialer.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			for _, msg := range c.take() {
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
					c.log.Debug().Err(err).Msg("write failed")
					// Unblocks the reader, which reports Closed.
					_ = ws.Close()
					return
				}
			}
		case <-ping:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

func handshakeError(err error, resp *http.Response) error {
	if resp != nil {
		return fmt.Errorf("%w: %s", ErrHandshake, resp.Status)
	}
	return fmt.Errorf("%w: %v", ErrHandshake, err)
}

// readError classifies the error that ended the read loop. Closes initiated
// locally or normal closes from the peer are not errors.
func readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Text != "" {
		return errors.New(ce.Text)
	}
	return fmt.Errorf("connection lost: %w", err)
}

var (
	_ Opener  = (*Dialer)(nil)
	_ Channel = (*Conn)(nil)
)
