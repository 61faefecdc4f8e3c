package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/hook"
	"github.com/pocketbase/pocketbase/tools/router"
	"golang.org/x/time/rate"

	"github.com/websoft9/webterm/internal/audit"
	"github.com/websoft9/webterm/internal/crypto"
	"github.com/websoft9/webterm/internal/frame"
	"github.com/websoft9/webterm/internal/terminal"
)

const (
	relayBufferSize = 4096
	wsWriteWait     = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	// CheckOrigin allows all origins. Every request carries an auth token
	// that is verified before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connectorFor is swapped in tests.
var connectorFor = terminal.ConnectorFor

var errProfileNotFound = errors.New("profile not found")

// wsTokenAuth authenticates WebSocket upgrade requests using a "token"
// query parameter. Browsers cannot set custom headers on a WS upgrade, so
// clients send the auth token as ?token=. PocketBase's loadAuthToken
// middleware runs before route-level Bind, so the auth record is resolved
// here rather than by copying the header.
func wsTokenAuth() *hook.Handler[*core.RequestEvent] {
	return &hook.Handler[*core.RequestEvent]{
		Id: "wsTokenAuth",
		// Must run AFTER loadAuthToken (-1020) but BEFORE RequireAuth (0).
		Priority: -1019,
		Func: func(e *core.RequestEvent) error {
			if e.Auth != nil {
				return e.Next() // already authenticated (e.g. via header)
			}
			tok := e.Request.URL.Query().Get("token")
			if tok == "" {
				return e.Next()
			}
			record, err := e.App.FindAuthRecordByToken(tok, core.TokenTypeAuth)
			if err == nil && record != nil {
				e.Auth = record
			}
			return e.Next()
		},
	}
}

type terminalHandler struct {
	sealer   *crypto.Sealer
	audit    audit.Sink
	sessions *terminal.Registry
	limiter  *rate.Limiter
}

// registerTerminalRoutes registers the terminal relay and session admin
// routes.
func registerTerminalRoutes(r *router.RouterGroup[*core.RequestEvent], h *terminalHandler) {
	ws := r.Group("/ws/terminal")
	ws.Bind(wsTokenAuth())
	ws.Bind(apis.RequireAuth())
	ws.GET("/{profileId}", h.handleTerminal)

	admin := r.Group("/api/ext/terminal/sessions")
	admin.Bind(apis.RequireSuperuserAuth())
	admin.GET("", h.handleListSessions)
	admin.DELETE("/{sessionId}", h.handleKillSession)
}

// ════════════════════════════════════════════════════════════
// WebSocket relay
// ════════════════════════════════════════════════════════════

func (h *terminalHandler) handleTerminal(e *core.RequestEvent) error {
	profileID := e.Request.PathValue("profileId")
	cfg, profileName, resolveErr := h.resolveProfile(e, profileID)

	conn, err := wsUpgrader.Upgrade(e.Response, e.Request, nil)
	if err != nil {
		return nil // Upgrade already wrote response
	}
	defer conn.Close()

	userID, userEmail, ip, ua := clientInfo(e)
	entry := audit.Entry{
		UserID: userID, UserEmail: userEmail,
		Action: "terminal.connect", ResourceType: "ssh_profile",
		ResourceID: profileID, ResourceName: profileName,
		IP: ip, UserAgent: ua,
	}
	fail := func(msg string) error {
		entry.Status = audit.StatusFailed
		entry.Detail = map[string]any{"errorMessage": msg}
		h.audit.Record(entry)
		rejectSetup(conn, msg)
		return nil
	}

	if h.limiter != nil && !h.limiter.Allow() {
		return fail("too many terminal connections, retry shortly")
	}
	if resolveErr != nil {
		return fail(resolveErr.Error())
	}
	connector, err := connectorFor(cfg.AuthType)
	if err != nil {
		return fail(err.Error())
	}
	sess, err := connector.Connect(e.Request.Context(), cfg)
	if err != nil {
		return fail(fmt.Sprintf("connect %s: %v", profileName, err))
	}

	sessionID := uuid.NewString()
	entry.SessionID = sessionID
	startedAt := time.Now().UTC()
	var bytesOut, bytesIn atomic.Int64

	h.sessions.Register(terminal.Info{
		ID:        sessionID,
		ProfileID: profileID,
		UserID:    userID,
		StartedAt: startedAt,
	}, sess)
	defer func() {
		h.sessions.Unregister(sessionID)
		_ = sess.Close()
		disconnect := entry
		disconnect.Action = "terminal.disconnect"
		disconnect.Status = audit.StatusSuccess
		disconnect.Detail = map[string]any{
			"started_at": startedAt.Format(time.RFC3339),
			"ended_at":   time.Now().UTC().Format(time.RFC3339),
			"bytes_in":   bytesIn.Load(),
			"bytes_out":  bytesOut.Load(),
		}
		h.audit.Record(disconnect)
	}()

	entry.Status = audit.StatusSuccess
	h.audit.Record(entry)

	out := &wsWriter{conn: conn}
	done := make(chan struct{})

	// PTY → WebSocket
	go func() {
		defer close(done)
		var pending []byte
		buf := make([]byte, relayBufferSize)
		for {
			n, err := sess.Read(buf)
			if n > 0 {
				bytesOut.Add(int64(n))
				chunk := append(pending, buf[:n]...)
				chunk, rest := splitIncompleteRune(chunk)
				pending = append([]byte(nil), rest...)
				if len(chunk) > 0 {
					if werr := out.output(chunk); werr != nil {
						return
					}
				}
			}
			if err != nil {
				break
			}
		}
		if len(pending) > 0 {
			_ = out.output(pending)
		}
		out.close(websocket.CloseNormalClosure, "session ended")
	}()

	// WebSocket → PTY (+ control frames)
	go func() {
		// A gone client must also end the shell, which unblocks the reader.
		defer sess.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.sessions.Touch(sessionID)

			f, perr := frame.Parse(msg)
			if perr != nil {
				if json.Valid(msg) {
					// Well-formed but unknown or out-of-range control
					// messages are dropped.
					e.App.Logger().Debug("terminal: dropped control message",
						"session", sessionID, "error", perr.Error())
					continue
				}
				// Non-JSON payloads are raw keystrokes.
				bytesIn.Add(int64(len(msg)))
				if _, err := sess.Write(msg); err != nil {
					return
				}
				continue
			}
			switch f.Type {
			case frame.TypeInput:
				bytesIn.Add(int64(len(f.Data)))
				if _, err := sess.Write([]byte(f.Data)); err != nil {
					return
				}
			case frame.TypeResize:
				if f.Rows > 0 && f.Cols > 0 {
					_ = sess.Resize(f.Rows, f.Cols)
				}
			}
		}
	}()

	<-done
	return nil
}

// resolveProfile loads the profile and checks that the caller may use it.
// Profiles owned by someone else are reported as not found.
func (h *terminalHandler) resolveProfile(e *core.RequestEvent, profileID string) (terminal.ConnectorConfig, string, error) {
	var cfg terminal.ConnectorConfig

	profile, err := e.App.FindRecordById("ssh_profiles", profileID)
	if err != nil {
		return cfg, "", errProfileNotFound
	}
	if e.Auth == nil || (profile.GetString("owner") != e.Auth.Id && !e.HasSuperuserAuth()) {
		return cfg, "", errProfileNotFound
	}
	name := profile.GetString("name")

	cfg.Host = profile.GetString("host")
	cfg.Port = profile.GetInt("port")
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	cfg.User = profile.GetString("username")
	cfg.AuthType = profile.GetString("auth_type")
	cfg.Shell = profile.GetString("shell")

	if sealed := profile.GetString("secret"); sealed != "" {
		if h.sealer == nil {
			return cfg, name, errors.New("credential decrypt failed: no encryption key configured")
		}
		secret, err := h.sealer.Decrypt(sealed)
		if err != nil {
			return cfg, name, fmt.Errorf("credential decrypt failed: %w", err)
		}
		cfg.Secret = secret
	}
	return cfg, name, nil
}

// wsWriter serializes writes; gorilla/websocket allows one concurrent writer.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// output sends shell output as an output frame, or as a raw binary message
// when it is not valid UTF-8 and cannot travel in a JSON string.
func (w *wsWriter) output(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if !utf8.Valid(p) {
		return w.conn.WriteMessage(websocket.BinaryMessage, p)
	}
	data, err := frame.Encode(frame.Output(string(p)))
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsWriter) close(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// rejectSetup reports a setup failure as an error frame and closes the
// connection.
func rejectSetup(conn *websocket.Conn, msg string) {
	w := &wsWriter{conn: conn}
	if data, err := frame.Encode(frame.Error(msg)); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	w.close(websocket.CloseNormalClosure, "")
}

// splitIncompleteRune splits off a multi-byte rune cut at the end of p so it
// can be completed by the next read.
func splitIncompleteRune(p []byte) (complete, rest []byte) {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return p[:i], p[i:]
			}
			break
		}
	}
	return p, nil
}

// clientInfo extracts the actor and request origin for audit entries.
func clientInfo(e *core.RequestEvent) (userID, userEmail, ip, userAgent string) {
	userID = "unknown"
	if e.Auth != nil {
		userID = e.Auth.Id
		userEmail = e.Auth.GetString("email")
	}
	return userID, userEmail, e.RealIP(), e.Request.Header.Get("User-Agent")
}

// ════════════════════════════════════════════════════════════
// Session admin
// ════════════════════════════════════════════════════════════

func (h *terminalHandler) handleListSessions(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, map[string]any{"items": h.sessions.List()})
}

func (h *terminalHandler) handleKillSession(e *core.RequestEvent) error {
	id := e.Request.PathValue("sessionId")
	if !h.sessions.Kill(id) {
		return e.JSON(http.StatusNotFound, map[string]any{"code": 404, "message": "session not found"})
	}
	return e.NoContent(http.StatusNoContent)
}
