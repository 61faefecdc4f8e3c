package terminal

import (
	"sort"
	"sync"
	"time"
)

// DefaultIdleTimeout closes relays nobody has typed into for this long.
const DefaultIdleTimeout = 30 * time.Minute

// Info describes a live relay.
type Info struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
	LastInput time.Time `json:"last_input"`
}

// Registry tracks active sessions and enforces idle timeouts.
// The WebSocket handler calls Touch on each message received; a per-session
// janitor closes sessions that have been idle too long.
type Registry struct {
	idle time.Duration
	tick time.Duration

	mu       sync.Mutex
	sessions map[string]*registeredSession
}

type registeredSession struct {
	info    Info
	session Session
	done    chan struct{} // closed by Unregister to stop the idle goroutine immediately
}

// NewRegistry returns a registry closing sessions idle for longer than
// idle. A non-positive idle selects DefaultIdleTimeout.
func NewRegistry(idle time.Duration) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	tick := time.Minute
	if idle/2 < tick {
		tick = idle / 2
	}
	return &Registry{
		idle:     idle,
		tick:     tick,
		sessions: make(map[string]*registeredSession),
	}
}

// Register adds a session and starts idle monitoring.
func (r *Registry) Register(info Info, sess Session) {
	now := time.Now()
	if info.StartedAt.IsZero() {
		info.StartedAt = now
	}
	info.LastInput = now
	done := make(chan struct{})

	r.mu.Lock()
	r.sessions[info.ID] = &registeredSession{info: info, session: sess, done: done}
	r.mu.Unlock()

	go r.watch(info.ID, sess, done)
}

func (r *Registry) watch(id string, sess Session, done chan struct{}) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			rs, ok := r.sessions[id]
			if !ok {
				r.mu.Unlock()
				return
			}
			if time.Since(rs.info.LastInput) >= r.idle {
				delete(r.sessions, id)
				r.mu.Unlock()
				_ = sess.Close()
				return
			}
			r.mu.Unlock()
		}
	}
}

// Touch resets the idle timer of a session.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if rs, ok := r.sessions[id]; ok {
		rs.info.LastInput = time.Now()
	}
	r.mu.Unlock()
}

// Unregister removes the session without closing it; the caller owns that.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	rs, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		close(rs.done)
	}
	r.mu.Unlock()
}

// Kill closes a registered session. The relay notices the closed shell and
// unregisters it. It reports whether the session existed.
func (r *Registry) Kill(id string) bool {
	r.mu.Lock()
	rs, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	_ = rs.session.Close()
	return true
}

// Get returns the info of one session.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.sessions[id]
	if !ok {
		return Info{}, false
	}
	return rs.info, true
}

// List returns all live sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	for _, rs := range r.sessions {
		out = append(out, rs.info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
