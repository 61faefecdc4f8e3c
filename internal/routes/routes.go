// Package routes registers the gateway's custom routes.
//
// Route groups:
//   - /ws/terminal/{profileId}    WebSocket terminal relay (any authenticated user)
//   - /api/ext/terminal/sessions  live relay listing and kill (superuser only)
package routes

import (
	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/time/rate"

	"github.com/websoft9/webterm/internal/audit"
	"github.com/websoft9/webterm/internal/crypto"
	"github.com/websoft9/webterm/internal/terminal"
)

// Options are the services the routes depend on.
type Options struct {
	Sealer   *crypto.Sealer
	Audit    audit.Sink
	Sessions *terminal.Registry
	// ConnectRate caps new relay connections per second across all users.
	// Zero selects defaultConnectRate.
	ConnectRate rate.Limit
}

const defaultConnectRate rate.Limit = 10

// Register mounts all custom route groups on the PocketBase router.
func Register(se *core.ServeEvent, opts Options) {
	if opts.Audit == nil {
		opts.Audit = audit.Direct{App: se.App}
	}
	if opts.Sessions == nil {
		opts.Sessions = terminal.NewRegistry(0)
	}
	rl := opts.ConnectRate
	if rl <= 0 {
		rl = defaultConnectRate
	}
	registerTerminalRoutes(se.Router.RouterGroup, &terminalHandler{
		sealer:   opts.Sealer,
		audit:    opts.Audit,
		sessions: opts.Sessions,
		limiter:  rate.NewLimiter(rl, int(rl)+1),
	})
}
