package main

import (
	"log"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/time/rate"

	"github.com/websoft9/webterm/internal/audit"
	"github.com/websoft9/webterm/internal/config"
	"github.com/websoft9/webterm/internal/crypto"
	"github.com/websoft9/webterm/internal/hooks"
	"github.com/websoft9/webterm/internal/routes"
	"github.com/websoft9/webterm/internal/terminal"
	"github.com/websoft9/webterm/internal/worker"

	// Register the gateway's collections
	_ "github.com/websoft9/webterm/internal/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		log.Fatal(err)
	}
	if sealer.DevKey() {
		log.Printf("%s is not set, profile secrets are sealed with the development key", crypto.EnvKey)
	}

	app := pocketbase.New()

	// Audit entries go through the Asynq queue when Redis is configured.
	var sink audit.Sink = audit.Direct{App: app}
	var w *worker.Worker
	if cfg.RedisAddr != "" {
		w = worker.New(app, cfg.RedisAddr)
		sink = w
	}

	sessions := terminal.NewRegistry(cfg.SessionIdleTimeout)

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		routes.Register(se, routes.Options{
			Sealer:      sealer,
			Audit:       sink,
			Sessions:    sessions,
			ConnectRate: rate.Limit(cfg.ConnectRate),
		})
		return se.Next()
	})

	hooks.Register(app, sealer, sink)

	if w != nil {
		// Start Asynq worker when PocketBase starts serving
		app.OnServe().BindFunc(func(se *core.ServeEvent) error {
			w.Start()
			return se.Next()
		})

		// Graceful shutdown: stop worker when PocketBase terminates
		app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
			w.Shutdown()
			return e.Next()
		})
	}

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}
