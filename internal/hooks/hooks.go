// Package hooks registers PocketBase event hooks for the gateway.
package hooks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"github.com/websoft9/webterm/internal/audit"
	"github.com/websoft9/webterm/internal/crypto"
	"github.com/websoft9/webterm/internal/terminal"
)

const profilesCollection = "ssh_profiles"

// Register binds all custom event hooks to the app.
func Register(app core.App, sealer *crypto.Sealer, sink audit.Sink) {
	registerProfileHooks(app, sealer)
	registerProfileAuditHooks(app, sink)
	registerLoginAuditHooks(app, sink)
}

// registerProfileHooks normalizes profiles and seals their secret before
// every save, whether it comes from the API or from backend code.
func registerProfileHooks(app core.App, sealer *crypto.Sealer) {
	seal := func(e *core.RecordEvent) error {
		if err := prepareProfile(e.Record, sealer); err != nil {
			return apis.NewBadRequestError(err.Error(), nil)
		}
		return e.Next()
	}
	app.OnRecordCreate(profilesCollection).BindFunc(seal)
	app.OnRecordUpdate(profilesCollection).BindFunc(seal)

	// Regular users can only create profiles for themselves.
	app.OnRecordCreateRequest(profilesCollection).BindFunc(func(e *core.RecordRequestEvent) error {
		if e.Auth != nil && !e.HasSuperuserAuth() {
			e.Record.Set("owner", e.Auth.Id)
		}
		return e.Next()
	})
}

// prepareProfile fills defaults, validates the auth type against the
// secret and encrypts a secret that changed in this save.
func prepareProfile(rec *core.Record, sealer *crypto.Sealer) error {
	authType := rec.GetString("auth_type")
	switch authType {
	case terminal.AuthLocal:
		if strings.TrimSpace(rec.GetString("host")) == "" {
			rec.Set("host", "localhost")
		}
	case terminal.AuthPassword, terminal.AuthPrivateKey:
		if rec.GetInt("port") == 0 {
			rec.Set("port", 22)
		}
		if strings.TrimSpace(rec.GetString("username")) == "" {
			return errors.New("username is required for ssh profiles")
		}
	}

	secret := rec.GetString("secret")
	if secret == "" || secret == rec.Original().GetString("secret") {
		return nil
	}
	sealed, err := sealer.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}
	rec.Set("secret", sealed)
	return nil
}

// registerProfileAuditHooks records who changed which profile.
func registerProfileAuditHooks(app core.App, sink audit.Sink) {
	record := func(e *core.RecordRequestEvent, action, id, name string) {
		userID, userEmail := actorInfo(e.Auth)
		sink.Record(audit.Entry{
			UserID: userID, UserEmail: userEmail,
			Action: action, ResourceType: "ssh_profile",
			ResourceID: id, ResourceName: name,
			Status:    audit.StatusSuccess,
			IP:        e.RealIP(),
			UserAgent: e.Request.Header.Get("User-Agent"),
		})
	}

	app.OnRecordCreateRequest(profilesCollection).BindFunc(func(e *core.RecordRequestEvent) error {
		err := e.Next()
		if err == nil {
			record(e, "profile.create", e.Record.Id, e.Record.GetString("name"))
		}
		return err
	})

	app.OnRecordUpdateRequest(profilesCollection).BindFunc(func(e *core.RecordRequestEvent) error {
		err := e.Next()
		if err == nil {
			record(e, "profile.update", e.Record.Id, e.Record.GetString("name"))
		}
		return err
	})

	app.OnRecordDeleteRequest(profilesCollection).BindFunc(func(e *core.RecordRequestEvent) error {
		// Capture record info before deletion
		id, name := e.Record.Id, e.Record.GetString("name")
		err := e.Next()
		if err == nil {
			record(e, "profile.delete", id, name)
		}
		return err
	})
}

// registerLoginAuditHooks writes audit records on login success and failure
// for both the "users" and "_superusers" collections.
func registerLoginAuditHooks(app core.App, sink audit.Sink) {
	for _, col := range []string{"users", core.CollectionNameSuperusers} {
		app.OnRecordAuthWithPasswordRequest(col).BindFunc(func(e *core.RecordAuthWithPasswordRequestEvent) error {
			ip := e.RealIP()
			ua := e.Request.Header.Get("User-Agent")
			err := e.Next()
			if err != nil {
				sink.Record(audit.Entry{
					UserID: "unknown", UserEmail: e.Identity,
					Action: "login.failed", ResourceType: "session",
					Status:    audit.StatusFailed,
					IP:        ip,
					UserAgent: ua,
					Detail: map[string]any{
						"reason":     err.Error(),
						"collection": col,
					},
				})
				return err
			}
			sink.Record(audit.Entry{
				UserID: e.Record.Id, UserEmail: e.Record.GetString("email"),
				Action: "login.success", ResourceType: "session",
				Status:    audit.StatusSuccess,
				IP:        ip,
				UserAgent: ua,
			})
			return nil
		})
	}
}

func actorInfo(auth *core.Record) (string, string) {
	if auth != nil {
		return auth.Id, auth.GetString("email")
	}
	return "system", ""
}
