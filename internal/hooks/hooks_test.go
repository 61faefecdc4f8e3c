package hooks_test

import (
	"testing"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"

	"github.com/websoft9/webterm/internal/audit"
	"github.com/websoft9/webterm/internal/crypto"
	"github.com/websoft9/webterm/internal/hooks"
	_ "github.com/websoft9/webterm/internal/migrations"
)

func setup(t *testing.T) (*tests.TestApp, *crypto.Sealer, *core.Record) {
	t.Helper()
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(app.Cleanup)

	sealer, err := crypto.NewSealer("")
	if err != nil {
		t.Fatal(err)
	}
	hooks.Register(app, sealer, audit.Direct{App: app})

	users, err := app.FindCollectionByNameOrId("users")
	if err != nil {
		t.Fatal(err)
	}
	owner := core.NewRecord(users)
	owner.Set("email", "owner@test.com")
	owner.SetPassword("1234567890")
	if err := app.Save(owner); err != nil {
		t.Fatal(err)
	}
	return app, sealer, owner
}

func newProfile(t *testing.T, app core.App, owner *core.Record, fields map[string]any) *core.Record {
	t.Helper()
	col, err := app.FindCollectionByNameOrId("ssh_profiles")
	if err != nil {
		t.Fatal(err)
	}
	rec := core.NewRecord(col)
	rec.Set("owner", owner.Id)
	for k, v := range fields {
		rec.Set(k, v)
	}
	return rec
}

func TestSecretIsSealedOnSave(t *testing.T) {
	app, sealer, owner := setup(t)

	rec := newProfile(t, app, owner, map[string]any{
		"name": "web-1", "host": "10.0.0.5", "username": "root",
		"auth_type": "password", "secret": "hunter2",
	})
	if err := app.Save(rec); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	stored, err := app.FindRecordById("ssh_profiles", rec.Id)
	if err != nil {
		t.Fatal(err)
	}
	sealed := stored.GetString("secret")
	if sealed == "hunter2" || sealed == "" {
		t.Fatalf("secret stored as %q", sealed)
	}
	if plain, err := sealer.Decrypt(sealed); err != nil || plain != "hunter2" {
		t.Fatalf("Decrypt = %q, %v", plain, err)
	}
	if stored.GetInt("port") != 22 {
		t.Errorf("port default = %d, want 22", stored.GetInt("port"))
	}

	// Saving without touching the secret must not seal it twice.
	stored.Set("name", "web-1-renamed")
	if err := app.Save(stored); err != nil {
		t.Fatal(err)
	}
	again, _ := app.FindRecordById("ssh_profiles", rec.Id)
	if again.GetString("secret") != sealed {
		t.Fatal("unchanged secret was re-encrypted")
	}
}

func TestLocalProfileDefaults(t *testing.T) {
	app, _, owner := setup(t)

	rec := newProfile(t, app, owner, map[string]any{"name": "gateway shell", "auth_type": "local"})
	if err := app.Save(rec); err != nil {
		t.Fatalf("save local profile: %v", err)
	}
	if rec.GetString("host") != "localhost" {
		t.Fatalf("host = %q, want localhost", rec.GetString("host"))
	}
}

func TestSSHProfileRequiresUsername(t *testing.T) {
	app, _, owner := setup(t)

	rec := newProfile(t, app, owner, map[string]any{
		"name": "web-2", "host": "10.0.0.6", "auth_type": "private_key",
	})
	if err := app.Save(rec); err == nil {
		t.Fatal("expected error for ssh profile without username")
	}
}
