// Package migrations contains PocketBase Go migrations for the gateway's
// collections.
//
// All migration files use init() to register with the PocketBase migration
// runner. The package must be blank-imported in main.go:
//
//	_ "github.com/websoft9/webterm/internal/migrations"
package migrations
