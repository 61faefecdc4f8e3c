package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Creates ssh_profiles: one terminal target per record, owned by a user.
//
// secret is hidden and holds the AES-GCM sealed password or private key;
// hooks encrypt it on every save. Owners manage their own profiles;
// superusers bypass the rules.
func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		col := core.NewBaseCollection("ssh_profiles")

		col.Fields.Add(&core.RelationField{
			Name:          "owner",
			Required:      true,
			CollectionId:  users.Id,
			MaxSelect:     1,
			CascadeDelete: true,
		})
		col.Fields.Add(&core.TextField{Name: "name", Required: true, Max: 100})
		col.Fields.Add(&core.TextField{Name: "host", Required: true, Max: 255})
		col.Fields.Add(&core.NumberField{
			Name:    "port",
			OnlyInt: true,
			Min:     types.Pointer(1.0),
			Max:     types.Pointer(65535.0),
		})
		col.Fields.Add(&core.TextField{Name: "username", Max: 64})
		col.Fields.Add(&core.SelectField{
			Name:      "auth_type",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"password", "private_key", "local"},
		})
		col.Fields.Add(&core.TextField{Name: "secret", Hidden: true})
		col.Fields.Add(&core.TextField{Name: "shell", Max: 255})
		col.Fields.Add(&core.AutodateField{
			Name:     "created",
			OnCreate: true,
		})
		col.Fields.Add(&core.AutodateField{
			Name:     "updated",
			OnCreate: true,
			OnUpdate: true,
		})

		ownerRule := "@request.auth.id != '' && owner = @request.auth.id"
		col.ListRule = &ownerRule
		col.ViewRule = &ownerRule
		col.CreateRule = &ownerRule
		col.UpdateRule = &ownerRule
		col.DeleteRule = &ownerRule

		col.Indexes = []string{
			"CREATE INDEX idx_ssh_profiles_owner ON ssh_profiles (owner)",
			"CREATE UNIQUE INDEX idx_ssh_profiles_owner_name ON ssh_profiles (owner, name)",
		}

		return app.Save(col)
	}, func(app core.App) error {
		col, err := app.FindCollectionByNameOrId("ssh_profiles")
		if err != nil {
			return nil
		}
		return app.Delete(col)
	})
}
