package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// audit_logs records relay sessions, profile changes and logins. Records
// are only written server-side; owners and superusers may read them.
func init() {
	m.Register(func(app core.App) error {
		col := core.NewBaseCollection("audit_logs")

		for _, name := range []string{"user_email", "resource_type", "resource_id", "resource_name", "session_id", "ip"} {
			col.Fields.Add(&core.TextField{Name: name})
		}
		col.Fields.Add(&core.TextField{Name: "user_id", Required: true})
		col.Fields.Add(&core.TextField{Name: "action", Required: true})
		col.Fields.Add(&core.SelectField{
			Name:      "status",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"success", "failed"},
		})
		col.Fields.Add(&core.JSONField{Name: "detail"})
		col.Fields.Add(&core.AutodateField{Name: "created", OnCreate: true})

		read := "user_id = @request.auth.id || @request.auth.collectionName = '_superusers'"
		col.ListRule = &read
		col.ViewRule = &read

		col.AddIndex("idx_audit_logs_user_action", false, "user_id, action", "")
		col.AddIndex("idx_audit_logs_session", false, "session_id", "")
		col.AddIndex("idx_audit_logs_resource", false, "resource_type, resource_id", "")

		return app.Save(col)
	}, func(app core.App) error {
		col, err := app.FindCollectionByNameOrId("audit_logs")
		if err != nil {
			return nil
		}
		return app.Delete(col)
	})
}
