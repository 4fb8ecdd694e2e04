package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("events")

		collection.ListRule = types.Pointer("status = 'published' || organizer_id = @request.auth.id")
		collection.ViewRule = types.Pointer("status = 'published' || organizer_id = @request.auth.id")
		collection.CreateRule = types.Pointer("@request.auth.role = 'organizer' && @request.body.organizer_id = @request.auth.id")
		// Counters are owned by the server, so organizers may not touch them.
		collection.UpdateRule = types.Pointer("organizer_id = @request.auth.id" +
			" && @request.body.tickets_sold:isset = false" +
			" && @request.body.revenue:isset = false" +
			" && @request.body.holds:isset = false" +
			" && @request.body.applied_payments:isset = false")

		collection.Fields.Add(
			&core.TextField{Name: "organizer_id", Required: true},
			&core.TextField{Name: "title", Required: true, Max: 200},
			&core.SelectField{
				Name:      "status",
				Values:    []string{"draft", "published", "cancelled", "completed"},
				MaxSelect: 1,
				Required:  true,
			},
			&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "capacity", Min: types.Pointer(0.0), OnlyInt: true},
			&core.NumberField{Name: "tickets_sold", Min: types.Pointer(0.0), OnlyInt: true},
			&core.NumberField{Name: "revenue", Min: types.Pointer(0.0)},
			&core.JSONField{Name: "holds"},
			&core.JSONField{Name: "applied_payments"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_events_organizer", false, "`organizer_id`", "")
		collection.AddIndex("idx_events_status", false, "`status`", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
