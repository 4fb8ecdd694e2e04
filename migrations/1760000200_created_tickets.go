package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("tickets")

		// Read-only over the records API; every write goes through the service.
		collection.ListRule = types.Pointer("user_id = @request.auth.id")
		collection.ViewRule = types.Pointer("user_id = @request.auth.id")

		collection.Fields.Add(
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "user_id", Required: true},
			&core.TextField{Name: "payment_id"},
			&core.SelectField{
				Name:      "status",
				Values:    []string{"pending_payment", "paid", "confirmed", "used"},
				MaxSelect: 1,
				Required:  true,
			},
			&core.NumberField{Name: "unit_price", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "purchase_amount", Min: types.Pointer(0.0)},
			&core.TextField{Name: "code", Max: 32},
			&core.JSONField{Name: "custom_responses"},
			&core.BoolField{Name: "checked_in"},
			&core.DateField{Name: "checked_in_at"},
			&core.DateField{Name: "paid_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_tickets_event_user", false, "`event_id`, `user_id`", "")
		collection.AddIndex("idx_tickets_payment", false, "`payment_id`", "")
		collection.AddIndex("idx_tickets_code", true, "`code`", "`code` != ''")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
