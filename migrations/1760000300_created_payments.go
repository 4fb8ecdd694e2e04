package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("payments")

		collection.ListRule = types.Pointer("user_id = @request.auth.id || organizer_id = @request.auth.id")
		collection.ViewRule = types.Pointer("user_id = @request.auth.id || organizer_id = @request.auth.id")

		// Payment ids are UUIDs generated before the bill is created, so they can
		// travel to the gateway as the order reference.
		if id, ok := collection.Fields.GetByName("id").(*core.TextField); ok {
			id.Min = 15
			id.Max = 36
			id.Pattern = `^[a-z0-9-]+$`
		}

		collection.Fields.Add(
			&core.TextField{Name: "user_id", Required: true},
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "organizer_id"},
			&core.JSONField{Name: "ticket_ids"},
			&core.NumberField{Name: "quantity", Min: types.Pointer(1.0), OnlyInt: true},
			&core.NumberField{Name: "amount", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "platform_fee", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "organizer_amount", Min: types.Pointer(0.0)},
			&core.SelectField{
				Name:      "status",
				Values:    []string{"pending", "completed", "failed", "expired"},
				MaxSelect: 1,
				Required:  true,
			},
			&core.SelectField{
				Name:      "method",
				Values:    []string{"toyyibpay", "manual_qr"},
				MaxSelect: 1,
			},
			&core.TextField{Name: "bill_code", Max: 64},
			&core.TextField{Name: "bill_url", Max: 500},
			&core.TextField{Name: "gateway_ref", Max: 128},
			&core.NumberField{Name: "received_amount", Min: types.Pointer(0.0)},
			&core.TextField{Name: "failure_reason", Max: 500},
			&core.BoolField{Name: "counters_applied"},
			&core.NumberField{Name: "attempts", Min: types.Pointer(0.0), OnlyInt: true},
			&core.DateField{Name: "hold_expires_at"},
			&core.DateField{Name: "processed_at"},
			&core.DateField{Name: "completed_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_payments_bill_code", true, "`bill_code`", "`bill_code` != ''")
		collection.AddIndex("idx_payments_user_event", false, "`user_id`, `event_id`", "")
		collection.AddIndex("idx_payments_status_hold", false, "`status`, `hold_expires_at`", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("payments")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
