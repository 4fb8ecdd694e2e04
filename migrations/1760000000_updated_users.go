package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// Purchaser and organizer profile fields on the built-in users collection.
func init() {
	m.Register(func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		collection.Fields.Add(
			&core.SelectField{
				Name:      "role",
				Values:    []string{"student", "organizer", "admin"},
				MaxSelect: 1,
			},
			&core.TextField{Name: "phone", Max: 20},
			&core.TextField{Name: "toyyibpay_category_code", Max: 64},
			&core.BoolField{Name: "payment_enabled"},
			&core.BoolField{Name: "manual_qr_enabled"},
			&core.URLField{Name: "manual_qr_url"},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}

		for _, name := range []string{"role", "phone", "toyyibpay_category_code", "payment_enabled", "manual_qr_enabled", "manual_qr_url"} {
			collection.Fields.RemoveByName(name)
		}

		return app.Save(collection)
	})
}
