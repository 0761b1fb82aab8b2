package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_bookings0001",
			"name": "bookings",
			"type": "base",
			"system": false,
			"fields": [
				{
					"id": "text_customer_id",
					"name": "customer_id",
					"type": "text",
					"required": true,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_customer_nm",
					"name": "customer_name",
					"type": "text",
					"required": false,
					"presentable": true,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_phone00001",
					"name": "phone",
					"type": "text",
					"required": true,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_date000001",
					"name": "date",
					"type": "text",
					"required": true,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": "^\\d{4}-\\d{2}-\\d{2}$"
				},
				{
					"id": "select_slot0001",
					"name": "slot",
					"type": "select",
					"required": true,
					"presentable": false,
					"maxSelect": 1,
					"values": [
						"8:00 AM",
						"10:00 AM",
						"12:00 PM",
						"2:00 PM",
						"4:00 PM",
						"6:00 PM"
					]
				},
				{
					"id": "select_status01",
					"name": "status",
					"type": "select",
					"required": true,
					"presentable": false,
					"maxSelect": 1,
					"values": [
						"pending",
						"confirmed",
						"cancelled",
						"expired"
					]
				},
				{
					"id": "select_paystat1",
					"name": "payment_status",
					"type": "select",
					"required": true,
					"presentable": false,
					"maxSelect": 1,
					"values": [
						"unpaid",
						"awaiting_provider",
						"paid",
						"failed"
					]
				},
				{
					"id": "number_amount01",
					"name": "amount",
					"type": "number",
					"required": true,
					"presentable": false,
					"min": 0,
					"max": null,
					"onlyInt": false
				},
				{
					"id": "text_provref001",
					"name": "provider_ref",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "autodate_crtd01",
					"name": "created",
					"type": "autodate",
					"onCreate": true,
					"onUpdate": false
				},
				{
					"id": "autodate_updt01",
					"name": "updated",
					"type": "autodate",
					"onCreate": true,
					"onUpdate": true
				}
			],
			"indexes": [
				"CREATE INDEX idx_bookings_customer ON bookings (customer_id)",
				"CREATE INDEX idx_bookings_date ON bookings (date)",
				"CREATE UNIQUE INDEX idx_bookings_active_slot ON bookings (date, slot) WHERE status IN ('pending', 'confirmed')"
			],
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), &collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("pbc_bookings0001")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
