package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_ratings00001",
			"name": "ratings",
			"type": "base",
			"system": false,
			"fields": [
				{
					"id": "text_booking_id",
					"name": "booking_id",
					"type": "text",
					"required": true,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_user_id001",
					"name": "user_id",
					"type": "text",
					"required": true,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "number_stars001",
					"name": "stars",
					"type": "number",
					"required": true,
					"presentable": false,
					"min": 1,
					"max": 5,
					"onlyInt": true
				},
				{
					"id": "text_comment001",
					"name": "comment",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 500,
					"pattern": ""
				},
				{
					"id": "autodate_crtd02",
					"name": "created",
					"type": "autodate",
					"onCreate": true,
					"onUpdate": false
				}
			],
			"indexes": [
				"CREATE UNIQUE INDEX idx_ratings_booking ON ratings (booking_id)"
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
		collection, err := app.FindCollectionByNameOrId("pbc_ratings00001")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
