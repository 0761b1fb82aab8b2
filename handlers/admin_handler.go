package handlers

import (
	"net/http"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"tanker-booking/config"
	"tanker-booking/utils"
)

type AdminHandler struct {
	app *pocketbase.PocketBase
	cfg *config.Config
}

func NewAdminHandler(app *pocketbase.PocketBase, cfg *config.Config) *AdminHandler {
	return &AdminHandler{app: app, cfg: cfg}
}

// RequireAdminKey checks the X-Admin-Key header against the configured hash.
func (h *AdminHandler) RequireAdminKey(e *core.RequestEvent) error {
	key := e.Request.Header.Get("X-Admin-Key")
	if key == "" || h.cfg.AdminKeyHash == "" {
		return apis.NewUnauthorizedError("Admin key required", nil)
	}
	if !utils.CompareHash([]byte(h.cfg.AdminKeyHash), []byte(key)) {
		return apis.NewUnauthorizedError("Invalid admin key", nil)
	}
	return e.Next()
}

// ListBookings - all bookings, optionally filtered by date and status
func (h *AdminHandler) ListBookings(e *core.RequestEvent) error {
	filter := "id != ''"
	params := map[string]any{}

	if date := e.Request.URL.Query().Get("date"); date != "" {
		filter += " && date = {:date}"
		params["date"] = date
	}
	if st := e.Request.URL.Query().Get("status"); st != "" {
		filter += " && status = {:status}"
		params["status"] = st
	}

	bookings, err := h.app.FindRecordsByFilter("bookings", filter, "-created", 200, 0, params)
	if err != nil {
		return apis.NewBadRequestError("Failed to list bookings", err)
	}

	result := []map[string]any{}
	for _, booking := range bookings {
		result = append(result, map[string]any{
			"id":             booking.Id,
			"customer_id":    booking.GetString("customer_id"),
			"customer_name":  booking.GetString("customer_name"),
			"phone":          booking.GetString("phone"),
			"date":           booking.GetString("date"),
			"slot":           booking.GetString("slot"),
			"status":         booking.GetString("status"),
			"payment_status": booking.GetString("payment_status"),
			"amount":         booking.GetFloat("amount"),
			"provider_ref":   booking.GetString("provider_ref"),
			"created":        booking.GetDateTime("created"),
		})
	}

	return e.JSON(http.StatusOK, result)
}

// Dashboard - booking and revenue aggregates for the admin panel
func (h *AdminHandler) Dashboard(e *core.RequestEvent) error {
	byStatus := []dbx.NullStringMap{}
	err := h.app.DB().
		NewQuery("SELECT status, COUNT(*) AS total FROM bookings GROUP BY status").
		All(&byStatus)
	if err != nil {
		return apis.NewBadRequestError("Failed to build dashboard", err)
	}

	statusCounts := map[string]string{}
	for _, row := range byStatus {
		statusCounts[row["status"].String] = row["total"].String
	}

	revenue := dbx.NullStringMap{}
	err = h.app.DB().
		NewQuery("SELECT COALESCE(SUM(amount), 0) AS revenue, COUNT(*) AS paid FROM bookings WHERE payment_status = 'paid'").
		One(&revenue)
	if err != nil {
		return apis.NewBadRequestError("Failed to build dashboard", err)
	}

	byDate := []dbx.NullStringMap{}
	err = h.app.DB().
		NewQuery("SELECT date, COUNT(*) AS total FROM bookings WHERE status = 'confirmed' GROUP BY date ORDER BY date DESC LIMIT 14").
		All(&byDate)
	if err != nil {
		return apis.NewBadRequestError("Failed to build dashboard", err)
	}

	upcoming := []map[string]string{}
	for _, row := range byDate {
		upcoming = append(upcoming, map[string]string{
			"date":  row["date"].String,
			"total": row["total"].String,
		})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"bookings_by_status": statusCounts,
		"total_revenue":      revenue["revenue"].String,
		"paid_bookings":      revenue["paid"].String,
		"confirmed_by_date":  upcoming,
	})
}
