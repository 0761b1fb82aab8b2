package handlers

import (
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"tanker-booking/models"
)

type RatingHandler struct {
	app *pocketbase.PocketBase
	loc *time.Location
}

func NewRatingHandler(app *pocketbase.PocketBase) *RatingHandler {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		loc = time.UTC
	}
	return &RatingHandler{app: app, loc: loc}
}

// SubmitRating - rate a completed delivery. Allowed once per booking, only
// after the delivery window has started.
func (h *RatingHandler) SubmitRating(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	bookingID := e.Request.PathValue("bookingId")

	var req struct {
		Stars   int    `json:"stars"`
		Comment string `json:"comment"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Stars < 1 || req.Stars > 5 {
		return apis.NewBadRequestError("Stars must be between 1 and 5", nil)
	}

	booking, err := h.app.FindRecordById("bookings", bookingID)
	if err != nil {
		return apis.NewNotFoundError("Booking not found", err)
	}
	if booking.GetString("customer_id") != e.Auth.Id {
		return apis.NewForbiddenError("Access denied", nil)
	}
	if booking.GetString("status") != models.BookingConfirmed {
		return apis.NewBadRequestError("Only confirmed bookings can be rated", nil)
	}

	slotAt, err := models.SlotTime(booking.GetString("date"), booking.GetString("slot"), h.loc)
	if err != nil || time.Now().In(h.loc).Before(slotAt) {
		return apis.NewBadRequestError("Booking can be rated after the delivery time", nil)
	}

	existing, err := h.app.FindFirstRecordByFilter(
		"ratings",
		"booking_id = {:bookingId}",
		map[string]any{"bookingId": bookingID},
	)
	if err == nil && existing != nil {
		return apis.NewBadRequestError("Booking already rated", nil)
	}

	collection, err := h.app.FindCollectionByNameOrId("ratings")
	if err != nil {
		return apis.NewBadRequestError("Failed to save rating", err)
	}

	record := core.NewRecord(collection)
	record.Set("booking_id", bookingID)
	record.Set("user_id", e.Auth.Id)
	record.Set("stars", req.Stars)
	record.Set("comment", req.Comment)

	if err := h.app.SaveWithContext(e.Request.Context(), record); err != nil {
		return apis.NewBadRequestError("Failed to save rating", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"id":    record.Id,
		"stars": req.Stars,
	})
}
