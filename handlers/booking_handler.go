package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"tanker-booking/config"
	"tanker-booking/internal/status"
	"tanker-booking/models"
	"tanker-booking/services"
	"tanker-booking/utils"
)

type BookingHandler struct {
	app        *pocketbase.PocketBase
	ledger     *services.LedgerService
	reconciler *services.ReconcilerService
	cfg        *config.Config
}

func NewBookingHandler(app *pocketbase.PocketBase, ledger *services.LedgerService, reconciler *services.ReconcilerService, cfg *config.Config) *BookingHandler {
	return &BookingHandler{
		app:        app,
		ledger:     ledger,
		reconciler: reconciler,
		cfg:        cfg,
	}
}

// ClaimSlot - claim a delivery slot and start the payment flow
func (h *BookingHandler) ClaimSlot(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Date  string `json:"date"`
		Slot  string `json:"slot"`
		Phone string `json:"phone"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	phone, err := utils.NormalizePhone(req.Phone)
	if err != nil {
		return apis.NewBadRequestError("Invalid phone number", err)
	}

	ctx := e.Request.Context()

	booking, err := h.ledger.ClaimSlot(ctx, e.Auth.Id, e.Auth.GetString("name"), phone, req.Date, req.Slot, h.cfg.BookingPrice)
	if errors.Is(err, status.ErrSlotConflict) {
		// The slot choice belongs to the user; no automatic retry.
		return e.JSON(http.StatusConflict, map[string]any{
			"error": "Slot already booked, please choose another",
		})
	}
	if err != nil {
		return apis.NewBadRequestError("Failed to create booking", err)
	}

	attempt, err := h.reconciler.OpenAttempt(ctx, booking)
	if errors.Is(err, status.ErrProviderUnavailable) {
		return e.JSON(http.StatusServiceUnavailable, map[string]any{
			"error":      "Payment service unavailable, please try again",
			"booking_id": booking.ID,
		})
	}
	if err != nil {
		return apis.NewBadRequestError("Failed to start payment", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"booking":         booking,
		"idempotency_key": attempt.IdempotencyKey,
		"payment_window":  h.cfg.PaymentWindow.Seconds(),
	})
}

// GetAvailability - per-slot status for one date
func (h *BookingHandler) GetAvailability(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	date := e.Request.PathValue("date")
	ctx := e.Request.Context()

	availability, err := h.ledger.Availability(ctx, date)
	if err != nil {
		return apis.NewBadRequestError("Failed to get availability", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"date":  date,
		"slots": availability,
	})
}

// GetBooking - booking details plus payment attempt state, used by the
// payment page's polling
func (h *BookingHandler) GetBooking(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	record, err := h.app.FindRecordById("bookings", bookingID)
	if err != nil {
		return apis.NewNotFoundError("Booking not found", err)
	}
	if record.GetString("customer_id") != e.Auth.Id {
		return apis.NewForbiddenError("Access denied", nil)
	}

	resp := map[string]any{
		"id":             record.Id,
		"date":           record.GetString("date"),
		"slot":           record.GetString("slot"),
		"status":         record.GetString("status"),
		"payment_status": record.GetString("payment_status"),
		"amount":         record.GetFloat("amount"),
		"created":        record.GetDateTime("created"),
	}

	if attempt, err := h.reconciler.GetAttemptByBooking(ctx, bookingID); err == nil {
		resp["attempt"] = map[string]any{
			"state":    attempt.State,
			"deadline": attempt.Deadline,
		}
	}

	return e.JSON(http.StatusOK, resp)
}

// GetBookingHistory - caller's bookings, newest first
func (h *BookingHandler) GetBookingHistory(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	bookings, err := h.app.FindRecordsByFilter(
		"bookings",
		"customer_id = {:customerId}",
		"-created",
		20,
		0,
		map[string]any{"customerId": e.Auth.Id},
	)
	if err != nil {
		return apis.NewBadRequestError("Failed to get bookings", err)
	}

	result := []map[string]any{}
	for _, booking := range bookings {
		result = append(result, map[string]any{
			"id":             booking.Id,
			"date":           booking.GetString("date"),
			"slot":           booking.GetString("slot"),
			"status":         booking.GetString("status"),
			"payment_status": booking.GetString("payment_status"),
			"amount":         booking.GetFloat("amount"),
			"created":        booking.GetDateTime("created"),
		})
	}

	return e.JSON(http.StatusOK, result)
}

// CancelBooking - user cancels a pending booking before paying
func (h *BookingHandler) CancelBooking(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	record, err := h.app.FindRecordById("bookings", bookingID)
	if err != nil {
		return apis.NewNotFoundError("Booking not found", err)
	}
	if record.GetString("customer_id") != e.Auth.Id {
		return apis.NewForbiddenError("Access denied", nil)
	}
	if record.GetString("status") == models.BookingConfirmed {
		return apis.NewBadRequestError("Cannot cancel a confirmed booking", nil)
	}

	booking, err := h.ledger.Release(ctx, bookingID, models.ReleaseCancelled)
	if errors.Is(err, status.ErrInvalidTransition) {
		return apis.NewBadRequestError("Booking can no longer be cancelled", nil)
	}
	if err != nil {
		return apis.NewBadRequestError("Failed to cancel booking", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"id":     booking.ID,
		"status": booking.Status,
	})
}
