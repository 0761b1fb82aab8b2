package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"tanker-booking/config"
	"tanker-booking/internal/status"
	"tanker-booking/services"
	"tanker-booking/utils"
)

type PaymentHandler struct {
	reconciler *services.ReconcilerService
	cfg        *config.Config
}

func NewPaymentHandler(reconciler *services.ReconcilerService, cfg *config.Config) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, cfg: cfg}
}

// GetPaymentStatus - attempt state by idempotency key, polled by the
// payment page while the STK prompt is on the customer's phone
func (h *PaymentHandler) GetPaymentStatus(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	key := e.Request.PathValue("key")

	attempt, err := h.reconciler.GetAttempt(e.Request.Context(), key)
	if errors.Is(err, status.ErrAttemptNotFound) {
		return apis.NewNotFoundError("Payment attempt not found", nil)
	}
	if err != nil {
		return apis.NewBadRequestError("Failed to get payment status", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"idempotency_key": attempt.IdempotencyKey,
		"booking_id":      attempt.BookingID,
		"state":           attempt.State,
		"resolved":        attempt.Resolved(),
		"deadline":        attempt.Deadline,
	})
}

// SimulatePayment - development shortcut that injects a provider result
// without going through M-Pesa. Registered outside production only.
func (h *PaymentHandler) SimulatePayment(e *core.RequestEvent) error {
	if h.cfg.Environment == "production" {
		return apis.NewNotFoundError("Not found", nil)
	}

	var req struct {
		IdempotencyKey string `json:"idempotency_key"`
		Success        bool   `json:"success"`
		ResultDesc     string `json:"result_desc"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	resultCode := 1
	receipt := ""
	if req.Success {
		resultCode = 0
		code, err := utils.GenerateCode(10)
		if err != nil {
			return apis.NewBadRequestError("Failed to simulate payment", err)
		}
		receipt = "SIM" + code
	}

	err := h.reconciler.OnProviderResult(e.Request.Context(), &status.ProviderResult{
		IdempotencyKey: req.IdempotencyKey,
		Success:        req.Success,
		ProviderRef:    receipt,
		ResultCode:     resultCode,
		ResultDesc:     req.ResultDesc,
		Amount:         decimal.Zero,
		ReceivedAt:     time.Now(),
	})
	if err != nil {
		return apis.NewBadRequestError("Failed to apply result", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"applied": true})
}
