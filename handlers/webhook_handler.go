package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"

	"tanker-booking/internal/services/payment"
	"tanker-booking/services"
)

// WebhookHandler terminates provider callbacks on the dedicated listener.
type WebhookHandler struct {
	reconciler *services.ReconcilerService
	providers  *payment.Registry
}

func NewWebhookHandler(reconciler *services.ReconcilerService, providers *payment.Registry) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, providers: providers}
}

// MpesaCallback handles the Daraja STK push result. The idempotency key
// travels in the ref query parameter because Daraja does not echo the
// account reference back.
func (h *WebhookHandler) MpesaCallback(c echo.Context) error {
	ref := c.QueryParam("ref")
	if ref == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing ref"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	provider, err := h.providers.Get(payment.ProviderDaraja)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "provider not configured"})
	}

	signature := c.Request().Header.Get("X-Callback-Signature")
	if !provider.VerifyCallback(body, signature) {
		slog.Warn("callback signature rejected", "ref", ref, "ip", c.RealIP())
		return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid signature"})
	}

	result, err := provider.ParseCallback(body, ref)
	if err != nil {
		slog.Error("callback parse failed", "ref", ref, "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed callback"})
	}

	// Duplicates and unknown refs come back nil; a non nil error means we
	// failed to apply the result and want Safaricom to retry delivery.
	if err := h.reconciler.OnProviderResult(c.Request().Context(), result); err != nil {
		slog.Error("apply provider result", "ref", ref, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to apply result"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}
