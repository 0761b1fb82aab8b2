package status

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrSlotConflict is returned when a (date, slot) pair is already held
	// by a pending or confirmed booking.
	ErrSlotConflict = errors.New("ledger: slot already booked")

	// ErrInvalidTransition is returned when a status change violates the
	// booking or attempt state machine. It indicates a bug or a lost race
	// and is logged, never shown to end users.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")

	ErrBookingNotFound = errors.New("ledger: booking not found")
	ErrAttemptNotFound = errors.New("reconciler: payment attempt not found")

	// ErrProviderUnavailable is returned after the outbound payment request
	// exhausted its retries.
	ErrProviderUnavailable = errors.New("payment: provider unavailable")

	ErrInvalidSignature = errors.New("payment: callback signature mismatch")
	ErrAlreadyRated     = errors.New("rating: booking already rated")
)

// ProviderResult is a payment outcome reported by the mobile-money provider,
// either through the HTTPS callback or the sandbox feed.
type ProviderResult struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Success        bool            `json:"success"`
	ProviderRef    string          `json:"provider_ref"`
	ResultCode     int             `json:"result_code"`
	ResultDesc     string          `json:"result_desc"`
	Amount         decimal.Decimal `json:"amount"`
	Phone          string          `json:"phone"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// STKPushRequest is the outbound payment-initiation request.
type STKPushRequest struct {
	IdempotencyKey string
	BookingID      string
	Phone          string
	Amount         decimal.Decimal
	Description    string
}

// STKPushResponse is the provider's synchronous acknowledgement.
type STKPushResponse struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	CustomerMessage   string
}
