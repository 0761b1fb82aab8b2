package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AttemptOpened            = "opened"
	AttemptProviderAccepted  = "provider_accepted"
	AttemptProviderConfirmed = "provider_confirmed"
	AttemptProviderRejected  = "provider_rejected"
	AttemptTimedOut          = "timed_out"
)

// PaymentAttempt tracks a single payment initiation against a booking. The
// idempotency key is generated when the attempt opens and tags both the
// outbound STK push and the inbound provider callback.
type PaymentAttempt struct {
	IdempotencyKey string          `json:"idempotency_key"`
	BookingID      string          `json:"booking_id"`
	Phone          string          `json:"phone"`
	Amount         decimal.Decimal `json:"amount"`
	State          string          `json:"state"`
	ProviderRef    string          `json:"provider_ref,omitempty"`
	OpenedAt       time.Time       `json:"opened_at"`
	Deadline       time.Time       `json:"deadline"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// Resolved reports whether the attempt reached a terminal state.
func (a *PaymentAttempt) Resolved() bool {
	switch a.State {
	case AttemptProviderConfirmed, AttemptProviderRejected, AttemptTimedOut:
		return true
	}
	return false
}
