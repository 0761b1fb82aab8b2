package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeSlots is the fixed set of delivery windows offered per day.
var TimeSlots = []string{
	"8:00 AM",
	"10:00 AM",
	"12:00 PM",
	"2:00 PM",
	"4:00 PM",
	"6:00 PM",
}

// ValidSlot reports whether slot is one of the offered delivery windows.
func ValidSlot(slot string) bool {
	for _, s := range TimeSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// SlotTime resolves a date and slot label to the delivery start time in loc.
func SlotTime(date, slot string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 3:04 PM", date+" "+slot, loc)
}

const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
	BookingExpired   = "expired"
)

const (
	PaymentUnpaid           = "unpaid"
	PaymentAwaitingProvider = "awaiting_provider"
	PaymentPaid             = "paid"
	PaymentFailed           = "failed"
)

// ReleaseReason distinguishes the two pending -> terminal paths.
type ReleaseReason string

const (
	ReleaseCancelled     ReleaseReason = "cancelled"
	ReleasePaymentFailed ReleaseReason = "payment_failed"
	ReleaseExpired       ReleaseReason = "expired"
)

type Booking struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	Phone         string          `json:"phone"`
	Date          string          `json:"date"` // YYYY-MM-DD
	Slot          string          `json:"slot"`
	Status        string          `json:"status"`         // pending, confirmed, cancelled, expired
	PaymentStatus string          `json:"payment_status"` // unpaid, awaiting_provider, paid, failed
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Terminal reports whether the booking can no longer change status.
func (b *Booking) Terminal() bool {
	return b.Status == BookingConfirmed || b.Status == BookingCancelled || b.Status == BookingExpired
}

type Rating struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	UserID    string    `json:"user_id"`
	Stars     int       `json:"stars"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
