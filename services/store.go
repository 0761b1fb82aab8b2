package services

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"tanker-booking/models"
)

// BookingStore is the durable record layer behind the ledger and the
// reconciler. Slot exclusivity lives in Redis; the store keeps the booking
// rows the dashboard and history screens read.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, id string, fields map[string]any) error
	ListBookingsByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Booking, error)
}

// PBStore implements BookingStore on the PocketBase bookings collection.
type PBStore struct {
	app core.App
}

func NewPBStore(app core.App) *PBStore {
	return &PBStore{app: app}
}

func (s *PBStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	collection, err := s.app.FindCollectionByNameOrId("bookings")
	if err != nil {
		return fmt.Errorf("store: find bookings collection: %w", err)
	}

	record := core.NewRecord(collection)
	record.Id = b.ID
	record.Set("customer_id", b.CustomerID)
	record.Set("customer_name", b.CustomerName)
	record.Set("phone", b.Phone)
	record.Set("date", b.Date)
	record.Set("slot", b.Slot)
	record.Set("status", b.Status)
	record.Set("payment_status", b.PaymentStatus)
	record.Set("amount", b.Amount.InexactFloat64())

	return s.app.SaveWithContext(ctx, record)
}

func (s *PBStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	record, err := s.app.FindRecordById("bookings", id)
	if err != nil {
		return nil, fmt.Errorf("store: booking %s: %w", id, err)
	}
	return bookingFromRecord(record), nil
}

func (s *PBStore) UpdateBooking(ctx context.Context, id string, fields map[string]any) error {
	record, err := s.app.FindRecordById("bookings", id)
	if err != nil {
		return fmt.Errorf("store: booking %s: %w", id, err)
	}
	for k, v := range fields {
		record.Set(k, v)
	}
	return s.app.SaveWithContext(ctx, record)
}

func (s *PBStore) ListBookingsByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Booking, error) {
	records, err := s.app.FindRecordsByFilter(
		"bookings",
		"customer_id = {:customerId}",
		"-created",
		limit,
		0,
		map[string]any{"customerId": customerID},
	)
	if err != nil {
		return nil, fmt.Errorf("store: list bookings: %w", err)
	}

	bookings := make([]*models.Booking, 0, len(records))
	for _, record := range records {
		bookings = append(bookings, bookingFromRecord(record))
	}
	return bookings, nil
}

func bookingFromRecord(r *core.Record) *models.Booking {
	return &models.Booking{
		ID:            r.Id,
		CustomerID:    r.GetString("customer_id"),
		CustomerName:  r.GetString("customer_name"),
		Phone:         r.GetString("phone"),
		Date:          r.GetString("date"),
		Slot:          r.GetString("slot"),
		Status:        r.GetString("status"),
		PaymentStatus: r.GetString("payment_status"),
		Amount:        decimal.NewFromFloat(r.GetFloat("amount")),
		CreatedAt:     r.GetDateTime("created").Time(),
	}
}
