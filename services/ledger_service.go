package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tanker-booking/config"
	"tanker-booking/internal/status"
	"tanker-booking/models"
	"tanker-booking/monitoring"
	"tanker-booking/utils"
)

// claimSlotScript atomically claims a (date, slot) key. Racing callers all
// run this script serially inside Redis, so exactly one wins and the rest
// observe the existing hold. KEYS[1] is the slot hold, KEYS[2] the booking
// state key; both carry the hold TTL so a crashed process cannot strand a
// slot.
const claimSlotScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return {0, redis.call('HGET', KEYS[1], 'booking_id')}
end
redis.call('HSET', KEYS[1], 'booking_id', ARGV[1], 'customer_id', ARGV[2], 'status', 'pending', 'claimed_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('SET', KEYS[2], 'pending', 'PX', ARGV[4])
return {1, ARGV[1]}
`

// bookingTransitionScript is a compare-and-set on the booking state key.
// ARGV[1] expected current, ARGV[2] target, ARGV[3] 'confirm' or 'release'.
// Confirm persists both keys (the slot stays taken); release frees the slot
// for new claims. Returns {1, previous} on success, {0, current} on a lost
// race.
const bookingTransitionScript = `
local cur = redis.call('GET', KEYS[1])
if cur == false then cur = '' end
if cur ~= ARGV[1] then
	return {0, cur}
end
redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
if ARGV[3] == 'confirm' then
	redis.call('PERSIST', KEYS[1])
	redis.call('HSET', KEYS[2], 'status', ARGV[2])
	redis.call('PERSIST', KEYS[2])
else
	redis.call('DEL', KEYS[2])
end
return {1, cur}
`

// LedgerService owns the (date, slot) -> booking mapping and the booking
// status state machine. All mutations to a single slot or booking are
// ordered by the Redis scripts above.
type LedgerService struct {
	Redis *redis.Client
	store BookingStore
	cfg   *config.Config
}

func NewLedgerService(redisClient *redis.Client, store BookingStore, cfg *config.Config) *LedgerService {
	return &LedgerService{
		Redis: redisClient,
		store: store,
		cfg:   cfg,
	}
}

func slotKey(date, slot string) string {
	return fmt.Sprintf("slot:%s:%s", date, slot)
}

func stateKey(bookingID string) string {
	return fmt.Sprintf("booking:state:%s", bookingID)
}

// ClaimSlot atomically claims (date, slot) for the customer and creates the
// pending booking. Returns status.ErrSlotConflict when the slot is already
// held; the caller must pick a different slot, not retry.
func (s *LedgerService) ClaimSlot(ctx context.Context, customerID, customerName, phone, date, slot string, amount decimal.Decimal) (*models.Booking, error) {
	if !models.ValidSlot(slot) {
		return nil, fmt.Errorf("ledger: unknown time slot %q", slot)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("ledger: invalid date %q: %w", date, err)
	}

	bookingID, err := utils.NewRecordID()
	if err != nil {
		return nil, err
	}

	holdTTL := s.cfg.PaymentWindow + s.cfg.SlotHoldSlack
	now := time.Now()

	res, err := s.Redis.Eval(ctx, claimSlotScript,
		[]string{slotKey(date, slot), stateKey(bookingID)},
		bookingID, customerID, now.Unix(), holdTTL.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: claim script: %w", err)
	}

	reply, ok := res.([]any)
	if !ok || len(reply) < 1 {
		return nil, fmt.Errorf("ledger: unexpected claim reply: %v", res)
	}
	if won, _ := reply[0].(int64); won != 1 {
		monitoring.TrackClaim(date, "conflict")
		return nil, status.ErrSlotConflict
	}

	booking := &models.Booking{
		ID:            bookingID,
		CustomerID:    customerID,
		CustomerName:  customerName,
		Phone:         phone,
		Date:          date,
		Slot:          slot,
		Status:        models.BookingPending,
		PaymentStatus: models.PaymentUnpaid,
		Amount:        amount,
		CreatedAt:     now,
	}

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		// Roll the hold back so the slot is not stranded for the full TTL.
		s.Redis.Del(ctx, slotKey(date, slot), stateKey(bookingID))
		monitoring.TrackClaim(date, "error")
		return nil, fmt.Errorf("ledger: save booking: %w", err)
	}

	monitoring.TrackClaim(date, "success")
	return booking, nil
}

// Confirm transitions a pending booking to confirmed. Called by the payment
// reconciler on provider success. Confirming an already-confirmed booking is
// a no-op; any other current status is an invalid transition.
func (s *LedgerService) Confirm(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, status.ErrBookingNotFound
	}

	won, prev, err := s.transition(ctx, booking, models.BookingPending, models.BookingConfirmed, "confirm")
	if err != nil {
		return nil, err
	}
	if !won {
		if booking.Status == models.BookingConfirmed {
			return booking, nil
		}
		slog.Warn("confirm rejected", "bookingId", bookingID, "recordStatus", booking.Status, "stateKey", prev)
		return nil, status.ErrInvalidTransition
	}

	if err := s.store.UpdateBooking(ctx, bookingID, map[string]any{"status": models.BookingConfirmed}); err != nil {
		return nil, fmt.Errorf("ledger: update booking: %w", err)
	}
	booking.Status = models.BookingConfirmed
	return booking, nil
}

// Release transitions a pending booking to cancelled or expired and frees
// the slot for new claims. Releasing an already-terminal booking is a no-op.
func (s *LedgerService) Release(ctx context.Context, bookingID string, reason models.ReleaseReason) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, status.ErrBookingNotFound
	}

	target := models.BookingCancelled
	if reason == models.ReleaseExpired {
		target = models.BookingExpired
	}

	won, prev, err := s.transition(ctx, booking, models.BookingPending, target, "release")
	if err != nil {
		return nil, err
	}
	if !won {
		if booking.Terminal() {
			return booking, nil
		}
		slog.Warn("release rejected", "bookingId", bookingID, "reason", reason, "recordStatus", booking.Status, "stateKey", prev)
		return nil, status.ErrInvalidTransition
	}

	if err := s.store.UpdateBooking(ctx, bookingID, map[string]any{"status": target}); err != nil {
		return nil, fmt.Errorf("ledger: update booking: %w", err)
	}
	booking.Status = target
	monitoring.TrackRelease(string(reason))
	return booking, nil
}

func (s *LedgerService) transition(ctx context.Context, b *models.Booking, from, to, op string) (bool, string, error) {
	res, err := s.Redis.Eval(ctx, bookingTransitionScript,
		[]string{stateKey(b.ID), slotKey(b.Date, b.Slot)},
		from, to, op,
	).Result()
	if err != nil {
		return false, "", fmt.Errorf("ledger: transition script: %w", err)
	}

	reply, ok := res.([]any)
	if !ok || len(reply) < 2 {
		return false, "", fmt.Errorf("ledger: unexpected transition reply: %v", res)
	}

	won, _ := reply[0].(int64)
	prev, _ := reply[1].(string)
	return won == 1, prev, nil
}

// Availability returns a slot -> status map for one date. Slots with no hold
// are reported as available; held slots report pending or confirmed.
func (s *LedgerService) Availability(ctx context.Context, date string) (map[string]string, error) {
	availability := make(map[string]string, len(models.TimeSlots))

	for _, slot := range models.TimeSlots {
		st, err := s.Redis.HGet(ctx, slotKey(date, slot), "status").Result()

		if err == redis.Nil {
			availability[slot] = "available"
		} else if err != nil {
			return nil, err
		} else {
			availability[slot] = st
		}
	}

	return availability, nil
}
