package services

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tanker-booking/config"
	"tanker-booking/internal/services/payment"
	"tanker-booking/internal/status"
	"tanker-booking/models"
	"tanker-booking/monitoring"
	"tanker-booking/utils"
)

// attemptTransitionScript is a compare-and-set on the attempt state. The
// provider callback and the expiry sweep race for the same attempt; whichever
// transition runs this script first wins and the loser observes the terminal
// state. ARGV[1] and ARGV[2] are the two accepted from-states, ARGV[3] the
// target, ARGV[4] an optional provider ref, ARGV[5] the resolution time.
const attemptTransitionScript = `
local cur = redis.call('HGET', KEYS[1], 'state')
if cur == false then
	return {0, ''}
end
if cur ~= ARGV[1] and cur ~= ARGV[2] then
	return {0, cur}
end
redis.call('HSET', KEYS[1], 'state', ARGV[3], 'resolved_at', ARGV[5])
if ARGV[4] ~= '' then
	redis.call('HSET', KEYS[1], 'provider_ref', ARGV[4])
end
return {1, cur}
`

// BookingLedger is the slice of the reservation ledger the reconciler
// drives.
type BookingLedger interface {
	Confirm(ctx context.Context, bookingID string) (*models.Booking, error)
	Release(ctx context.Context, bookingID string, reason models.ReleaseReason) (*models.Booking, error)
}

// ReconcilerService owns payment attempts. It opens one attempt per booking,
// sends the STK push, and maps the provider's at-least-once result delivery
// onto exactly one booking transition.
type ReconcilerService struct {
	Redis    *redis.Client
	ledger   BookingLedger
	store    BookingStore
	provider payment.ProviderInterface
	notify   Notifier
	breaker  *utils.CircuitBreaker
	cfg      *config.Config
}

func NewReconcilerService(redisClient *redis.Client, ledger BookingLedger, store BookingStore, provider payment.ProviderInterface, notify Notifier, cfg *config.Config) *ReconcilerService {
	return &ReconcilerService{
		Redis:    redisClient,
		ledger:   ledger,
		store:    store,
		provider: provider,
		notify:   notify,
		breaker:  utils.NewCircuitBreaker("stk-push"),
		cfg:      cfg,
	}
}

func attemptKey(idempotencyKey string) string {
	return fmt.Sprintf("pay:attempt:%s", idempotencyKey)
}

func bookingAttemptKey(bookingID string) string {
	return fmt.Sprintf("pay:bybooking:%s", bookingID)
}

// attemptRetention keeps resolved attempts around long enough for the sweep
// and for duplicate callbacks to be recognized and discarded.
const attemptRetention = time.Hour

// OpenAttempt opens a payment attempt for a pending booking and sends the
// STK push. Exhausting the provider retries resolves the attempt as rejected
// and releases the booking, then reports status.ErrProviderUnavailable.
func (s *ReconcilerService) OpenAttempt(ctx context.Context, booking *models.Booking) (*models.PaymentAttempt, error) {
	key, err := utils.GenerateCode(8)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	attempt := &models.PaymentAttempt{
		IdempotencyKey: key,
		BookingID:      booking.ID,
		Phone:          booking.Phone,
		Amount:         booking.Amount,
		State:          models.AttemptOpened,
		OpenedAt:       now,
		Deadline:       now.Add(s.cfg.PaymentWindow),
	}

	if err := s.Redis.HSet(ctx, attemptKey(key), map[string]any{
		"booking_id": attempt.BookingID,
		"phone":      attempt.Phone,
		"amount":     attempt.Amount.String(),
		"state":      attempt.State,
		"opened_at":  attempt.OpenedAt.Unix(),
		"deadline":   attempt.Deadline.Unix(),
	}).Err(); err != nil {
		return nil, fmt.Errorf("reconciler: save attempt: %w", err)
	}
	retention := s.cfg.PaymentWindow + attemptRetention
	s.Redis.Expire(ctx, attemptKey(key), retention)
	s.Redis.Set(ctx, bookingAttemptKey(booking.ID), key, retention)

	resp, err := s.initiateWithRetry(ctx, &status.STKPushRequest{
		IdempotencyKey: key,
		BookingID:      booking.ID,
		Phone:          booking.Phone,
		Amount:         booking.Amount,
		Description:    fmt.Sprintf("Water tanker %s %s", booking.Date, booking.Slot),
	})
	if err != nil {
		// Retries exhausted: equivalent to a provider failure outcome.
		if _, _, cerr := s.cas(ctx, key, models.AttemptOpened, models.AttemptProviderAccepted, models.AttemptProviderRejected, ""); cerr != nil {
			slog.Error("resolve failed attempt", "idempotencyKey", key, "error", cerr)
		}
		s.store.UpdateBooking(ctx, booking.ID, map[string]any{"payment_status": models.PaymentFailed})
		if _, rerr := s.ledger.Release(ctx, booking.ID, models.ReleasePaymentFailed); rerr != nil {
			slog.Error("release after provider failure", "bookingId", booking.ID, "error", rerr)
		}
		monitoring.TrackPaymentOutcome("provider_unavailable")
		return nil, status.ErrProviderUnavailable
	}

	slog.Info("stk push accepted",
		"bookingId", booking.ID,
		"idempotencyKey", key,
		"checkoutRequestId", resp.CheckoutRequestID,
	)

	if err := s.OnProviderAccepted(ctx, key); err != nil {
		slog.Warn("mark provider accepted", "idempotencyKey", key, "error", err)
	}
	if err := s.store.UpdateBooking(ctx, booking.ID, map[string]any{"payment_status": models.PaymentAwaitingProvider}); err != nil {
		slog.Error("update payment status", "bookingId", booking.ID, "error", err)
	}

	attempt.State = models.AttemptProviderAccepted
	return attempt, nil
}

// initiateWithRetry sends the STK push with bounded exponential backoff
// behind the circuit breaker.
func (s *ReconcilerService) initiateWithRetry(ctx context.Context, req *status.STKPushRequest) (*status.STKPushResponse, error) {
	backOff := s.cfg.ProviderBackoff
	var lastErr error

	for i := 0; i < s.cfg.ProviderMaxRetries; i++ {
		res, err := s.breaker.Execute(ctx, func() (any, error) {
			return s.provider.InitiateSTKPush(ctx, req)
		})
		if err == nil {
			monitoring.TrackProviderRequest("success")
			return res.(*status.STKPushResponse), nil
		}

		lastErr = err
		monitoring.TrackProviderRequest("error")
		log.Printf("stk push attempt %d failed: %v", i+1, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backOff):
			backOff *= 2
		}
	}

	return nil, fmt.Errorf("reconciler: stk push retries exhausted: %w", lastErr)
}

// OnProviderAccepted records that the provider queued the request. Purely
// informational; the booking is untouched.
func (s *ReconcilerService) OnProviderAccepted(ctx context.Context, idempotencyKey string) error {
	// Losing the CAS means a result already landed; nothing to record.
	_, _, err := s.cas(ctx, idempotencyKey, models.AttemptOpened, models.AttemptOpened, models.AttemptProviderAccepted, "")
	return err
}

// OnProviderResult applies one provider outcome to the attempt and, through
// the ledger, to the booking. Duplicate deliveries and callbacks for unknown
// or already-terminal keys are acknowledged and discarded.
func (s *ReconcilerService) OnProviderResult(ctx context.Context, res *status.ProviderResult) error {
	fields, err := s.Redis.HGetAll(ctx, attemptKey(res.IdempotencyKey)).Result()
	if err != nil {
		return fmt.Errorf("reconciler: load attempt: %w", err)
	}
	if len(fields) == 0 {
		slog.Info("discarding callback for unknown attempt", "idempotencyKey", res.IdempotencyKey)
		return nil
	}

	target := models.AttemptProviderConfirmed
	if !res.Success {
		target = models.AttemptProviderRejected
	}

	won, prev, err := s.cas(ctx, res.IdempotencyKey,
		models.AttemptOpened, models.AttemptProviderAccepted, target, res.ProviderRef)
	if err != nil {
		return err
	}
	if !won {
		slog.Info("discarding duplicate provider result",
			"idempotencyKey", res.IdempotencyKey,
			"state", prev,
			"outcome", target,
		)
		return nil
	}

	bookingID := fields["booking_id"]

	if res.Success {
		if err := s.store.UpdateBooking(ctx, bookingID, map[string]any{
			"payment_status": models.PaymentPaid,
			"provider_ref":   res.ProviderRef,
		}); err != nil {
			slog.Error("update booking after payment", "bookingId", bookingID, "error", err)
		}

		booking, err := s.ledger.Confirm(ctx, bookingID)
		if err != nil {
			// Lost race against the sweep or a bug; logged, never retried.
			slog.Error("confirm after payment", "bookingId", bookingID, "error", err)
			return nil
		}

		monitoring.TrackPaymentOutcome("paid")
		s.notify.PaymentSuccess(booking.CustomerID, bookingID)
		return nil
	}

	if err := s.store.UpdateBooking(ctx, bookingID, map[string]any{"payment_status": models.PaymentFailed}); err != nil {
		slog.Error("update booking after payment failure", "bookingId", bookingID, "error", err)
	}

	booking, err := s.ledger.Release(ctx, bookingID, models.ReleasePaymentFailed)
	if err != nil {
		slog.Error("release after payment failure", "bookingId", bookingID, "error", err)
		return nil
	}

	monitoring.TrackPaymentOutcome("failed")
	s.notify.PaymentFailed(booking.CustomerID, bookingID, res.ResultDesc)
	return nil
}

// SweepExpired finds attempts past their deadline still waiting on the
// provider, times them out, and releases their bookings. Safe to run
// concurrently with OnProviderResult: the attempt CAS decides the winner.
func (s *ReconcilerService) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	started := time.Now()

	keys, err := s.Redis.Keys(ctx, "pay:attempt:*").Result()
	if err != nil {
		return nil, fmt.Errorf("reconciler: scan attempts: %w", err)
	}

	var expired []string
	for _, key := range keys {
		fields, err := s.Redis.HGetAll(ctx, key).Result()
		if err != nil || len(fields) == 0 {
			continue
		}

		state := fields["state"]
		if state != models.AttemptOpened && state != models.AttemptProviderAccepted {
			continue
		}

		deadline, err := strconv.ParseInt(fields["deadline"], 10, 64)
		if err != nil || now.Unix() < deadline {
			continue
		}

		idempotencyKey := key[len("pay:attempt:"):]
		won, prev, err := s.cas(ctx, idempotencyKey,
			models.AttemptOpened, models.AttemptProviderAccepted, models.AttemptTimedOut, "")
		if err != nil {
			slog.Error("sweep transition", "idempotencyKey", idempotencyKey, "error", err)
			continue
		}
		if !won {
			// A provider result landed between the scan and the CAS.
			slog.Info("sweep lost race", "idempotencyKey", idempotencyKey, "state", prev)
			continue
		}

		bookingID := fields["booking_id"]
		booking, err := s.ledger.Release(ctx, bookingID, models.ReleaseExpired)
		if err != nil {
			slog.Error("release expired booking", "bookingId", bookingID, "error", err)
			continue
		}

		monitoring.TrackPaymentOutcome("expired")
		s.notify.BookingExpired(booking.CustomerID, bookingID)
		expired = append(expired, bookingID)

		log.Printf("Expired booking %s: no provider result within %.0fs",
			bookingID, s.cfg.PaymentWindow.Seconds())
	}

	monitoring.TrackSweep(time.Since(started))
	return expired, nil
}

// StartSweeper runs SweepExpired on the configured interval until ctx is
// cancelled. The sweep must not depend on the client still being around, so
// it runs server-side on a ticker.
func (s *ReconcilerService) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	log.Println("Payment sweeper started")

	for {
		select {
		case <-ticker.C:
			if expired, err := s.SweepExpired(ctx, time.Now()); err != nil {
				slog.Error("sweep failed", "error", err)
			} else if len(expired) > 0 {
				log.Printf("Swept %d expired bookings", len(expired))
			}
		case <-ctx.Done():
			log.Println("Payment sweeper stopping")
			return
		}
	}
}

// GetAttempt loads an attempt by idempotency key.
func (s *ReconcilerService) GetAttempt(ctx context.Context, idempotencyKey string) (*models.PaymentAttempt, error) {
	fields, err := s.Redis.HGetAll(ctx, attemptKey(idempotencyKey)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, status.ErrAttemptNotFound
	}
	return attemptFromFields(idempotencyKey, fields), nil
}

// GetAttemptByBooking loads the active attempt for a booking, used by the
// payment page's status polling.
func (s *ReconcilerService) GetAttemptByBooking(ctx context.Context, bookingID string) (*models.PaymentAttempt, error) {
	key, err := s.Redis.Get(ctx, bookingAttemptKey(bookingID)).Result()
	if err == redis.Nil {
		return nil, status.ErrAttemptNotFound
	} else if err != nil {
		return nil, err
	}
	return s.GetAttempt(ctx, key)
}

func (s *ReconcilerService) cas(ctx context.Context, idempotencyKey, fromA, fromB, target, providerRef string) (bool, string, error) {
	res, err := s.Redis.Eval(ctx, attemptTransitionScript,
		[]string{attemptKey(idempotencyKey)},
		fromA, fromB, target, providerRef, time.Now().Unix(),
	).Result()
	if err != nil {
		return false, "", fmt.Errorf("reconciler: transition script: %w", err)
	}

	reply, ok := res.([]any)
	if !ok || len(reply) < 2 {
		return false, "", fmt.Errorf("reconciler: unexpected transition reply: %v", res)
	}

	won, _ := reply[0].(int64)
	prev, _ := reply[1].(string)
	return won == 1, prev, nil
}

func attemptFromFields(idempotencyKey string, fields map[string]string) *models.PaymentAttempt {
	amount, _ := decimal.NewFromString(fields["amount"])
	openedAt, _ := strconv.ParseInt(fields["opened_at"], 10, 64)
	deadline, _ := strconv.ParseInt(fields["deadline"], 10, 64)

	attempt := &models.PaymentAttempt{
		IdempotencyKey: idempotencyKey,
		BookingID:      fields["booking_id"],
		Phone:          fields["phone"],
		Amount:         amount,
		State:          fields["state"],
		ProviderRef:    fields["provider_ref"],
		OpenedAt:       time.Unix(openedAt, 0),
		Deadline:       time.Unix(deadline, 0),
	}

	if raw, ok := fields["resolved_at"]; ok && raw != "" {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			resolved := time.Unix(ts, 0)
			attempt.ResolvedAt = &resolved
		}
	}

	return attempt
}
