package services

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tanker-booking/internal/services/payment"
	"tanker-booking/internal/status"
	"tanker-booking/models"
	"tanker-booking/utils"
)

// Mock BookingLedger for reconciler tests
type MockBookingLedger struct {
	mock.Mock
}

func (m *MockBookingLedger) Confirm(ctx context.Context, bookingID string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingLedger) Release(ctx context.Context, bookingID string, reason models.ReleaseReason) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

// Mock Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PaymentSuccess(userID, bookingID string) {
	m.Called(userID, bookingID)
}

func (m *MockNotifier) PaymentFailed(userID, bookingID, reason string) {
	m.Called(userID, bookingID, reason)
}

func (m *MockNotifier) BookingExpired(userID, bookingID string) {
	m.Called(userID, bookingID)
}

// Mock payment provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetProvider() payment.Provider {
	return payment.ProviderDaraja
}

func (m *MockProvider) InitiateSTKPush(ctx context.Context, req *status.STKPushRequest) (*status.STKPushResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*status.STKPushResponse), args.Error(1)
}

func (m *MockProvider) VerifyCallback(body []byte, signature string) bool {
	args := m.Called(body, signature)
	return args.Bool(0)
}

func (m *MockProvider) ParseCallback(body []byte, ref string) (*status.ProviderResult, error) {
	args := m.Called(body, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*status.ProviderResult), args.Error(1)
}

func (m *MockProvider) SetResultChannel(ch chan *status.ProviderResult) {
	m.Called(ch)
}

func (m *MockProvider) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func setupTestReconciler() (*ReconcilerService, redismock.ClientMock, *MockBookingLedger, *MockBookingStore, *MockNotifier, *MockProvider) {
	db, redisMock := redismock.NewClientMock()
	ledger := &MockBookingLedger{}
	store := &MockBookingStore{}
	notify := &MockNotifier{}
	provider := &MockProvider{}

	service := &ReconcilerService{
		Redis:    db,
		ledger:   ledger,
		store:    store,
		provider: provider,
		notify:   notify,
		breaker:  utils.NewCircuitBreaker("stk-push-test"),
		cfg:      testConfig(),
	}

	return service, redisMock, ledger, store, notify, provider
}

func attemptFields(state string, deadline time.Time) map[string]string {
	return map[string]string{
		"booking_id": "bk1",
		"phone":      "254712345678",
		"amount":     "3000",
		"state":      state,
		"opened_at":  strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10),
		"deadline":   strconv.FormatInt(deadline.Unix(), 10),
	}
}

func TestOnProviderResult_Success(t *testing.T) {
	service, redisMock, ledger, store, notify, _ := setupTestReconciler()
	defer redisMock.ClearExpect()

	redisMock.ExpectHGetAll("pay:attempt:ABC12345").
		SetVal(attemptFields(models.AttemptProviderAccepted, time.Now().Add(time.Minute)))
	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(attemptTransitionScript, []string{"pay:attempt:ABC12345"}).
		SetVal([]interface{}{int64(1), models.AttemptProviderAccepted})

	store.On("UpdateBooking", mock.Anything, "bk1", map[string]any{
		"payment_status": models.PaymentPaid,
		"provider_ref":   "QGR7TBW4XK",
	}).Return(nil)
	ledger.On("Confirm", mock.Anything, "bk1").
		Return(&models.Booking{ID: "bk1", CustomerID: "user-1", Status: models.BookingConfirmed}, nil)
	notify.On("PaymentSuccess", "user-1", "bk1").Return()

	err := service.OnProviderResult(context.Background(), &status.ProviderResult{
		IdempotencyKey: "ABC12345",
		Success:        true,
		ProviderRef:    "QGR7TBW4XK",
		Amount:         decimal.NewFromInt(3000),
		ReceivedAt:     time.Now(),
	})

	require.NoError(t, err)
	ledger.AssertExpectations(t)
	store.AssertExpectations(t)
	notify.AssertExpectations(t)
}

func TestOnProviderResult_Failure(t *testing.T) {
	service, redisMock, ledger, store, notify, _ := setupTestReconciler()
	defer redisMock.ClearExpect()

	redisMock.ExpectHGetAll("pay:attempt:ABC12345").
		SetVal(attemptFields(models.AttemptProviderAccepted, time.Now().Add(time.Minute)))
	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(attemptTransitionScript, []string{"pay:attempt:ABC12345"}).
		SetVal([]interface{}{int64(1), models.AttemptProviderAccepted})

	store.On("UpdateBooking", mock.Anything, "bk1", map[string]any{
		"payment_status": models.PaymentFailed,
	}).Return(nil)
	ledger.On("Release", mock.Anything, "bk1", models.ReleasePaymentFailed).
		Return(&models.Booking{ID: "bk1", CustomerID: "user-1", Status: models.BookingCancelled}, nil)
	notify.On("PaymentFailed", "user-1", "bk1", "Request cancelled by user").Return()

	err := service.OnProviderResult(context.Background(), &status.ProviderResult{
		IdempotencyKey: "ABC12345",
		Success:        false,
		ResultCode:     1032,
		ResultDesc:     "Request cancelled by user",
		ReceivedAt:     time.Now(),
	})

	require.NoError(t, err)
	ledger.AssertExpectations(t)
	notify.AssertExpectations(t)
}

func TestOnProviderResult_UnknownAttemptDiscarded(t *testing.T) {
	service, redisMock, ledger, _, notify, _ := setupTestReconciler()
	defer redisMock.ClearExpect()

	redisMock.ExpectHGetAll("pay:attempt:NOPE").SetVal(map[string]string{})

	err := service.OnProviderResult(context.Background(), &status.ProviderResult{
		IdempotencyKey: "NOPE",
		Success:        true,
	})

	require.NoError(t, err)
	ledger.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything)
	notify.AssertNotCalled(t, "PaymentSuccess", mock.Anything, mock.Anything)
}

func TestOnProviderResult_DuplicateDiscarded(t *testing.T) {
	service, redisMock, ledger, store, notify, _ := setupTestReconciler()
	defer redisMock.ClearExpect()

	redisMock.ExpectHGetAll("pay:attempt:ABC12345").
		SetVal(attemptFields(models.AttemptProviderConfirmed, time.Now().Add(time.Minute)))
	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(attemptTransitionScript, []string{"pay:attempt:ABC12345"}).
		SetVal([]interface{}{int64(0), models.AttemptProviderConfirmed})

	err := service.OnProviderResult(context.Background(), &status.ProviderResult{
		IdempotencyKey: "ABC12345",
		Success:        true,
		ProviderRef:    "QGR7TBW4XK",
	})

	require.NoError(t, err)
	ledger.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything, mock.Anything)
	notify.AssertNotCalled(t, "PaymentSuccess", mock.Anything, mock.Anything)
}

func TestSweepExpired_TimesOutOverdueAttempt(t *testing.T) {
	service, redisMock, ledger, _, notify, _ := setupTestReconciler()
	defer redisMock.ClearExpect()

	now := time.Now()

	redisMock.ExpectKeys("pay:attempt:*").SetVal([]string{"pay:attempt:ABC12345"})
	redisMock.ExpectHGetAll("pay:attempt:ABC12345").
		SetVal(attemptFields(models.AttemptProviderAccepted, now.Add(-time.Second)))
	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(attemptTransitionScript, []string{"pay:attempt:ABC12345"}).
		SetVal([]interface{}{int64(1), models.AttemptProviderAccepted})

	ledger.On("Release", mock.Anything, "bk1", models.ReleaseExpired).
		Return(&models.Booking{ID: "bk1", CustomerID: "user-1", Status: models.BookingExpired}, nil)
	notify.On("BookingExpired", "user-1", "bk1").Return()

	expired, err := service.SweepExpired(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, []string{"bk1"}, expired)
	ledger.AssertExpectations(t)
	notify.AssertExpectations(t)
}

func TestSweepExpired_SkipsAttemptStillInsideWindow(t *testing.T) {
	service, redisMock, ledger, _, _, _ := setupTestReconciler()
	defer redisMock.ClearExpect()

	now := time.Now()

	redisMock.ExpectKeys("pay:attempt:*").SetVal([]string{"pay:attempt:ABC12345"})
	redisMock.ExpectHGetAll("pay:attempt:ABC12345").
		SetVal(attemptFields(models.AttemptProviderAccepted, now.Add(time.Minute)))

	expired, err := service.SweepExpired(context.Background(), now)

	require.NoError(t, err)
	assert.Empty(t, expired)
	ledger.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepExpired_LosesRaceToCallback(t *testing.T) {
	service, redisMock, ledger, _, _, _ := setupTestReconciler()
	defer redisMock.ClearExpect()

	now := time.Now()

	redisMock.ExpectKeys("pay:attempt:*").SetVal([]string{"pay:attempt:ABC12345"})
	redisMock.ExpectHGetAll("pay:attempt:ABC12345").
		SetVal(attemptFields(models.AttemptProviderAccepted, now.Add(-time.Second)))
	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(attemptTransitionScript, []string{"pay:attempt:ABC12345"}).
		SetVal([]interface{}{int64(0), models.AttemptProviderConfirmed})

	expired, err := service.SweepExpired(context.Background(), now)

	require.NoError(t, err)
	assert.Empty(t, expired)
	ledger.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepExpired_IgnoresResolvedAttempts(t *testing.T) {
	service, redisMock, ledger, _, _, _ := setupTestReconciler()
	defer redisMock.ClearExpect()

	now := time.Now()

	redisMock.ExpectKeys("pay:attempt:*").SetVal([]string{"pay:attempt:DONE1234"})
	redisMock.ExpectHGetAll("pay:attempt:DONE1234").
		SetVal(attemptFields(models.AttemptTimedOut, now.Add(-time.Hour)))

	expired, err := service.SweepExpired(context.Background(), now)

	require.NoError(t, err)
	assert.Empty(t, expired)
	ledger.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestOpenAttempt_ProviderExhaustionReleasesBooking(t *testing.T) {
	service, redisMock, ledger, store, _, provider := setupTestReconciler()
	defer redisMock.ClearExpect()

	redisMock.CustomMatch(matchAnyArgs).
		ExpectHSet("pay:attempt:", "state", models.AttemptOpened).SetVal(6)
	redisMock.CustomMatch(matchAnyArgs).
		ExpectExpire("pay:attempt:", 0).SetVal(true)
	redisMock.CustomMatch(matchAnyArgs).
		ExpectSet("pay:bybooking:bk1", "", 0).SetVal("OK")
	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(attemptTransitionScript, []string{"pay:attempt:"}).
		SetVal([]interface{}{int64(1), models.AttemptOpened})

	provider.On("InitiateSTKPush", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)
	store.On("UpdateBooking", mock.Anything, "bk1", map[string]any{
		"payment_status": models.PaymentFailed,
	}).Return(nil)
	ledger.On("Release", mock.Anything, "bk1", models.ReleasePaymentFailed).
		Return(&models.Booking{ID: "bk1", Status: models.BookingCancelled}, nil)

	booking := &models.Booking{
		ID:         "bk1",
		CustomerID: "user-1",
		Phone:      "254712345678",
		Date:       "2026-09-10",
		Slot:       "8:00 AM",
		Status:     models.BookingPending,
		Amount:     decimal.NewFromInt(3000),
	}

	_, err := service.OpenAttempt(context.Background(), booking)

	assert.ErrorIs(t, err, status.ErrProviderUnavailable)
	provider.AssertNumberOfCalls(t, "InitiateSTKPush", service.cfg.ProviderMaxRetries)
	ledger.AssertExpectations(t)
}

func TestOpenAttempt_Success(t *testing.T) {
	service, redisMock, _, store, _, provider := setupTestReconciler()
	defer redisMock.ClearExpect()

	redisMock.CustomMatch(matchAnyArgs).
		ExpectHSet("pay:attempt:", "state", models.AttemptOpened).SetVal(6)
	redisMock.CustomMatch(matchAnyArgs).
		ExpectExpire("pay:attempt:", 0).SetVal(true)
	redisMock.CustomMatch(matchAnyArgs).
		ExpectSet("pay:bybooking:bk1", "", 0).SetVal("OK")
	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(attemptTransitionScript, []string{"pay:attempt:"}).
		SetVal([]interface{}{int64(1), models.AttemptOpened})

	provider.On("InitiateSTKPush", mock.Anything, mock.Anything).
		Return(&status.STKPushResponse{
			MerchantRequestID: "29115-34620561-1",
			CheckoutRequestID: "ws_CO_191220191020363925",
			ResponseCode:      "0",
			CustomerMessage:   "Success. Request accepted for processing",
		}, nil)
	store.On("UpdateBooking", mock.Anything, "bk1", map[string]any{
		"payment_status": models.PaymentAwaitingProvider,
	}).Return(nil)

	booking := &models.Booking{
		ID:         "bk1",
		CustomerID: "user-1",
		Phone:      "254712345678",
		Date:       "2026-09-10",
		Slot:       "8:00 AM",
		Status:     models.BookingPending,
		Amount:     decimal.NewFromInt(3000),
	}

	attempt, err := service.OpenAttempt(context.Background(), booking)

	require.NoError(t, err)
	assert.Equal(t, models.AttemptProviderAccepted, attempt.State)
	assert.Equal(t, "bk1", attempt.BookingID)
	assert.Len(t, attempt.IdempotencyKey, 16)
	store.AssertExpectations(t)
}
