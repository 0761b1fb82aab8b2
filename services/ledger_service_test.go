package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tanker-booking/config"
	"tanker-booking/internal/status"
	"tanker-booking/models"
)

// Mock BookingStore for ledger tests
type MockBookingStore struct {
	mock.Mock
}

func (m *MockBookingStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockBookingStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingStore) UpdateBooking(ctx context.Context, id string, fields map[string]any) error {
	args := m.Called(ctx, id, fields)
	return args.Error(0)
}

func (m *MockBookingStore) ListBookingsByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Booking, error) {
	args := m.Called(ctx, customerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{
		PaymentWindow:      2 * time.Minute,
		SlotHoldSlack:      time.Minute,
		SweepInterval:      30 * time.Second,
		ProviderMaxRetries: 2,
		ProviderBackoff:    time.Millisecond,
	}
}

// matchAnyArgs skips argument comparison for expectations whose arguments
// carry generated ids or timestamps.
func matchAnyArgs(expected, actual []interface{}) error {
	return nil
}

func setupTestLedgerService() (*LedgerService, redismock.ClientMock, *MockBookingStore) {
	db, redisMock := redismock.NewClientMock()
	store := &MockBookingStore{}

	service := &LedgerService{
		Redis: db,
		store: store,
		cfg:   testConfig(),
	}

	return service, redisMock, store
}

func TestClaimSlot_Success(t *testing.T) {
	service, redisMock, store := setupTestLedgerService()
	defer redisMock.ClearExpect()

	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(claimSlotScript, []string{"slot:2026-09-10:8:00 AM", ""}).
		SetVal([]interface{}{int64(1), "newbooking12345"})

	store.On("CreateBooking", mock.Anything, mock.AnythingOfType("*models.Booking")).Return(nil)

	booking, err := service.ClaimSlot(context.Background(),
		"user-1", "Jane", "254712345678", "2026-09-10", "8:00 AM", decimal.NewFromInt(3000))

	require.NoError(t, err)
	assert.Equal(t, "user-1", booking.CustomerID)
	assert.Equal(t, models.BookingPending, booking.Status)
	assert.Equal(t, models.PaymentUnpaid, booking.PaymentStatus)
	assert.Len(t, booking.ID, 15)
	store.AssertExpectations(t)
}

func TestClaimSlot_Conflict(t *testing.T) {
	service, redisMock, store := setupTestLedgerService()
	defer redisMock.ClearExpect()

	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(claimSlotScript, []string{"slot:2026-09-10:8:00 AM", ""}).
		SetVal([]interface{}{int64(0), "existingbooking"})

	_, err := service.ClaimSlot(context.Background(),
		"user-2", "John", "254712345678", "2026-09-10", "8:00 AM", decimal.NewFromInt(3000))

	assert.ErrorIs(t, err, status.ErrSlotConflict)
	store.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestClaimSlot_StoreFailureReleasesHold(t *testing.T) {
	service, redisMock, store := setupTestLedgerService()
	defer redisMock.ClearExpect()

	redisMock.CustomMatch(matchAnyArgs).
		ExpectEval(claimSlotScript, []string{"slot:2026-09-10:8:00 AM", ""}).
		SetVal([]interface{}{int64(1), "newbooking12345"})
	redisMock.CustomMatch(matchAnyArgs).
		ExpectDel("slot:2026-09-10:8:00 AM", "").
		SetVal(2)

	store.On("CreateBooking", mock.Anything, mock.Anything).Return(assert.AnError)

	_, err := service.ClaimSlot(context.Background(),
		"user-1", "Jane", "254712345678", "2026-09-10", "8:00 AM", decimal.NewFromInt(3000))

	assert.Error(t, err)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestClaimSlot_RejectsInvalidInput(t *testing.T) {
	service, redisMock, _ := setupTestLedgerService()
	defer redisMock.ClearExpect()

	_, err := service.ClaimSlot(context.Background(),
		"user-1", "Jane", "254712345678", "2026-09-10", "9:30 PM", decimal.NewFromInt(3000))
	assert.Error(t, err)

	_, err = service.ClaimSlot(context.Background(),
		"user-1", "Jane", "254712345678", "10-09-2026", "8:00 AM", decimal.NewFromInt(3000))
	assert.Error(t, err)
}

func TestConfirm_Success(t *testing.T) {
	service, redisMock, store := setupTestLedgerService()
	defer redisMock.ClearExpect()

	pending := &models.Booking{
		ID:     "bk1",
		Date:   "2026-09-10",
		Slot:   "8:00 AM",
		Status: models.BookingPending,
	}
	store.On("GetBooking", mock.Anything, "bk1").Return(pending, nil)
	store.On("UpdateBooking", mock.Anything, "bk1", map[string]any{"status": models.BookingConfirmed}).Return(nil)

	redisMock.ExpectEval(bookingTransitionScript,
		[]string{"booking:state:bk1", "slot:2026-09-10:8:00 AM"},
		models.BookingPending, models.BookingConfirmed, "confirm",
	).SetVal([]interface{}{int64(1), "pending"})

	booking, err := service.Confirm(context.Background(), "bk1")

	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, booking.Status)
	store.AssertExpectations(t)
}

func TestConfirm_AlreadyConfirmedIsNoOp(t *testing.T) {
	service, redisMock, store := setupTestLedgerService()
	defer redisMock.ClearExpect()

	confirmed := &models.Booking{
		ID:     "bk1",
		Date:   "2026-09-10",
		Slot:   "8:00 AM",
		Status: models.BookingConfirmed,
	}
	store.On("GetBooking", mock.Anything, "bk1").Return(confirmed, nil)

	redisMock.ExpectEval(bookingTransitionScript,
		[]string{"booking:state:bk1", "slot:2026-09-10:8:00 AM"},
		models.BookingPending, models.BookingConfirmed, "confirm",
	).SetVal([]interface{}{int64(0), "confirmed"})

	booking, err := service.Confirm(context.Background(), "bk1")

	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, booking.Status)
	store.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirm_RejectsCancelledBooking(t *testing.T) {
	service, redisMock, store := setupTestLedgerService()
	defer redisMock.ClearExpect()

	cancelled := &models.Booking{
		ID:     "bk1",
		Date:   "2026-09-10",
		Slot:   "8:00 AM",
		Status: models.BookingCancelled,
	}
	store.On("GetBooking", mock.Anything, "bk1").Return(cancelled, nil)

	redisMock.ExpectEval(bookingTransitionScript,
		[]string{"booking:state:bk1", "slot:2026-09-10:8:00 AM"},
		models.BookingPending, models.BookingConfirmed, "confirm",
	).SetVal([]interface{}{int64(0), "cancelled"})

	_, err := service.Confirm(context.Background(), "bk1")

	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestRelease_Expired(t *testing.T) {
	service, redisMock, store := setupTestLedgerService()
	defer redisMock.ClearExpect()

	pending := &models.Booking{
		ID:     "bk1",
		Date:   "2026-09-10",
		Slot:   "8:00 AM",
		Status: models.BookingPending,
	}
	store.On("GetBooking", mock.Anything, "bk1").Return(pending, nil)
	store.On("UpdateBooking", mock.Anything, "bk1", map[string]any{"status": models.BookingExpired}).Return(nil)

	redisMock.ExpectEval(bookingTransitionScript,
		[]string{"booking:state:bk1", "slot:2026-09-10:8:00 AM"},
		models.BookingPending, models.BookingExpired, "release",
	).SetVal([]interface{}{int64(1), "pending"})

	booking, err := service.Release(context.Background(), "bk1", models.ReleaseExpired)

	require.NoError(t, err)
	assert.Equal(t, models.BookingExpired, booking.Status)
	store.AssertExpectations(t)
}

func TestRelease_TerminalBookingIsNoOp(t *testing.T) {
	service, redisMock, store := setupTestLedgerService()
	defer redisMock.ClearExpect()

	cancelled := &models.Booking{
		ID:     "bk1",
		Date:   "2026-09-10",
		Slot:   "8:00 AM",
		Status: models.BookingCancelled,
	}
	store.On("GetBooking", mock.Anything, "bk1").Return(cancelled, nil)

	redisMock.ExpectEval(bookingTransitionScript,
		[]string{"booking:state:bk1", "slot:2026-09-10:8:00 AM"},
		models.BookingPending, models.BookingCancelled, "release",
	).SetVal([]interface{}{int64(0), "cancelled"})

	booking, err := service.Release(context.Background(), "bk1", models.ReleaseCancelled)

	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, booking.Status)
	store.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelease_BookingNotFound(t *testing.T) {
	service, redisMock, store := setupTestLedgerService()
	defer redisMock.ClearExpect()

	store.On("GetBooking", mock.Anything, "missing").Return(nil, assert.AnError)

	_, err := service.Release(context.Background(), "missing", models.ReleaseCancelled)

	assert.ErrorIs(t, err, status.ErrBookingNotFound)
}

func TestAvailability(t *testing.T) {
	service, redisMock, _ := setupTestLedgerService()
	defer redisMock.ClearExpect()

	redisMock.ExpectHGet("slot:2026-09-10:8:00 AM", "status").SetVal("pending")
	redisMock.ExpectHGet("slot:2026-09-10:10:00 AM", "status").SetVal("confirmed")
	redisMock.ExpectHGet("slot:2026-09-10:12:00 PM", "status").RedisNil()
	redisMock.ExpectHGet("slot:2026-09-10:2:00 PM", "status").RedisNil()
	redisMock.ExpectHGet("slot:2026-09-10:4:00 PM", "status").RedisNil()
	redisMock.ExpectHGet("slot:2026-09-10:6:00 PM", "status").RedisNil()

	availability, err := service.Availability(context.Background(), "2026-09-10")

	require.NoError(t, err)
	assert.Equal(t, "pending", availability["8:00 AM"])
	assert.Equal(t, "confirmed", availability["10:00 AM"])
	assert.Equal(t, "available", availability["12:00 PM"])
	assert.Equal(t, "available", availability["6:00 PM"])
}
