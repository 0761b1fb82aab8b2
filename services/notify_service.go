package services

import (
	"fmt"

	pubnub "github.com/pubnub/go"
)

// Notifier pushes payment outcomes to the customer's realtime channel. The
// booking UI listens on user-{id} so the payment page can stop polling the
// moment a result lands.
type Notifier interface {
	PaymentSuccess(userID, bookingID string)
	PaymentFailed(userID, bookingID, reason string)
	BookingExpired(userID, bookingID string)
}

type NotifyService struct {
	PubNub *pubnub.PubNub
}

func NewNotifyService(pn *pubnub.PubNub) *NotifyService {
	return &NotifyService{PubNub: pn}
}

func (s *NotifyService) publish(userID string, message map[string]any) {
	if s.PubNub == nil {
		return
	}

	channel := fmt.Sprintf("user-%s", userID)
	s.PubNub.Publish().
		Channel(channel).
		Message(message).
		Execute()
}

func (s *NotifyService) PaymentSuccess(userID, bookingID string) {
	s.publish(userID, map[string]any{
		"type":       "payment_success",
		"booking_id": bookingID,
	})
}

func (s *NotifyService) PaymentFailed(userID, bookingID, reason string) {
	s.publish(userID, map[string]any{
		"type":       "payment_failed",
		"booking_id": bookingID,
		"reason":     reason,
	})
}

func (s *NotifyService) BookingExpired(userID, bookingID string) {
	s.publish(userID, map[string]any{
		"type":       "booking_expired",
		"booking_id": bookingID,
	})
}
