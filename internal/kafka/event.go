package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/segmentio/kafka-go"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingExpired   = "booking_expired"
	EventPaymentFailed    = "payment_failed"
	EventPaymentRefunded  = "payment_refunded"
)

// Event is the payload published for every booking and payment lifecycle
// change. It never carries card data.
type Event struct {
	Type       string    `json:"type"`
	Reference  string    `json:"reference"`
	UserID     string    `json:"user_id"`
	FlightID   int64     `json:"flight_id"`
	Email      string    `json:"email"`
	Status     string    `json:"status"`
	Seats      int       `json:"seats,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	PaymentID  string    `json:"payment_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	OccurredAt time.Time `json:"occurred_at"`
}

func BookingEvent(eventType string, b *domain.Booking, at time.Time) Event {
	return Event{
		Type:       eventType,
		Reference:  b.Reference,
		UserID:     b.UserID,
		FlightID:   b.FlightID,
		Email:      b.Contact.Email,
		Status:     string(b.Status),
		Seats:      len(b.Tickets),
		Amount:     b.TotalAmount.StringFixed(2),
		Reason:     b.CancelReason,
		ExpiresAt:  b.ExpiresAt,
		OccurredAt: at,
	}
}

func PaymentEvent(eventType string, p *domain.Payment, b *domain.Booking, at time.Time) Event {
	e := BookingEvent(eventType, b, at)
	e.Status = string(p.Status)
	e.Amount = p.Amount.StringFixed(2)
	e.PaymentID = p.ID
	e.Reason = p.FailureReason
	return e
}

func DecodeEvent(msg kafka.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		return Event{}, fmt.Errorf("decode event at offset %d: %w", msg.Offset, err)
	}
	return e, nil
}
