package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Domenick1991/airreserve/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

type Sender struct {
	logger *slog.Logger
}

func NewSender(logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{logger: logger}
}

// Message is what would be handed to a mail provider.
type Message struct {
	To      string
	Subject string
	Body    string
}

func Compose(event kafka.Event) (Message, bool) {
	if event.Email == "" {
		return Message{}, false
	}
	var subject, body string
	switch event.Type {
	case kafka.EventBookingCreated:
		subject = fmt.Sprintf("Booking %s is on hold", event.Reference)
		body = fmt.Sprintf("%d seat(s) on flight %d are held until %s. Total due: %s.",
			event.Seats, event.FlightID, event.ExpiresAt.Format("2006-01-02 15:04 MST"), event.Amount)
	case kafka.EventBookingConfirmed:
		subject = fmt.Sprintf("Booking %s confirmed", event.Reference)
		body = fmt.Sprintf("Your tickets for flight %d have been issued.", event.FlightID)
	case kafka.EventBookingCancelled:
		subject = fmt.Sprintf("Booking %s cancelled", event.Reference)
		body = fmt.Sprintf("Your booking was cancelled: %s.", event.Reason)
	case kafka.EventBookingExpired:
		subject = fmt.Sprintf("Booking %s expired", event.Reference)
		body = "The payment window closed and the seats were released."
	case kafka.EventPaymentFailed:
		subject = fmt.Sprintf("Payment for %s failed", event.Reference)
		body = fmt.Sprintf("The payment of %s was not completed. The booking stays on hold until %s.",
			event.Amount, event.ExpiresAt.Format("2006-01-02 15:04 MST"))
	case kafka.EventPaymentRefunded:
		subject = fmt.Sprintf("Refund for %s", event.Reference)
		body = fmt.Sprintf("%s has been refunded.", event.Amount)
	default:
		return Message{}, false
	}
	return Message{To: event.Email, Subject: subject, Body: body}, true
}

func (s *Sender) Send(ctx context.Context, event kafka.Event) error {
	msg, ok := Compose(event)
	if !ok {
		s.logger.DebugContext(ctx, "no email for event", "type", event.Type, "reference", event.Reference)
		return nil
	}
	s.logger.InfoContext(ctx, "send email", "to", msg.To, "subject", msg.Subject, "reference", event.Reference)
	return nil
}

// Handle decodes a Kafka message and sends the matching email. Malformed
// messages are logged and skipped so one bad record does not stall the
// consumer.
func (s *Sender) Handle(ctx context.Context, msg kafkago.Message) error {
	event, err := kafka.DecodeEvent(msg)
	if err != nil {
		s.logger.WarnContext(ctx, "skipping malformed event", "error", err)
		return nil
	}
	return s.Send(ctx, event)
}
