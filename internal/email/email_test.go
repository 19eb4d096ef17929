package email

import (
	"context"
	"testing"
	"time"

	"github.com/Domenick1991/airreserve/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	tests := []struct {
		name    string
		event   kafka.Event
		ok      bool
		subject string
	}{
		{
			name:    "created",
			event:   kafka.Event{Type: kafka.EventBookingCreated, Reference: "ABC123", Email: "a@b.c", Seats: 2, ExpiresAt: time.Now()},
			ok:      true,
			subject: "Booking ABC123 is on hold",
		},
		{
			name:    "expired",
			event:   kafka.Event{Type: kafka.EventBookingExpired, Reference: "ABC123", Email: "a@b.c"},
			ok:      true,
			subject: "Booking ABC123 expired",
		},
		{
			name:  "no address",
			event: kafka.Event{Type: kafka.EventBookingConfirmed, Reference: "ABC123"},
		},
		{
			name:  "unknown type",
			event: kafka.Event{Type: "seat_map_changed", Email: "a@b.c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Compose(tt.event)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.subject, msg.Subject)
				assert.Equal(t, tt.event.Email, msg.To)
			}
		})
	}
}

func TestSender_HandleSkipsMalformed(t *testing.T) {
	s := NewSender(nil)
	assert.NoError(t, s.Handle(context.Background(), kafkago.Message{Value: []byte("not json")}))
	assert.NoError(t, s.Handle(context.Background(), kafkago.Message{Value: []byte(`{"type":"booking_confirmed","email":"a@b.c"}`)}))
}
