package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusExpired   BookingStatus = "EXPIRED"
)

// bookingTransitions is the booking state machine. CONFIRMED -> CANCELLED
// is the post-payment cancellation path; refunds happen separately.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled, BookingStatusExpired},
	BookingStatusConfirmed: {BookingStatusCancelled},
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further ordinary transition exists.
// CONFIRMED counts as terminal for the hold lifecycle even though it can
// still be cancelled after payment.
func (s BookingStatus) Terminal() bool {
	return s != BookingStatusPending
}

type ContactInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Booking struct {
	Reference      string
	UserID         string
	FlightID       int64
	Status         BookingStatus
	Contact        ContactInfo
	Tickets        []Ticket
	TotalAmount    decimal.Decimal
	IdempotencyKey string
	CancelReason   string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SeatCounts groups the booking's tickets by cabin class, in order of first
// appearance.
func (b *Booking) SeatCounts() []SeatCount {
	return GroupByCabin(b.Tickets, func(t Ticket) CabinClass { return t.Cabin })
}

func (b *Booking) Expired(now time.Time) bool {
	return b.Status == BookingStatusPending && !now.Before(b.ExpiresAt)
}

// GroupByCabin counts items per cabin class keeping first-seen order.
func GroupByCabin[T any](items []T, cabinOf func(T) CabinClass) []SeatCount {
	counts := make([]SeatCount, 0, len(CabinClasses))
	index := make(map[CabinClass]int, len(CabinClasses))
	for _, item := range items {
		c := cabinOf(item)
		i, ok := index[c]
		if !ok {
			i = len(counts)
			index[c] = i
			counts = append(counts, SeatCount{Class: c})
		}
		counts[i].Count++
	}
	return counts
}
