package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketStatusReserved  TicketStatus = "RESERVED"
	TicketStatusIssued    TicketStatus = "ISSUED"
	TicketStatusCheckedIn TicketStatus = "CHECKED_IN"
	TicketStatusBoarded   TicketStatus = "BOARDED"
	TicketStatusCompleted TicketStatus = "COMPLETED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
	TicketStatusVoided    TicketStatus = "VOIDED"
	TicketStatusNoShow    TicketStatus = "NO_SHOW"
)

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusReserved:  {TicketStatusIssued, TicketStatusCancelled, TicketStatusVoided},
	TicketStatusIssued:    {TicketStatusCheckedIn, TicketStatusCancelled, TicketStatusVoided, TicketStatusNoShow},
	TicketStatusCheckedIn: {TicketStatusBoarded, TicketStatusNoShow},
	TicketStatusBoarded:   {TicketStatusCompleted},
}

func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TicketStatus) Terminal() bool {
	return len(ticketTransitions[s]) == 0
}

// Passenger is a snapshot taken at booking time; it is not linked to any
// profile record.
type Passenger struct {
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	DocumentNumber string     `json:"document_number"`
	DateOfBirth    *time.Time `json:"date_of_birth,omitempty"`
	// Cabin overrides the booking-level default when set.
	Cabin CabinClass `json:"cabin,omitempty"`
}

// Ticket is one passenger's seat on one flight. It refers to the flight by
// id only.
type Ticket struct {
	ID               string
	BookingReference string
	FlightID         int64
	Passenger        Passenger
	Cabin            CabinClass
	SeatNumber       string
	Price            decimal.Decimal
	Status           TicketStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
