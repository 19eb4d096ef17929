package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CabinClass string

const (
	CabinEconomy  CabinClass = "ECONOMY"
	CabinBusiness CabinClass = "BUSINESS"
	CabinFirst    CabinClass = "FIRST"
)

// CabinClasses lists the supported classes in their canonical order.
var CabinClasses = []CabinClass{CabinEconomy, CabinBusiness, CabinFirst}

func (c CabinClass) Valid() bool {
	switch c {
	case CabinEconomy, CabinBusiness, CabinFirst:
		return true
	}
	return false
}

// CabinInventory is the seat bucket of one cabin class on one flight.
// Available is only ever changed through reserve/release.
type CabinInventory struct {
	Class     CabinClass      `json:"class"`
	Capacity  int             `json:"capacity"`
	Available int             `json:"available"`
	Price     decimal.Decimal `json:"price"`
}

type Flight struct {
	ID            int64            `json:"id"`
	Number        string           `json:"number"`
	FromAirport   string           `json:"from_airport"`
	ToAirport     string           `json:"to_airport"`
	DepartureTime time.Time        `json:"departure_time"`
	ArrivalTime   time.Time        `json:"arrival_time"`
	Cabins        []CabinInventory `json:"cabins"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (f *Flight) Cabin(class CabinClass) (CabinInventory, bool) {
	for _, c := range f.Cabins {
		if c.Class == class {
			return c, true
		}
	}
	return CabinInventory{}, false
}

// TotalSeats sums capacity over all cabins.
func (f *Flight) TotalSeats() int {
	total := 0
	for _, c := range f.Cabins {
		total += c.Capacity
	}
	return total
}

func (f *Flight) AvailableSeats() int {
	total := 0
	for _, c := range f.Cabins {
		total += c.Available
	}
	return total
}

// SeatCount is a request for Count seats of one cabin class.
type SeatCount struct {
	Class CabinClass
	Count int
}
