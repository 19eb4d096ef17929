package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindFlightNotFound      ErrorKind = "FLIGHT_NOT_FOUND"
	KindInvalidState        ErrorKind = "INVALID_STATE"
	KindInsufficientSeats   ErrorKind = "INSUFFICIENT_SEATS"
	KindAmountMismatch      ErrorKind = "AMOUNT_MISMATCH"
	KindBookingExpired      ErrorKind = "BOOKING_EXPIRED"
	KindTransientContention ErrorKind = "TRANSIENT_CONTENTION"
	KindValidation          ErrorKind = "VALIDATION"
)

// Error is the single error type returned by the reservation core. Kind
// selects the failure mode; the remaining fields carry whatever context
// applies to it.
type Error struct {
	Kind      ErrorKind
	Message   string
	FlightID  int64
	Cabin     CabinClass
	Requested int
	Available int
	Reference string
	Status    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	switch e.Kind {
	case KindInsufficientSeats:
		fmt.Fprintf(&b, " (flight %d, cabin %s, requested %d, available %d)", e.FlightID, e.Cabin, e.Requested, e.Available)
	case KindInvalidState, KindBookingExpired:
		if e.Status != "" {
			fmt.Fprintf(&b, " (status %s)", e.Status)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrNotFound) works for any
// NotFound error regardless of its context fields. FlightNotFound also
// matches ErrNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindNotFound && e.Kind == KindFlightNotFound
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrFlightNotFound      = &Error{Kind: KindFlightNotFound}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrInsufficientSeats   = &Error{Kind: KindInsufficientSeats}
	ErrAmountMismatch      = &Error{Kind: KindAmountMismatch}
	ErrBookingExpired      = &Error{Kind: KindBookingExpired}
	ErrTransientContention = &Error{Kind: KindTransientContention}
	ErrValidation          = &Error{Kind: KindValidation}
)

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func FlightNotFound(flightID int64) *Error {
	return &Error{Kind: KindFlightNotFound, Message: fmt.Sprintf("flight %d", flightID), FlightID: flightID}
}

func InvalidState(reference, status, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...), Reference: reference, Status: status}
}

func InsufficientSeats(flightID int64, cabin CabinClass, requested, available int) *Error {
	return &Error{
		Kind:      KindInsufficientSeats,
		FlightID:  flightID,
		Cabin:     cabin,
		Requested: requested,
		Available: available,
	}
}

func AmountMismatch(reference, expected, got string) *Error {
	return &Error{Kind: KindAmountMismatch, Message: fmt.Sprintf("expected %s, got %s", expected, got), Reference: reference}
}

func BookingExpired(reference, status string) *Error {
	return &Error{Kind: KindBookingExpired, Message: "booking " + reference + " is no longer pending", Reference: reference, Status: status}
}

func Contention(key string, err error) *Error {
	return &Error{Kind: KindTransientContention, Message: "contention on " + key, Err: err}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// OverRelease reports a release that would push available above capacity.
// It indicates a double release and never mutates inventory.
func OverRelease(flightID int64, cabin CabinClass, requested, available, capacity int) *Error {
	return &Error{
		Kind:      KindInvalidState,
		Message:   fmt.Sprintf("release exceeds capacity %d", capacity),
		FlightID:  flightID,
		Cabin:     cabin,
		Requested: requested,
		Available: available,
	}
}
