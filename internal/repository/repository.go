package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

type FlightRepository interface {
	List(ctx context.Context) ([]domain.Flight, error)
	GetByID(ctx context.Context, id int64) (*domain.Flight, error)
	Create(ctx context.Context, flight *domain.Flight) error
	// ReserveSeats atomically takes count seats from one cabin bucket or
	// fails with InsufficientSeats leaving the bucket untouched.
	ReserveSeats(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error
	// ReleaseSeats atomically returns count seats; it refuses to exceed
	// capacity.
	ReleaseSeats(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error
}

// ErrDuplicateReference is returned by Create when the booking reference is
// already taken.
var ErrDuplicateReference = errors.New("booking reference already exists")

// BookingTransition is a conditional status change: it applies only while
// the booking is still in From. Reason replaces the stored cancel reason.
type BookingTransition struct {
	Reference    string
	From         domain.BookingStatus
	To           domain.BookingStatus
	TicketStatus domain.TicketStatus
	Reason       string
	At           time.Time
}

type BookingRepository interface {
	// Create stores the booking and all of its tickets, or nothing.
	Create(ctx context.Context, booking *domain.Booking) error
	GetByReference(ctx context.Context, reference string) (*domain.Booking, error)
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Booking, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	// Transition fails with InvalidState carrying the current status when
	// the booking is no longer in t.From.
	Transition(ctx context.Context, t BookingTransition) (*domain.Booking, error)
}

type PaymentRepository interface {
	// Create fails with InvalidState if the booking already has an active
	// payment.
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	ListByBooking(ctx context.Context, reference string) ([]domain.Payment, error)
	// Update writes payment while its stored status still equals from.
	Update(ctx context.Context, payment *domain.Payment, from domain.PaymentStatus) error
}

func statusConflict(reference string, current domain.BookingStatus) error {
	return domain.InvalidState(reference, string(current), "booking status changed")
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

const (
	pgUniqueViolation    = "23505"
	pgLockNotAvailable   = "55P03"
	pgSerializationError = "40001"
	pgDeadlockDetected   = "40P01"
)

// mapPgError turns lock and serialization failures into contention errors
// the caller may retry.
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationError, pgDeadlockDetected:
			return domain.Contention(op, err)
		}
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}
