package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `reference, user_id, flight_id, status, contact_name, contact_email, contact_phone,
	total_cents, COALESCE(idempotency_key, ''), cancel_reason, expires_at, created_at, updated_at`

const ticketColumns = `id, booking_reference, flight_id, first_name, last_name, document_number, date_of_birth,
	cabin_class, seat_number, price_cents, status, created_at, updated_at`

func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO bookings (reference, user_id, flight_id, status, contact_name, contact_email,
		contact_phone, total_cents, idempotency_key, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $11)`,
		booking.Reference, booking.UserID, booking.FlightID, booking.Status, booking.Contact.Name, booking.Contact.Email,
		booking.Contact.Phone, toCents(booking.TotalAmount), booking.IdempotencyKey, booking.ExpiresAt, booking.CreatedAt); err != nil {
		if isUniqueViolation(err, "bookings_idempotency_key") {
			return domain.InvalidState(booking.Reference, "", "idempotency key %q already used", booking.IdempotencyKey)
		}
		if isUniqueViolation(err, "bookings_pkey") {
			return fmt.Errorf("insert booking %s: %w", booking.Reference, ErrDuplicateReference)
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	batch := &pgx.Batch{}
	for i, t := range booking.Tickets {
		batch.Queue(`INSERT INTO tickets (id, booking_reference, position, flight_id, first_name, last_name, document_number,
			date_of_birth, cabin_class, seat_number, price_cents, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
			t.ID, booking.Reference, i, t.FlightID, t.Passenger.FirstName, t.Passenger.LastName, t.Passenger.DocumentNumber,
			t.Passenger.DateOfBirth, t.Cabin, t.SeatNumber, toCents(t.Price), t.Status, t.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert tickets: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit booking: %w", err)
	}
	booking.UpdatedAt = booking.CreatedAt
	return nil
}

func (r *PGBookingRepository) GetByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	return r.getOne(ctx, "booking "+reference, `SELECT `+bookingColumns+` FROM bookings WHERE reference=$1`, reference)
}

func (r *PGBookingRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Booking, error) {
	return r.getOne(ctx, "booking with idempotency key "+key, `SELECT `+bookingColumns+` FROM bookings WHERE user_id=$1 AND idempotency_key=$2`, userID, key)
}

func (r *PGBookingRepository) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *PGBookingRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status=$1 AND expires_at <= $2 ORDER BY expires_at LIMIT $3`,
		domain.BookingStatusPending, now, limit)
}

func (r *PGBookingRepository) Transition(ctx context.Context, t BookingTransition) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The conditional update takes the row lock; whoever commits first wins
	// and every later caller sees zero rows.
	cmd, err := tx.Exec(ctx, `UPDATE bookings
		SET status=$3, cancel_reason=$4, updated_at=$5
		WHERE reference=$1 AND status=$2`, t.Reference, t.From, t.To, t.Reason, t.At)
	if err != nil {
		return nil, mapPgError("booking "+t.Reference, err)
	}
	if cmd.RowsAffected() == 0 {
		var current domain.BookingStatus
		if err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE reference=$1`, t.Reference).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.NotFound("booking %s", t.Reference)
			}
			return nil, err
		}
		return nil, statusConflict(t.Reference, current)
	}

	if _, err := tx.Exec(ctx, `UPDATE tickets SET status=$2, updated_at=$3 WHERE booking_reference=$1`,
		t.Reference, t.TicketStatus, t.At); err != nil {
		return nil, fmt.Errorf("update tickets: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError("booking "+t.Reference, err)
	}
	return r.GetByReference(ctx, t.Reference)
}

func (r *PGBookingRepository) getOne(ctx context.Context, what, query string, args ...any) (*domain.Booking, error) {
	bookings, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, domain.NotFound("%s", what)
	}
	return &bookings[0], nil
}

func (r *PGBookingRepository) list(ctx context.Context, query string, args ...any) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	bookings, err := pgx.CollectRows(rows, scanBooking)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return bookings, nil
	}

	refs := make([]string, len(bookings))
	for i := range bookings {
		refs[i] = bookings[i].Reference
	}
	tickets, err := r.tickets(ctx, refs)
	if err != nil {
		return nil, err
	}
	for i := range bookings {
		bookings[i].Tickets = tickets[bookings[i].Reference]
	}
	return bookings, nil
}

func (r *PGBookingRepository) tickets(ctx context.Context, refs []string) (map[string][]domain.Ticket, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE booking_reference = ANY($1) ORDER BY booking_reference, position`, refs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.Ticket, len(refs))
	for rows.Next() {
		var (
			t     domain.Ticket
			cents int64
		)
		if err := rows.Scan(&t.ID, &t.BookingReference, &t.FlightID, &t.Passenger.FirstName, &t.Passenger.LastName,
			&t.Passenger.DocumentNumber, &t.Passenger.DateOfBirth, &t.Cabin, &t.SeatNumber, &cents, &t.Status,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Price = fromCents(cents)
		t.Passenger.Cabin = t.Cabin
		result[t.BookingReference] = append(result[t.BookingReference], t)
	}
	return result, rows.Err()
}

func scanBooking(row pgx.CollectableRow) (domain.Booking, error) {
	var (
		b     domain.Booking
		cents int64
	)
	err := row.Scan(&b.Reference, &b.UserID, &b.FlightID, &b.Status, &b.Contact.Name, &b.Contact.Email, &b.Contact.Phone,
		&cents, &b.IdempotencyKey, &b.CancelReason, &b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt)
	b.TotalAmount = fromCents(cents)
	return b, err
}

var _ BookingRepository = (*PGBookingRepository)(nil)
