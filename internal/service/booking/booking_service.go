package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/Domenick1991/airreserve/internal/clock"
	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/kafka"
	"github.com/Domenick1991/airreserve/internal/lock"
	"github.com/Domenick1991/airreserve/internal/metrics"
	"github.com/Domenick1991/airreserve/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, reference, userID string) (*domain.Booking, error)
	ListBookings(ctx context.Context, userID string) ([]domain.Booking, error)
	CancelBooking(ctx context.Context, reference, userID, reason string) (*domain.Booking, error)
	ExpireBooking(ctx context.Context, reference string) (*domain.Booking, error)
}

// Inventory is the seat inventory as seen by the orchestrator.
type Inventory interface {
	ReserveAll(ctx context.Context, flightID int64, groups []domain.SeatCount) error
	ReleaseAll(ctx context.Context, flightID int64, groups []domain.SeatCount) error
}

type Notifier interface {
	Notify(ctx context.Context, event kafka.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, kafka.Event) {}

const (
	defaultHoldTTL       = 30 * time.Minute
	defaultMaxPassengers = 9
	maxReferenceAttempts = 5

	ReasonHoldExpired = "hold expired"
)

type BookingService struct {
	flights       repository.FlightRepository
	bookings      repository.BookingRepository
	inventory     Inventory
	locker        lock.Locker
	clock         clock.Clock
	notifier      Notifier
	logger        *slog.Logger
	holdTTL       time.Duration
	maxPassengers int
	newReference  func() (string, error)
}

type CreateBookingInput struct {
	FlightID       int64              `json:"flight_id"`
	Passengers     []domain.Passenger `json:"passengers"`
	DefaultCabin   domain.CabinClass  `json:"cabin_class"`
	Contact        domain.ContactInfo `json:"contact"`
	UserID         string             `json:"-"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

type BookingServiceOption func(*BookingService)

func WithHoldTTL(ttl time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		if ttl > 0 {
			s.holdTTL = ttl
		}
	}
}

func WithMaxPassengers(n int) BookingServiceOption {
	return func(s *BookingService) {
		if n > 0 {
			s.maxPassengers = n
		}
	}
}

func WithClock(c clock.Clock) BookingServiceOption {
	return func(s *BookingService) {
		s.clock = c
	}
}

func WithNotifier(n Notifier) BookingServiceOption {
	return func(s *BookingService) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithLogger(logger *slog.Logger) BookingServiceOption {
	return func(s *BookingService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withReferenceGenerator(gen func() (string, error)) BookingServiceOption {
	return func(s *BookingService) {
		s.newReference = gen
	}
}

func NewBookingService(
	flights repository.FlightRepository,
	bookings repository.BookingRepository,
	inventory Inventory,
	locker lock.Locker,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		flights:       flights,
		bookings:      bookings,
		inventory:     inventory,
		locker:        locker,
		clock:         clock.Real(),
		notifier:      nopNotifier{},
		logger:        slog.Default(),
		holdTTL:       defaultHoldTTL,
		maxPassengers: defaultMaxPassengers,
		newReference:  newReference,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// CreateBooking reserves seats for every passenger and stores a PENDING
// booking holding them until now + hold window. Seats are reserved before
// anything is persisted; if persisting fails they are released again
// before the error is returned.
func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	passengers, err := s.validate(input)
	if err != nil {
		return nil, err
	}

	if input.IdempotencyKey != "" {
		unlock, err := s.locker.Lock(ctx, lock.IdempotencyKey(input.UserID, input.IdempotencyKey))
		if err != nil {
			return nil, err
		}
		defer unlock()

		existing, err := s.bookings.GetByIdempotencyKey(ctx, input.UserID, input.IdempotencyKey)
		switch {
		case err == nil:
			if existing.FlightID != input.FlightID {
				return nil, domain.Validation("idempotency key %q was used for another flight", input.IdempotencyKey)
			}
			s.logger.InfoContext(ctx, "replayed booking request", "reference", existing.Reference)
			return existing, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	flight, err := s.flights.GetByID(ctx, input.FlightID)
	if err != nil {
		return nil, err
	}
	prices := make(map[domain.CabinClass]decimal.Decimal, len(flight.Cabins))
	for _, p := range passengers {
		cabin, ok := flight.Cabin(p.Cabin)
		if !ok {
			return nil, domain.Validation("flight %d has no %s cabin", flight.ID, p.Cabin)
		}
		prices[p.Cabin] = cabin.Price
	}

	groups := domain.GroupByCabin(passengers, func(p domain.Passenger) domain.CabinClass { return p.Cabin })
	if err := s.inventory.ReserveAll(ctx, flight.ID, groups); err != nil {
		metrics.BookingEvent("rejected")
		return nil, err
	}

	booking, err := s.store(ctx, input, passengers, prices)
	if err != nil {
		if relErr := s.inventory.ReleaseAll(context.WithoutCancel(ctx), flight.ID, groups); relErr != nil {
			s.logger.ErrorContext(ctx, "compensating release failed",
				"flight_id", flight.ID, "error", relErr)
			return nil, errors.Join(err, relErr)
		}
		s.logger.WarnContext(ctx, "booking not stored, seats released", "flight_id", flight.ID, "error", err)
		return nil, err
	}

	metrics.BookingEvent("created")
	s.logger.InfoContext(ctx, "booking created",
		"reference", booking.Reference, "flight_id", booking.FlightID, "seats", len(booking.Tickets))
	s.notifier.Notify(ctx, kafka.BookingEvent(kafka.EventBookingCreated, booking, booking.CreatedAt))
	return booking, nil
}

// store persists a new booking, drawing a fresh reference whenever the
// generated one is already taken.
func (s *BookingService) store(ctx context.Context, input CreateBookingInput, passengers []domain.Passenger, prices map[domain.CabinClass]decimal.Decimal) (*domain.Booking, error) {
	for attempt := 1; ; attempt++ {
		booking, err := s.newBooking(input, passengers, prices)
		if err != nil {
			return nil, err
		}
		err = s.bookings.Create(ctx, booking)
		if err == nil {
			return booking, nil
		}
		if !errors.Is(err, repository.ErrDuplicateReference) || attempt >= maxReferenceAttempts {
			return nil, err
		}
		s.logger.WarnContext(ctx, "booking reference taken, drawing another",
			"reference", booking.Reference, "attempt", attempt)
	}
}

func (s *BookingService) validate(input CreateBookingInput) ([]domain.Passenger, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, domain.Validation("user id is required")
	}
	if input.FlightID <= 0 {
		return nil, domain.Validation("flight id must be positive")
	}
	if len(input.Passengers) == 0 {
		return nil, domain.Validation("at least one passenger is required")
	}
	if len(input.Passengers) > s.maxPassengers {
		return nil, domain.Validation("at most %d passengers per booking", s.maxPassengers)
	}
	if input.Contact.Email == "" {
		return nil, domain.Validation("contact email is required")
	}
	if _, err := mail.ParseAddress(input.Contact.Email); err != nil {
		return nil, domain.Validation("contact email %q is invalid", input.Contact.Email)
	}

	defaultCabin := input.DefaultCabin
	if defaultCabin == "" {
		defaultCabin = domain.CabinEconomy
	}
	passengers := make([]domain.Passenger, len(input.Passengers))
	for i, p := range input.Passengers {
		if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
			return nil, domain.Validation("passenger %d: name is required", i+1)
		}
		if strings.TrimSpace(p.DocumentNumber) == "" {
			return nil, domain.Validation("passenger %d: document number is required", i+1)
		}
		if p.Cabin == "" {
			p.Cabin = defaultCabin
		}
		if !p.Cabin.Valid() {
			return nil, domain.Validation("passenger %d: unknown cabin class %q", i+1, p.Cabin)
		}
		passengers[i] = p
	}
	return passengers, nil
}

func (s *BookingService) newBooking(input CreateBookingInput, passengers []domain.Passenger, prices map[domain.CabinClass]decimal.Decimal) (*domain.Booking, error) {
	reference, err := s.newReference()
	if err != nil {
		return nil, fmt.Errorf("generate reference: %w", err)
	}
	now := s.clock.Now()

	booking := &domain.Booking{
		Reference:      reference,
		UserID:         input.UserID,
		FlightID:       input.FlightID,
		Status:         domain.BookingStatusPending,
		Contact:        input.Contact,
		IdempotencyKey: input.IdempotencyKey,
		TotalAmount:    decimal.Zero,
		ExpiresAt:      now.Add(s.holdTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
		Tickets:        make([]domain.Ticket, 0, len(passengers)),
	}
	for _, p := range passengers {
		price := prices[p.Cabin]
		booking.Tickets = append(booking.Tickets, domain.Ticket{
			ID:               uuid.NewString(),
			BookingReference: reference,
			FlightID:         input.FlightID,
			Passenger:        p,
			Cabin:            p.Cabin,
			Price:            price,
			Status:           domain.TicketStatusReserved,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		booking.TotalAmount = booking.TotalAmount.Add(price)
	}
	return booking, nil
}

// GetBooking hides bookings of other users behind NotFound.
func (s *BookingService) GetBooking(ctx context.Context, reference, userID string) (*domain.Booking, error) {
	booking, err := s.bookings.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, domain.NotFound("booking %s", reference)
	}
	return booking, nil
}

func (s *BookingService) ListBookings(ctx context.Context, userID string) ([]domain.Booking, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Validation("user id is required")
	}
	return s.bookings.ListByUser(ctx, userID)
}

// CancelBooking cancels a PENDING or CONFIRMED booking and returns its
// seats. A confirmed booking keeps its payment; refunds are requested
// separately.
func (s *BookingService) CancelBooking(ctx context.Context, reference, userID, reason string) (*domain.Booking, error) {
	unlock, err := s.locker.Lock(ctx, lock.BookingKey(reference))
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking, err := s.GetBooking(ctx, reference, userID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(domain.BookingStatusCancelled) {
		return nil, domain.InvalidState(reference, string(booking.Status), "booking is already %s", strings.ToLower(string(booking.Status)))
	}
	if reason == "" {
		reason = "cancelled by customer"
	}

	updated, err := s.terminate(ctx, booking, domain.BookingStatusCancelled, domain.TicketStatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	metrics.BookingEvent("cancelled")
	s.notifier.Notify(ctx, kafka.BookingEvent(kafka.EventBookingCancelled, updated, updated.UpdatedAt))
	return updated, nil
}

// ExpireBooking expires a PENDING booking whose hold window has passed.
// Bookings that are no longer PENDING, or not yet due, fail with
// InvalidState and are left untouched.
func (s *BookingService) ExpireBooking(ctx context.Context, reference string) (*domain.Booking, error) {
	unlock, err := s.locker.Lock(ctx, lock.BookingKey(reference))
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking, err := s.bookings.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.ExpireLocked(ctx, booking)
}

// ExpireLocked is ExpireBooking for callers already holding the booking
// lock.
func (s *BookingService) ExpireLocked(ctx context.Context, booking *domain.Booking) (*domain.Booking, error) {
	if booking.Status != domain.BookingStatusPending {
		return nil, domain.InvalidState(booking.Reference, string(booking.Status), "booking is not pending")
	}
	if !booking.Expired(s.clock.Now()) {
		return nil, domain.InvalidState(booking.Reference, string(booking.Status), "hold runs until %s", booking.ExpiresAt.Format(time.RFC3339))
	}

	updated, err := s.terminate(ctx, booking, domain.BookingStatusExpired, domain.TicketStatusVoided, ReasonHoldExpired)
	if err != nil {
		return nil, err
	}
	metrics.BookingEvent("expired")
	s.notifier.Notify(ctx, kafka.BookingEvent(kafka.EventBookingExpired, updated, updated.UpdatedAt))
	return updated, nil
}

// ConfirmLocked promotes a PENDING booking to CONFIRMED and issues its
// tickets. The caller holds the booking lock. It fails with InvalidState
// carrying the current status if the booking left PENDING meanwhile.
func (s *BookingService) ConfirmLocked(ctx context.Context, booking *domain.Booking) (*domain.Booking, error) {
	updated, err := s.bookings.Transition(ctx, repository.BookingTransition{
		Reference:    booking.Reference,
		From:         domain.BookingStatusPending,
		To:           domain.BookingStatusConfirmed,
		TicketStatus: domain.TicketStatusIssued,
		At:           s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	metrics.BookingEvent("confirmed")
	s.logger.InfoContext(ctx, "booking confirmed", "reference", updated.Reference)
	s.notifier.Notify(ctx, kafka.BookingEvent(kafka.EventBookingConfirmed, updated, updated.UpdatedAt))
	return updated, nil
}

// terminate moves the booking out of its current status and then returns
// its seats. Only the caller whose transition lands releases, so seats go
// back at most once however cancel and expiry interleave. A failed release
// undoes the transition, leaving the booking as it was for a retry.
func (s *BookingService) terminate(ctx context.Context, booking *domain.Booking, to domain.BookingStatus, ticketStatus domain.TicketStatus, reason string) (*domain.Booking, error) {
	updated, err := s.bookings.Transition(ctx, repository.BookingTransition{
		Reference:    booking.Reference,
		From:         booking.Status,
		To:           to,
		TicketStatus: ticketStatus,
		Reason:       reason,
		At:           s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.inventory.ReleaseAll(context.WithoutCancel(ctx), booking.FlightID, booking.SeatCounts()); err != nil {
		relErr := fmt.Errorf("release seats of %s: %w", booking.Reference, err)
		if undoErr := s.undo(ctx, booking, to); undoErr != nil {
			s.logger.ErrorContext(ctx, "seats not released and transition not undone",
				"reference", booking.Reference, "flight_id", booking.FlightID, "status", to,
				"error", err, "undo_error", undoErr)
			return nil, errors.Join(relErr, undoErr)
		}
		s.logger.WarnContext(ctx, "seats not released, booking restored",
			"reference", booking.Reference, "flight_id", booking.FlightID, "status", booking.Status, "error", err)
		return nil, relErr
	}

	s.logger.InfoContext(ctx, "booking terminated",
		"reference", booking.Reference, "from", booking.Status, "to", to, "seats", len(booking.Tickets))
	return updated, nil
}

// undo moves a booking from the terminal status back to the snapshot taken
// before terminate. The caller still holds the booking lock.
func (s *BookingService) undo(ctx context.Context, booking *domain.Booking, from domain.BookingStatus) error {
	_, err := s.bookings.Transition(context.WithoutCancel(ctx), repository.BookingTransition{
		Reference:    booking.Reference,
		From:         from,
		To:           booking.Status,
		TicketStatus: heldTicketStatus(booking.Status),
		Reason:       booking.CancelReason,
		At:           booking.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("restore %s to %s: %w", booking.Reference, booking.Status, err)
	}
	return nil
}

// heldTicketStatus is the ticket status of a booking that still holds seats.
func heldTicketStatus(status domain.BookingStatus) domain.TicketStatus {
	if status == domain.BookingStatusConfirmed {
		return domain.TicketStatusIssued
	}
	return domain.TicketStatusReserved
}

const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newReference returns a six character booking code without the easily
// confused 0/O and 1/I.
func newReference() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return string(buf), nil
}

var _ BookingUseCase = (*BookingService)(nil)
