package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Domenick1991/airreserve/internal/clock"
	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/kafka"
	"github.com/Domenick1991/airreserve/internal/lock"
	"github.com/Domenick1991/airreserve/internal/repository"
	"github.com/Domenick1991/airreserve/internal/service/inventory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock структуры

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event kafka.Event) {
	m.Called(ctx, event)
}

func (m *MockNotifier) types() []string {
	var out []string
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(1).(kafka.Event).Type)
	}
	return out
}

// failingBookings stores nothing and always fails Create.
type failingBookings struct {
	*repository.MemoryBookingRepository
	err error
}

func (f failingBookings) Create(context.Context, *domain.Booking) error {
	return f.err
}

// flakyInventory fails the first failures calls to ReleaseAll.
type flakyInventory struct {
	Inventory
	mu       sync.Mutex
	failures int
}

func (f *flakyInventory) ReleaseAll(ctx context.Context, flightID int64, groups []domain.SeatCount) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return domain.Contention("flight cabins", errors.New("cas attempts exhausted"))
	}
	f.mu.Unlock()
	return f.Inventory.ReleaseAll(ctx, flightID, groups)
}

type fixture struct {
	flights  *repository.MemoryFlightRepository
	bookings repository.BookingRepository
	clock    *clock.FakeClock
	notifier *MockNotifier
	service  *BookingService
	flightID int64
}

var start = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, economy, business int, bookings repository.BookingRepository) *fixture {
	t.Helper()
	flights := repository.NewMemoryFlightRepository(repository.WithMaxCASAttempts(100000))
	if bookings == nil {
		bookings = repository.NewMemoryBookingRepository()
	}
	f := &domain.Flight{
		Number:        "SU1234",
		FromAirport:   "SVO",
		ToAirport:     "KZN",
		DepartureTime: start.Add(72 * time.Hour),
		ArrivalTime:   start.Add(74 * time.Hour),
		Cabins: []domain.CabinInventory{
			{Class: domain.CabinEconomy, Capacity: economy, Price: decimal.RequireFromString("120.50")},
			{Class: domain.CabinBusiness, Capacity: business, Price: decimal.NewFromInt(480)},
		},
	}
	require.NoError(t, flights.Create(context.Background(), f))

	fx := &fixture{
		flights:  flights,
		bookings: bookings,
		clock:    clock.Fake(start),
		notifier: new(MockNotifier),
		flightID: f.ID,
	}
	fx.notifier.On("Notify", mock.Anything, mock.Anything).Return()
	fx.service = NewBookingService(flights, bookings, inventory.NewSeatInventory(flights), lock.NewLocalLocker(5*time.Second),
		WithClock(fx.clock),
		WithNotifier(fx.notifier),
		WithHoldTTL(30*time.Minute),
	)
	return fx
}

func (fx *fixture) available(t *testing.T, class domain.CabinClass) int {
	t.Helper()
	f, err := fx.flights.GetByID(context.Background(), fx.flightID)
	require.NoError(t, err)
	c, ok := f.Cabin(class)
	require.True(t, ok)
	return c.Available
}

func passenger(name string, cabin domain.CabinClass) domain.Passenger {
	return domain.Passenger{FirstName: name, LastName: "Petrov", DocumentNumber: "4510 " + name, Cabin: cabin}
}

func (fx *fixture) input(passengers ...domain.Passenger) CreateBookingInput {
	return CreateBookingInput{
		FlightID:   fx.flightID,
		Passengers: passengers,
		Contact:    domain.ContactInfo{Name: "Ivan Petrov", Email: "ivan@example.com"},
		UserID:     "user-1",
	}
}

func TestCreateBooking_Success(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	ctx := context.Background()

	b, err := fx.service.CreateBooking(ctx, fx.input(
		passenger("Ivan", ""),
		passenger("Olga", domain.CabinBusiness),
		passenger("Pavel", ""),
	))
	require.NoError(t, err)

	assert.Len(t, b.Reference, 6)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, start.Add(30*time.Minute), b.ExpiresAt)
	assert.True(t, decimal.RequireFromString("721").Equal(b.TotalAmount), b.TotalAmount.String())
	require.Len(t, b.Tickets, 3)
	for _, tk := range b.Tickets {
		assert.Equal(t, domain.TicketStatusReserved, tk.Status)
		assert.Equal(t, fx.flightID, tk.FlightID)
		assert.Equal(t, b.Reference, tk.BookingReference)
	}
	assert.Equal(t, domain.CabinBusiness, b.Tickets[1].Cabin)

	assert.Equal(t, 8, fx.available(t, domain.CabinEconomy))
	assert.Equal(t, 3, fx.available(t, domain.CabinBusiness))

	stored, err := fx.service.GetBooking(ctx, b.Reference, "user-1")
	require.NoError(t, err)
	assert.Equal(t, b.Reference, stored.Reference)
	assert.Equal(t, []string{kafka.EventBookingCreated}, fx.notifier.types())
}

func TestCreateBooking_Validation(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)

	tests := []struct {
		name   string
		modify func(*CreateBookingInput)
	}{
		{"no user", func(in *CreateBookingInput) { in.UserID = "" }},
		{"no passengers", func(in *CreateBookingInput) { in.Passengers = nil }},
		{"too many passengers", func(in *CreateBookingInput) {
			for i := 0; i < 10; i++ {
				in.Passengers = append(in.Passengers, passenger("P", ""))
			}
		}},
		{"missing email", func(in *CreateBookingInput) { in.Contact.Email = "" }},
		{"bad email", func(in *CreateBookingInput) { in.Contact.Email = "not-an-address" }},
		{"missing document", func(in *CreateBookingInput) { in.Passengers[0].DocumentNumber = "" }},
		{"unknown cabin", func(in *CreateBookingInput) { in.Passengers[0].Cabin = "PREMIUM" }},
		{"cabin not on flight", func(in *CreateBookingInput) { in.Passengers[0].Cabin = domain.CabinFirst }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fx.input(passenger("Ivan", ""))
			tt.modify(&in)
			_, err := fx.service.CreateBooking(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))
}

func TestCreateBooking_FlightNotFound(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	in := fx.input(passenger("Ivan", ""))
	in.FlightID = 999

	_, err := fx.service.CreateBooking(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrFlightNotFound)
}

func TestCreateBooking_InsufficientSeatsLeavesInventory(t *testing.T) {
	fx := newFixture(t, 10, 1, nil)

	_, err := fx.service.CreateBooking(context.Background(), fx.input(
		passenger("Ivan", domain.CabinEconomy),
		passenger("Olga", domain.CabinBusiness),
		passenger("Anna", domain.CabinBusiness),
	))
	require.ErrorIs(t, err, domain.ErrInsufficientSeats)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.CabinBusiness, de.Cabin)
	assert.Equal(t, 2, de.Requested)
	assert.Equal(t, 1, de.Available)

	assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))
	assert.Equal(t, 1, fx.available(t, domain.CabinBusiness))
	fx.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestCreateBooking_PersistFailureReleasesSeats(t *testing.T) {
	storeDown := errors.New("connection refused")
	fx := newFixture(t, 10, 4, failingBookings{repository.NewMemoryBookingRepository(), storeDown})

	_, err := fx.service.CreateBooking(context.Background(), fx.input(
		passenger("Ivan", domain.CabinEconomy),
		passenger("Olga", domain.CabinBusiness),
	))
	require.ErrorIs(t, err, storeDown)
	assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))
	assert.Equal(t, 4, fx.available(t, domain.CabinBusiness))
}

func TestCreateBooking_Idempotent(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	ctx := context.Background()
	in := fx.input(passenger("Ivan", ""), passenger("Olga", ""))
	in.IdempotencyKey = "retry-1"

	first, err := fx.service.CreateBooking(ctx, in)
	require.NoError(t, err)
	second, err := fx.service.CreateBooking(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, 8, fx.available(t, domain.CabinEconomy))

	in.FlightID = 999
	_, err = fx.service.CreateBooking(ctx, in)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateBooking_ConcurrentLastSeats(t *testing.T) {
	fx := newFixture(t, 10, 2, nil)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.service.CreateBooking(context.Background(), fx.input(
				passenger("Ivan", domain.CabinBusiness),
				passenger("Olga", domain.CabinBusiness),
			))
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientSeats):
			short++
			var de *domain.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, 2, de.Requested)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 0, fx.available(t, domain.CabinBusiness))
}

func TestCancelBooking(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	ctx := context.Background()

	b, err := fx.service.CreateBooking(ctx, fx.input(passenger("Ivan", ""), passenger("Olga", domain.CabinBusiness)))
	require.NoError(t, err)

	_, err = fx.service.CancelBooking(ctx, b.Reference, "someone-else", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cancelled, err := fx.service.CancelBooking(ctx, b.Reference, "user-1", "changed plans")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, "changed plans", cancelled.CancelReason)
	for _, tk := range cancelled.Tickets {
		assert.Equal(t, domain.TicketStatusCancelled, tk.Status)
	}
	assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))
	assert.Equal(t, 4, fx.available(t, domain.CabinBusiness))

	_, err = fx.service.CancelBooking(ctx, b.Reference, "user-1", "")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, string(domain.BookingStatusCancelled), de.Status)
	assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))

	assert.Equal(t, []string{kafka.EventBookingCreated, kafka.EventBookingCancelled}, fx.notifier.types())
}

func TestCancelBooking_AfterConfirmation(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	ctx := context.Background()

	b, err := fx.service.CreateBooking(ctx, fx.input(passenger("Ivan", "")))
	require.NoError(t, err)
	confirmed, err := fx.service.ConfirmLocked(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusIssued, confirmed.Tickets[0].Status)

	cancelled, err := fx.service.CancelBooking(ctx, b.Reference, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)
	assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))
}

func TestExpireBooking(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	ctx := context.Background()

	b, err := fx.service.CreateBooking(ctx, fx.input(passenger("Ivan", ""), passenger("Olga", domain.CabinBusiness)))
	require.NoError(t, err)

	fx.clock.Advance(29 * time.Minute)
	_, err = fx.service.ExpireBooking(ctx, b.Reference)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, 9, fx.available(t, domain.CabinEconomy))

	fx.clock.Advance(2 * time.Minute)
	expired, err := fx.service.ExpireBooking(ctx, b.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusExpired, expired.Status)
	assert.Equal(t, ReasonHoldExpired, expired.CancelReason)
	for _, tk := range expired.Tickets {
		assert.Equal(t, domain.TicketStatusVoided, tk.Status)
	}
	assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))
	assert.Equal(t, 4, fx.available(t, domain.CabinBusiness))

	_, err = fx.service.ExpireBooking(ctx, b.Reference)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))
}

func TestCancelAndExpireRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		fx := newFixture(t, 3, 1, nil)
		ctx := context.Background()

		b, err := fx.service.CreateBooking(ctx, fx.input(passenger("Ivan", ""), passenger("Olga", "")))
		require.NoError(t, err)
		fx.clock.Advance(31 * time.Minute)

		var (
			wg                  sync.WaitGroup
			cancelErr, expireErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = fx.service.CancelBooking(ctx, b.Reference, "user-1", "")
		}()
		go func() {
			defer wg.Done()
			_, expireErr = fx.service.ExpireBooking(ctx, b.Reference)
		}()
		wg.Wait()

		if cancelErr == nil {
			assert.ErrorIs(t, expireErr, domain.ErrInvalidState)
		} else {
			assert.ErrorIs(t, cancelErr, domain.ErrInvalidState)
			assert.NoError(t, expireErr)
		}
		assert.Equal(t, 3, fx.available(t, domain.CabinEconomy))
	}
}

func TestTerminate_ReleaseFailureRestoresBooking(t *testing.T) {
	tests := []struct {
		name      string
		confirm   bool
		terminate func(fx *fixture, ref string) (*domain.Booking, error)
		status    domain.BookingStatus
		ticket    domain.TicketStatus
	}{
		{
			name: "cancel pending",
			terminate: func(fx *fixture, ref string) (*domain.Booking, error) {
				return fx.service.CancelBooking(context.Background(), ref, "user-1", "")
			},
			status: domain.BookingStatusCancelled,
			ticket: domain.TicketStatusReserved,
		},
		{
			name:    "cancel confirmed",
			confirm: true,
			terminate: func(fx *fixture, ref string) (*domain.Booking, error) {
				return fx.service.CancelBooking(context.Background(), ref, "user-1", "")
			},
			status: domain.BookingStatusCancelled,
			ticket: domain.TicketStatusIssued,
		},
		{
			name: "expire",
			terminate: func(fx *fixture, ref string) (*domain.Booking, error) {
				fx.clock.Advance(31 * time.Minute)
				return fx.service.ExpireBooking(context.Background(), ref)
			},
			status: domain.BookingStatusExpired,
			ticket: domain.TicketStatusReserved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, 10, 4, nil)
			flaky := &flakyInventory{Inventory: inventory.NewSeatInventory(fx.flights), failures: 1}
			fx.service = NewBookingService(fx.flights, fx.bookings, flaky, lock.NewLocalLocker(5*time.Second),
				WithClock(fx.clock),
				WithNotifier(fx.notifier),
			)
			ctx := context.Background()

			b, err := fx.service.CreateBooking(ctx, fx.input(passenger("Ivan", ""), passenger("Olga", "")))
			require.NoError(t, err)
			if tt.confirm {
				_, err = fx.service.ConfirmLocked(ctx, b)
				require.NoError(t, err)
			}
			before, err := fx.bookings.GetByReference(ctx, b.Reference)
			require.NoError(t, err)

			_, err = tt.terminate(fx, b.Reference)
			require.ErrorIs(t, err, domain.ErrTransientContention)

			kept, err := fx.bookings.GetByReference(ctx, b.Reference)
			require.NoError(t, err)
			assert.Equal(t, before.Status, kept.Status)
			assert.Empty(t, kept.CancelReason)
			for _, tk := range kept.Tickets {
				assert.Equal(t, tt.ticket, tk.Status)
			}
			assert.Equal(t, 8, fx.available(t, domain.CabinEconomy))

			done, err := tt.terminate(fx, b.Reference)
			require.NoError(t, err)
			assert.Equal(t, tt.status, done.Status)
			assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))
		})
	}
}

func TestCreateBooking_ReferenceTakenIsRedrawn(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	ctx := context.Background()

	refs := []string{"AAAAAA", "AAAAAA", "AAAAAA", "BBBBBB"}
	withReferenceGenerator(func() (string, error) {
		ref := refs[0]
		refs = refs[1:]
		return ref, nil
	})(fx.service)

	first, err := fx.service.CreateBooking(ctx, fx.input(passenger("Ivan", "")))
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first.Reference)

	second, err := fx.service.CreateBooking(ctx, fx.input(passenger("Olga", "")))
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", second.Reference)
	assert.Empty(t, refs)
	assert.Equal(t, 8, fx.available(t, domain.CabinEconomy))
}

func TestCreateBooking_ReferenceAttemptsExhausted(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	ctx := context.Background()

	calls := 0
	withReferenceGenerator(func() (string, error) {
		calls++
		return "AAAAAA", nil
	})(fx.service)

	_, err := fx.service.CreateBooking(ctx, fx.input(passenger("Ivan", "")))
	require.NoError(t, err)
	calls = 0

	_, err = fx.service.CreateBooking(ctx, fx.input(passenger("Olga", "")))
	assert.ErrorIs(t, err, repository.ErrDuplicateReference)
	assert.Equal(t, maxReferenceAttempts, calls)
	assert.Equal(t, 9, fx.available(t, domain.CabinEconomy))
}

func TestListBookings(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	ctx := context.Background()

	first, err := fx.service.CreateBooking(ctx, fx.input(passenger("Ivan", "")))
	require.NoError(t, err)
	fx.clock.Advance(time.Minute)
	second, err := fx.service.CreateBooking(ctx, fx.input(passenger("Olga", "")))
	require.NoError(t, err)

	list, err := fx.service.ListBookings(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Reference, list[0].Reference)
	assert.Equal(t, first.Reference, list[1].Reference)

	_, err = fx.service.ListBookings(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewReference(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		ref, err := newReference()
		require.NoError(t, err)
		require.Len(t, ref, 6)
		assert.NotContains(t, ref, "0")
		assert.NotContains(t, ref, "O")
		seen[ref] = true
	}
	assert.Greater(t, len(seen), 190)
}

func TestCreateBooking_ReferenceFailureReleasesSeats(t *testing.T) {
	fx := newFixture(t, 10, 4, nil)
	entropy := errors.New("entropy exhausted")
	withReferenceGenerator(func() (string, error) { return "", entropy })(fx.service)

	_, err := fx.service.CreateBooking(context.Background(), fx.input(passenger("Ivan", "")))
	assert.ErrorIs(t, err, entropy)
	assert.Equal(t, 10, fx.available(t, domain.CabinEconomy))
}
