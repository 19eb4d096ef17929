package repository

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
)

const defaultMaxCASAttempts = 32

// bucketState is immutable; every reserve or release swaps in a new one.
type bucketState struct {
	available int
	version   uint64
}

type memBucket struct {
	capacity int
	state    atomic.Pointer[bucketState]
}

type memFlight struct {
	flight  domain.Flight
	buckets map[domain.CabinClass]*memBucket
}

// MemoryFlightRepository keeps seat buckets in process. Each bucket is
// updated with a compare-and-swap on a versioned snapshot, so concurrent
// reserves on the same bucket never block each other and never oversell.
type MemoryFlightRepository struct {
	mu          sync.RWMutex
	flights     map[int64]*memFlight
	nextID      int64
	maxAttempts int
}

type MemoryOption func(*MemoryFlightRepository)

// WithMaxCASAttempts bounds how many times a bucket update is retried
// before giving up with a contention error.
func WithMaxCASAttempts(n int) MemoryOption {
	return func(r *MemoryFlightRepository) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func NewMemoryFlightRepository(opts ...MemoryOption) *MemoryFlightRepository {
	r := &MemoryFlightRepository{
		flights:     make(map[int64]*memFlight),
		maxAttempts: defaultMaxCASAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryFlightRepository) List(_ context.Context) ([]domain.Flight, error) {
	r.mu.RLock()
	flights := make([]domain.Flight, 0, len(r.flights))
	for _, f := range r.flights {
		flights = append(flights, f.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(flights, func(i, j int) bool {
		if flights[i].DepartureTime.Equal(flights[j].DepartureTime) {
			return flights[i].ID < flights[j].ID
		}
		return flights[i].DepartureTime.Before(flights[j].DepartureTime)
	})
	return flights, nil
}

func (r *MemoryFlightRepository) GetByID(_ context.Context, id int64) (*domain.Flight, error) {
	r.mu.RLock()
	f, ok := r.flights[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.FlightNotFound(id)
	}
	snap := f.snapshot()
	return &snap, nil
}

func (r *MemoryFlightRepository) Create(_ context.Context, flight *domain.Flight) error {
	seen := make(map[domain.CabinClass]bool, len(flight.Cabins))
	for _, c := range flight.Cabins {
		if seen[c.Class] {
			return fmt.Errorf("insert cabin %s: duplicate class", c.Class)
		}
		seen[c.Class] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	flight.ID = r.nextID
	now := time.Now().UTC()
	flight.CreatedAt, flight.UpdatedAt = now, now

	mf := &memFlight{buckets: make(map[domain.CabinClass]*memBucket, len(flight.Cabins))}
	for i := range flight.Cabins {
		c := &flight.Cabins[i]
		c.Available = c.Capacity
		b := &memBucket{capacity: c.Capacity}
		b.state.Store(&bucketState{available: c.Capacity})
		mf.buckets[c.Class] = b
	}
	mf.flight = *flight
	mf.flight.Cabins = append([]domain.CabinInventory(nil), flight.Cabins...)
	r.flights[flight.ID] = mf
	return nil
}

func (r *MemoryFlightRepository) ReserveSeats(_ context.Context, flightID int64, cabin domain.CabinClass, count int) error {
	b, err := r.bucket(flightID, cabin)
	if err != nil {
		return err
	}
	return r.update(b, fmt.Sprintf("reserve %d/%s", flightID, cabin), func(cur *bucketState) (int, error) {
		if cur.available < count {
			return 0, domain.InsufficientSeats(flightID, cabin, count, cur.available)
		}
		return cur.available - count, nil
	})
}

func (r *MemoryFlightRepository) ReleaseSeats(_ context.Context, flightID int64, cabin domain.CabinClass, count int) error {
	b, err := r.bucket(flightID, cabin)
	if err != nil {
		return err
	}
	return r.update(b, fmt.Sprintf("release %d/%s", flightID, cabin), func(cur *bucketState) (int, error) {
		if cur.available+count > b.capacity {
			return 0, domain.OverRelease(flightID, cabin, count, cur.available, b.capacity)
		}
		return cur.available + count, nil
	})
}

func (r *MemoryFlightRepository) update(b *memBucket, op string, next func(*bucketState) (int, error)) error {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		cur := b.state.Load()
		available, err := next(cur)
		if err != nil {
			return err
		}
		if b.state.CompareAndSwap(cur, &bucketState{available: available, version: cur.version + 1}) {
			return nil
		}
		runtime.Gosched()
	}
	return domain.Contention(op, fmt.Errorf("gave up after %d attempts", r.maxAttempts))
}

func (r *MemoryFlightRepository) bucket(flightID int64, cabin domain.CabinClass) (*memBucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flights[flightID]
	if !ok {
		return nil, domain.FlightNotFound(flightID)
	}
	b, ok := f.buckets[cabin]
	if !ok {
		return nil, domain.NotFound("cabin %s on flight %d", cabin, flightID)
	}
	return b, nil
}

func (f *memFlight) snapshot() domain.Flight {
	out := f.flight
	out.Cabins = make([]domain.CabinInventory, 0, len(f.flight.Cabins))
	for _, c := range f.flight.Cabins {
		c.Available = f.buckets[c.Class].state.Load().available
		out.Cabins = append(out.Cabins, c)
	}
	return out
}

// MemoryBookingRepository stores deep copies so callers can never mutate
// stored state through a returned pointer.
type MemoryBookingRepository struct {
	mu          sync.RWMutex
	bookings    map[string]*domain.Booking
	idempotency map[string]string
}

func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings:    make(map[string]*domain.Booking),
		idempotency: make(map[string]string),
	}
}

func idempotencyIndex(userID, key string) string {
	return userID + "\x00" + key
}

func (r *MemoryBookingRepository) Create(_ context.Context, booking *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bookings[booking.Reference]; ok {
		return fmt.Errorf("insert booking %s: %w", booking.Reference, ErrDuplicateReference)
	}
	if booking.IdempotencyKey != "" {
		idx := idempotencyIndex(booking.UserID, booking.IdempotencyKey)
		if _, ok := r.idempotency[idx]; ok {
			return domain.InvalidState(booking.Reference, "", "idempotency key %q already used", booking.IdempotencyKey)
		}
		r.idempotency[idx] = booking.Reference
	}
	booking.UpdatedAt = booking.CreatedAt
	r.bookings[booking.Reference] = copyBooking(booking)
	return nil
}

func (r *MemoryBookingRepository) GetByReference(_ context.Context, reference string) (*domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[reference]
	if !ok {
		return nil, domain.NotFound("booking %s", reference)
	}
	return copyBooking(b), nil
}

func (r *MemoryBookingRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Booking, error) {
	r.mu.RLock()
	ref, ok := r.idempotency[idempotencyIndex(userID, key)]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NotFound("booking with idempotency key %s", key)
	}
	return r.GetByReference(ctx, ref)
}

func (r *MemoryBookingRepository) ListByUser(_ context.Context, userID string) ([]domain.Booking, error) {
	return r.filter(func(b *domain.Booking) bool { return b.UserID == userID }, func(a, b *domain.Booking) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}, 0), nil
}

func (r *MemoryBookingRepository) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	return r.filter(func(b *domain.Booking) bool { return b.Expired(now) }, func(a, b *domain.Booking) bool {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}, limit), nil
}

func (r *MemoryBookingRepository) filter(keep func(*domain.Booking) bool, less func(a, b *domain.Booking) bool, limit int) []domain.Booking {
	r.mu.RLock()
	matched := make([]*domain.Booking, 0)
	for _, b := range r.bookings {
		if keep(b) {
			matched = append(matched, b)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]domain.Booking, 0, len(matched))
	for _, b := range matched {
		out = append(out, *copyBooking(b))
	}
	r.mu.RUnlock()
	return out
}

func (r *MemoryBookingRepository) Transition(_ context.Context, t BookingTransition) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[t.Reference]
	if !ok {
		return nil, domain.NotFound("booking %s", t.Reference)
	}
	if b.Status != t.From {
		return nil, statusConflict(t.Reference, b.Status)
	}

	b.Status = t.To
	b.CancelReason = t.Reason
	b.UpdatedAt = t.At
	for i := range b.Tickets {
		b.Tickets[i].Status = t.TicketStatus
		b.Tickets[i].UpdatedAt = t.At
	}
	return copyBooking(b), nil
}

func copyBooking(b *domain.Booking) *domain.Booking {
	out := *b
	out.Tickets = make([]domain.Ticket, len(b.Tickets))
	for i, t := range b.Tickets {
		if t.Passenger.DateOfBirth != nil {
			dob := *t.Passenger.DateOfBirth
			t.Passenger.DateOfBirth = &dob
		}
		out.Tickets[i] = t
	}
	return &out
}

type MemoryPaymentRepository struct {
	mu           sync.RWMutex
	payments     map[string]*domain.Payment
	transactions map[string]string
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		payments:     make(map[string]*domain.Payment),
		transactions: make(map[string]string),
	}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.transactions[p.TransactionID]; ok {
		return fmt.Errorf("insert payment: transaction %s already exists", p.TransactionID)
	}
	for _, existing := range r.payments {
		if existing.BookingReference == p.BookingReference && existing.Status.Active() {
			return domain.InvalidState(p.BookingReference, "", "booking already has an active payment")
		}
	}
	p.UpdatedAt = p.CreatedAt
	r.payments[p.ID] = copyPayment(p)
	r.transactions[p.TransactionID] = p.ID
	return nil
}

func (r *MemoryPaymentRepository) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.NotFound("payment %s", id)
	}
	return copyPayment(p), nil
}

func (r *MemoryPaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	r.mu.RLock()
	id, ok := r.transactions[transactionID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NotFound("transaction %s", transactionID)
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryPaymentRepository) ListByBooking(_ context.Context, reference string) ([]domain.Payment, error) {
	r.mu.RLock()
	out := make([]domain.Payment, 0)
	for _, p := range r.payments {
		if p.BookingReference == reference {
			out = append(out, *copyPayment(p))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryPaymentRepository) Update(_ context.Context, p *domain.Payment, from domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.payments[p.ID]
	if !ok {
		return domain.NotFound("payment %s", p.ID)
	}
	if current.Status != from {
		return domain.InvalidState(current.BookingReference, string(current.Status), "payment %s status changed", p.ID)
	}
	r.payments[p.ID] = copyPayment(p)
	return nil
}

func copyPayment(p *domain.Payment) *domain.Payment {
	out := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	if p.RefundedAt != nil {
		t := *p.RefundedAt
		out.RefundedAt = &t
	}
	return &out
}

var (
	_ FlightRepository  = (*MemoryFlightRepository)(nil)
	_ BookingRepository = (*MemoryBookingRepository)(nil)
	_ PaymentRepository = (*MemoryPaymentRepository)(nil)
)
