package flights

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/repository"
	"github.com/shopspring/decimal"
)

type FlightUseCase interface {
	List(ctx context.Context) ([]domain.Flight, error)
	GetByID(ctx context.Context, id int64) (*domain.Flight, error)
	Create(ctx context.Context, input CreateFlightInput) (*domain.Flight, error)
}

// FlightCache is a read-through cache for the flight list. A nil slice
// with a nil error is a miss.
type FlightCache interface {
	GetFlights(ctx context.Context) ([]domain.Flight, error)
	SetFlights(ctx context.Context, flights []domain.Flight) error
	InvalidateFlights(ctx context.Context) error
}

type FlightService struct {
	repo   repository.FlightRepository
	cache  FlightCache
	logger *slog.Logger
}

type CabinInput struct {
	Class    domain.CabinClass `json:"class"`
	Capacity int               `json:"capacity"`
	Price    decimal.Decimal   `json:"price"`
}

type CreateFlightInput struct {
	Number        string       `json:"number"`
	FromAirport   string       `json:"from_airport"`
	ToAirport     string       `json:"to_airport"`
	DepartureTime time.Time    `json:"departure_time"`
	ArrivalTime   time.Time    `json:"arrival_time"`
	Cabins        []CabinInput `json:"cabins"`
}

type Option func(*FlightService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *FlightService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFlightService accepts a nil cache; every call then goes to repo.
func NewFlightService(repo repository.FlightRepository, cache FlightCache, opts ...Option) *FlightService {
	s := &FlightService{repo: repo, cache: cache, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List may serve availability that is up to one cache TTL old. Bookings
// always reserve against the store, never against this list.
func (s *FlightService) List(ctx context.Context) ([]domain.Flight, error) {
	if s.cache != nil {
		cached, err := s.cache.GetFlights(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "flights cache read failed", "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	flights, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetFlights(ctx, flights); err != nil {
			s.logger.WarnContext(ctx, "flights cache write failed", "error", err)
		}
	}
	return flights, nil
}

func (s *FlightService) GetByID(ctx context.Context, id int64) (*domain.Flight, error) {
	return s.repo.GetByID(ctx, id)
}

// Create registers a flight with every cabin fully available.
func (s *FlightService) Create(ctx context.Context, input CreateFlightInput) (*domain.Flight, error) {
	if err := validateFlight(input); err != nil {
		return nil, err
	}

	flight := &domain.Flight{
		Number:        strings.ToUpper(strings.TrimSpace(input.Number)),
		FromAirport:   strings.ToUpper(input.FromAirport),
		ToAirport:     strings.ToUpper(input.ToAirport),
		DepartureTime: input.DepartureTime.UTC(),
		ArrivalTime:   input.ArrivalTime.UTC(),
	}
	for _, class := range domain.CabinClasses {
		for _, c := range input.Cabins {
			if c.Class == class {
				flight.Cabins = append(flight.Cabins, domain.CabinInventory{
					Class:     c.Class,
					Capacity:  c.Capacity,
					Available: c.Capacity,
					Price:     c.Price,
				})
			}
		}
	}

	if err := s.repo.Create(ctx, flight); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateFlights(ctx); err != nil {
			s.logger.WarnContext(ctx, "flights cache invalidation failed", "error", err)
		}
	}
	s.logger.InfoContext(ctx, "flight created", "flight_id", flight.ID, "number", flight.Number, "seats", flight.TotalSeats())
	return flight, nil
}

func validateFlight(input CreateFlightInput) error {
	if strings.TrimSpace(input.Number) == "" {
		return domain.Validation("flight number is required")
	}
	for _, code := range []string{input.FromAirport, input.ToAirport} {
		if len(code) != 3 {
			return domain.Validation("airport code %q must have three letters", code)
		}
	}
	if strings.EqualFold(input.FromAirport, input.ToAirport) {
		return domain.Validation("origin and destination must differ")
	}
	if input.DepartureTime.IsZero() || !input.ArrivalTime.After(input.DepartureTime) {
		return domain.Validation("arrival must be after departure")
	}
	if len(input.Cabins) == 0 {
		return domain.Validation("at least one cabin is required")
	}
	seen := make(map[domain.CabinClass]bool, len(input.Cabins))
	for _, c := range input.Cabins {
		if !c.Class.Valid() {
			return domain.Validation("unknown cabin class %q", c.Class)
		}
		if seen[c.Class] {
			return domain.Validation("cabin %s listed twice", c.Class)
		}
		seen[c.Class] = true
		if c.Capacity <= 0 {
			return domain.Validation("cabin %s capacity must be positive", c.Class)
		}
		if c.Price.IsNegative() {
			return domain.Validation("cabin %s price must not be negative", c.Class)
		}
	}
	return nil
}

var _ FlightUseCase = (*FlightService)(nil)
