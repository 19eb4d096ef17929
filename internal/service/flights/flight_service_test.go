package flights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFlightRepository struct {
	mock.Mock
}

func (m *MockFlightRepository) List(ctx context.Context) ([]domain.Flight, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Flight), args.Error(1)
}

func (m *MockFlightRepository) GetByID(ctx context.Context, id int64) (*domain.Flight, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Flight), args.Error(1)
}

func (m *MockFlightRepository) Create(ctx context.Context, flight *domain.Flight) error {
	args := m.Called(ctx, flight)
	if args.Error(0) == nil {
		flight.ID = 11
	}
	return args.Error(0)
}

func (m *MockFlightRepository) ReserveSeats(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error {
	return m.Called(ctx, flightID, cabin, count).Error(0)
}

func (m *MockFlightRepository) ReleaseSeats(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error {
	return m.Called(ctx, flightID, cabin, count).Error(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetFlights(ctx context.Context) ([]domain.Flight, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Flight), args.Error(1)
}

func (m *MockCache) SetFlights(ctx context.Context, flights []domain.Flight) error {
	args := m.Called(ctx, flights)
	return args.Error(0)
}

func (m *MockCache) InvalidateFlights(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func sampleFlights() []domain.Flight {
	departure := time.Date(2026, 11, 3, 7, 40, 0, 0, time.UTC)
	return []domain.Flight{
		{
			ID:            4,
			Number:        "SU30",
			FromAirport:   "SVO",
			ToAirport:     "LED",
			DepartureTime: departure,
			ArrivalTime:   departure.Add(time.Hour + 25*time.Minute),
			Cabins: []domain.CabinInventory{
				{Class: domain.CabinEconomy, Capacity: 150, Available: 149, Price: decimal.NewFromInt(5000)},
			},
		},
	}
}

func TestFlightService_List_CacheMiss(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	mockCache := &MockCache{}
	service := NewFlightService(mockRepo, mockCache)
	ctx := context.Background()
	flights := sampleFlights()

	// Кэш пустой
	mockCache.On("GetFlights", ctx).Return(([]domain.Flight)(nil), nil).Once()
	mockRepo.On("List", ctx).Return(flights, nil).Once()
	mockCache.On("SetFlights", ctx, flights).Return(nil).Once()

	result, err := service.List(ctx)

	assert.NoError(t, err)
	assert.Equal(t, flights, result)
	mockCache.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

func TestFlightService_List_CacheHit(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	mockCache := &MockCache{}
	service := NewFlightService(mockRepo, mockCache)
	ctx := context.Background()
	flights := sampleFlights()

	// Данные есть в кэше
	mockCache.On("GetFlights", ctx).Return(flights, nil).Once()

	result, err := service.List(ctx)

	assert.NoError(t, err)
	assert.Equal(t, flights, result)
	mockRepo.AssertNotCalled(t, "List", mock.Anything)
	mockCache.AssertNotCalled(t, "SetFlights", mock.Anything, mock.Anything)
}

func TestFlightService_List_CacheError(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	mockCache := &MockCache{}
	service := NewFlightService(mockRepo, mockCache)
	ctx := context.Background()
	flights := sampleFlights()

	mockCache.On("GetFlights", ctx).Return(([]domain.Flight)(nil), errors.New("cache error")).Once()
	mockRepo.On("List", ctx).Return(flights, nil).Once()
	mockCache.On("SetFlights", ctx, flights).Return(errors.New("cache error")).Once()

	result, err := service.List(ctx)

	assert.NoError(t, err)
	assert.Equal(t, flights, result)
	mockCache.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

func TestFlightService_List_RepositoryError(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	mockCache := &MockCache{}
	service := NewFlightService(mockRepo, mockCache)
	ctx := context.Background()

	expectedErr := errors.New("database error")
	mockCache.On("GetFlights", ctx).Return(([]domain.Flight)(nil), nil).Once()
	mockRepo.On("List", ctx).Return([]domain.Flight{}, expectedErr).Once()

	result, err := service.List(ctx)

	assert.Nil(t, result)
	assert.Equal(t, expectedErr, err)
	mockCache.AssertNotCalled(t, "SetFlights", mock.Anything, mock.Anything)
}

func TestFlightService_GetByID(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	service := NewFlightService(mockRepo, nil)
	ctx := context.Background()
	flight := &sampleFlights()[0]

	mockRepo.On("GetByID", ctx, int64(4)).Return(flight, nil).Once()
	mockRepo.On("GetByID", ctx, int64(999)).Return(nil, domain.FlightNotFound(999)).Once()

	result, err := service.GetByID(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, flight, result)

	result, err = service.GetByID(ctx, 999)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrFlightNotFound)
}

func TestFlightService_NoCache(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	service := NewFlightService(mockRepo, nil)
	ctx := context.Background()
	flights := sampleFlights()

	// Должен вызываться только репозиторий
	mockRepo.On("List", ctx).Return(flights, nil).Once()

	result, err := service.List(ctx)

	assert.NoError(t, err)
	assert.Equal(t, flights, result)
	mockRepo.AssertExpectations(t)
}

func validInput() CreateFlightInput {
	departure := time.Date(2026, 12, 20, 22, 15, 0, 0, time.UTC)
	return CreateFlightInput{
		Number:        " su1124 ",
		FromAirport:   "svo",
		ToAirport:     "IKT",
		DepartureTime: departure,
		ArrivalTime:   departure.Add(5*time.Hour + 50*time.Minute),
		Cabins: []CabinInput{
			{Class: domain.CabinBusiness, Capacity: 12, Price: decimal.NewFromInt(61000)},
			{Class: domain.CabinEconomy, Capacity: 150, Price: decimal.NewFromInt(18500)},
		},
	}
}

func TestFlightService_Create(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	mockCache := &MockCache{}
	service := NewFlightService(mockRepo, mockCache)
	ctx := context.Background()

	mockRepo.On("Create", ctx, mock.MatchedBy(func(f *domain.Flight) bool {
		return f.Number == "SU1124" && f.FromAirport == "SVO" && len(f.Cabins) == 2 &&
			f.Cabins[0].Class == domain.CabinEconomy && f.Cabins[0].Available == 150
	})).Return(nil).Once()
	mockCache.On("InvalidateFlights", ctx).Return(nil).Once()

	flight, err := service.Create(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, int64(11), flight.ID)
	assert.Equal(t, 162, flight.TotalSeats())
	assert.Equal(t, 162, flight.AvailableSeats())
	mockRepo.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestFlightService_CreateValidation(t *testing.T) {
	service := NewFlightService(&MockFlightRepository{}, nil)

	tests := []struct {
		name   string
		modify func(*CreateFlightInput)
	}{
		{"no number", func(in *CreateFlightInput) { in.Number = " " }},
		{"bad airport", func(in *CreateFlightInput) { in.ToAirport = "IRKT" }},
		{"same airports", func(in *CreateFlightInput) { in.ToAirport = "SVO" }},
		{"arrives before departure", func(in *CreateFlightInput) { in.ArrivalTime = in.DepartureTime.Add(-time.Hour) }},
		{"no cabins", func(in *CreateFlightInput) { in.Cabins = nil }},
		{"unknown cabin", func(in *CreateFlightInput) { in.Cabins[0].Class = "PREMIUM" }},
		{"duplicate cabin", func(in *CreateFlightInput) { in.Cabins[1].Class = domain.CabinBusiness }},
		{"zero capacity", func(in *CreateFlightInput) { in.Cabins[0].Capacity = 0 }},
		{"negative price", func(in *CreateFlightInput) { in.Cabins[0].Price = decimal.NewFromInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.modify(&in)
			_, err := service.Create(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}
