package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Domenick1991/airreserve/config"
	"github.com/Domenick1991/airreserve/internal/cache"
	"github.com/Domenick1991/airreserve/internal/kafka"
	"github.com/Domenick1991/airreserve/internal/lock"
	"github.com/Domenick1991/airreserve/internal/repository"
	"github.com/Domenick1991/airreserve/internal/service/booking"
	"github.com/Domenick1991/airreserve/internal/service/flights"
	"github.com/Domenick1991/airreserve/internal/service/inventory"
	"github.com/Domenick1991/airreserve/internal/service/payment"
	"github.com/Domenick1991/airreserve/internal/service/reclaimer"
	"github.com/jackc/pgx/v5/pgxpool"
)

// App holds the assembled services shared by the API and worker binaries.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Flights  *flights.FlightService
	Bookings *booking.BookingService
	Payments *payment.PaymentService

	bookingRepo repository.BookingRepository
	producer    *kafka.Producer
	notifier    *kafka.Notifier
	closers     []func() error
}

// NewApp connects the configured storage, lock and messaging backends and
// wires the services on top of them.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	flightRepo, bookingRepo, paymentRepo, err := app.storage(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.bookingRepo = bookingRepo

	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		redisCache = cache.NewRedisCache(cfg.Redis, cfg.Booking.FlightsCacheDuration())
		app.closers = append(app.closers, redisCache.Close)
		if err := redisCache.Ping(ctx); err != nil {
			if cfg.Lock.Driver == config.LockDriverRedis {
				app.Close()
				return nil, fmt.Errorf("connect redis: %w", err)
			}
			logger.Warn("redis unavailable, flights cache disabled", "error", err)
			redisCache = nil
		}
	}

	var locker lock.Locker
	switch cfg.Lock.Driver {
	case config.LockDriverRedis:
		if redisCache == nil {
			app.Close()
			return nil, errors.New("lock.driver redis requires redis.addr")
		}
		locker = lock.NewRedisLocker(redisCache, cfg.Lock.TTL(), cfg.Lock.WaitTimeout(), cfg.Lock.RetryDelay(),
			lock.WithLogger(logger))
	default:
		locker = lock.NewLocalLocker(cfg.Lock.WaitTimeout())
	}

	bookingOpts := []booking.BookingServiceOption{
		booking.WithHoldTTL(cfg.Booking.HoldTTL()),
		booking.WithMaxPassengers(cfg.Booking.MaxPassengers),
		booking.WithLogger(logger),
	}
	paymentOpts := []payment.PaymentServiceOption{payment.WithLogger(logger)}
	if cfg.Payments.CardFingerprintKey != "" {
		paymentOpts = append(paymentOpts, payment.WithFingerprintKey([]byte(cfg.Payments.CardFingerprintKey)))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		app.producer = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		app.notifier = kafka.NewNotifier(app.producer, cfg.Kafka.BookingEventsTopic, cfg.Kafka.NotificationsTopic,
			kafka.WithNotifierLogger(logger))
		bookingOpts = append(bookingOpts, booking.WithNotifier(app.notifier))
		paymentOpts = append(paymentOpts, payment.WithNotifier(app.notifier))
	}

	var flightCache flights.FlightCache
	if redisCache != nil {
		flightCache = redisCache
	}
	app.Flights = flights.NewFlightService(flightRepo, flightCache, flights.WithLogger(logger))

	seats := inventory.NewSeatInventory(flightRepo, inventory.WithLogger(logger))
	app.Bookings = booking.NewBookingService(flightRepo, bookingRepo, seats, locker, bookingOpts...)
	app.Payments = payment.NewPaymentService(bookingRepo, paymentRepo, app.Bookings, locker,
		[]byte(cfg.Payments.SigningSecret), paymentOpts...)

	logger.Info("services ready",
		"storage", cfg.Storage.Driver, "lock", cfg.Lock.Driver,
		"flights_cache", redisCache != nil, "events", app.notifier != nil)
	return app, nil
}

func (a *App) storage(ctx context.Context) (repository.FlightRepository, repository.BookingRepository, repository.PaymentRepository, error) {
	if a.Config.Storage.Driver == config.StorageDriverMemory {
		a.Logger.Warn("using in-memory storage, data is lost on restart")
		return repository.NewMemoryFlightRepository(repository.WithMaxCASAttempts(a.Config.Inventory.MaxCASAttempts)),
			repository.NewMemoryBookingRepository(),
			repository.NewMemoryPaymentRepository(),
			nil
	}

	pool, err := pgxpool.New(ctx, a.Config.Database.DSN())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	if err := pool.Ping(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		return nil, nil, nil, err
	}
	return repository.NewFlightRepository(pool),
		repository.NewBookingRepository(pool),
		repository.NewPaymentRepository(pool),
		nil
}

// Reclaimer returns the expiration sweep configured from worker settings.
func (a *App) Reclaimer() *reclaimer.Reclaimer {
	return reclaimer.New(a.bookingRepo, a.Bookings,
		reclaimer.WithInterval(a.Config.Worker.SweepInterval()),
		reclaimer.WithBatchSize(a.Config.Worker.BatchSize),
		reclaimer.WithConcurrency(a.Config.Worker.Concurrency),
		reclaimer.WithLogger(a.Logger),
	)
}

// ReclaimsInProcess reports whether expired holds must be swept by the API
// process itself. In-memory bookings are invisible to a separate worker.
func (a *App) ReclaimsInProcess() bool {
	return a.Config.Storage.Driver == config.StorageDriverMemory
}

// Close waits for pending notifications and releases connections in
// reverse order of acquisition.
func (a *App) Close() error {
	if a.notifier != nil {
		a.notifier.Wait()
	}
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
