// Package reclaimer runs the periodic sweep that expires PENDING bookings
// whose hold window has passed and returns their seats.
package reclaimer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Domenick1991/airreserve/internal/clock"
	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/metrics"
	"golang.org/x/sync/errgroup"
)

type Lister interface {
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
}

type Expirer interface {
	ExpireBooking(ctx context.Context, reference string) (*domain.Booking, error)
}

// Summary reports one sweep. Skipped counts bookings that another actor
// moved out of PENDING between the scan and the expiry.
type Summary struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
	Errors  []error
}

type Reclaimer struct {
	bookings    Lister
	expirer     Expirer
	clock       clock.Clock
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	concurrency int
}

type Option func(*Reclaimer)

func WithClock(c clock.Clock) Option {
	return func(r *Reclaimer) { r.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reclaimer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Reclaimer) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Reclaimer) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(r *Reclaimer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func New(bookings Lister, expirer Expirer, opts ...Option) *Reclaimer {
	r := &Reclaimer{
		bookings:    bookings,
		expirer:     expirer,
		clock:       clock.Real(),
		logger:      slog.Default(),
		interval:    time.Minute,
		batchSize:   100,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce expires every overdue booking in one batch. Bookings are handled
// independently; a failure on one is recorded in the summary and never
// stops the others. The returned error is set only when the scan itself
// fails.
func (r *Reclaimer) RunOnce(ctx context.Context) (Summary, error) {
	started := time.Now()
	now := r.clock.Now()

	due, err := r.bookings.ListExpiredPending(ctx, now, r.batchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("list expired bookings: %w", err)
	}

	summary := Summary{Scanned: len(due)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, b := range due {
		reference := b.Reference
		g.Go(func() error {
			_, err := r.expirer.ExpireBooking(gctx, reference)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Expired++
			case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrNotFound):
				summary.Skipped++
				r.logger.DebugContext(ctx, "booking left pending before expiry", "reference", reference, "error", err)
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Errorf("%s: %w", reference, err))
				r.logger.ErrorContext(ctx, "failed to expire booking", "reference", reference, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.ReclaimerRun(time.Since(started), summary.Expired, summary.Skipped, summary.Failed)
	if summary.Scanned > 0 {
		r.logger.InfoContext(ctx, "expiration sweep finished",
			"scanned", summary.Scanned, "expired", summary.Expired,
			"skipped", summary.Skipped, "failed", summary.Failed)
	}
	return summary, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "reclaimer started", "interval", r.interval, "batch_size", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reclaimer stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "expiration sweep failed", "error", err)
			}
		}
	}
}
