// Package inventory mediates every change to per-cabin seat counts. Callers
// never write available counts directly; they reserve and release through
// SeatInventory, which records outcomes and undoes partial multi-cabin
// reservations.
package inventory

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/metrics"
)

// Store performs one atomic conditional update on a (flight, cabin) bucket.
type Store interface {
	ReserveSeats(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error
	ReleaseSeats(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error
}

type SeatInventory struct {
	store  Store
	logger *slog.Logger
}

type Option func(*SeatInventory)

func WithLogger(logger *slog.Logger) Option {
	return func(s *SeatInventory) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSeatInventory(store Store, opts ...Option) *SeatInventory {
	s := &SeatInventory{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SeatInventory) Reserve(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error {
	if err := validate(cabin, count); err != nil {
		return err
	}
	err := s.store.ReserveSeats(ctx, flightID, cabin, count)
	metrics.SeatOperation("reserve", string(cabin), outcome(err))
	return err
}

// Release returns seats to a bucket. Releasing more than was reserved is a
// double release and fails without touching the bucket.
func (s *SeatInventory) Release(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error {
	if err := validate(cabin, count); err != nil {
		return err
	}
	err := s.store.ReleaseSeats(ctx, flightID, cabin, count)
	metrics.SeatOperation("release", string(cabin), outcome(err))
	if err != nil && domain.KindOf(err) == domain.KindInvalidState {
		s.logger.ErrorContext(ctx, "seat release rejected", "flight_id", flightID, "cabin", cabin, "count", count, "error", err)
	}
	return err
}

// ReserveAll reserves every group or none. Groups are tried in order; when
// one fails the groups already taken are released and the failure of the
// first failing group is returned.
func (s *SeatInventory) ReserveAll(ctx context.Context, flightID int64, groups []domain.SeatCount) error {
	if len(groups) == 0 {
		return domain.Validation("no seats requested")
	}
	seen := make(map[domain.CabinClass]bool, len(groups))
	for _, g := range groups {
		if err := validate(g.Class, g.Count); err != nil {
			return err
		}
		if seen[g.Class] {
			return domain.Validation("cabin %s requested twice", g.Class)
		}
		seen[g.Class] = true
	}

	for i, g := range groups {
		err := s.Reserve(ctx, flightID, g.Class, g.Count)
		if err == nil {
			continue
		}
		if i > 0 {
			// Compensation must run even if the caller has gone away.
			if rbErr := s.ReleaseAll(context.WithoutCancel(ctx), flightID, groups[:i]); rbErr != nil {
				s.logger.ErrorContext(ctx, "rollback of partial reservation failed",
					"flight_id", flightID, "error", rbErr)
				return errors.Join(err, rbErr)
			}
			s.logger.InfoContext(ctx, "partial reservation rolled back",
				"flight_id", flightID, "failed_cabin", g.Class, "rolled_back", i)
		}
		return err
	}
	return nil
}

// ReleaseAll attempts every group even if an earlier one fails.
func (s *SeatInventory) ReleaseAll(ctx context.Context, flightID int64, groups []domain.SeatCount) error {
	var errs []error
	for i := len(groups) - 1; i >= 0; i-- {
		if err := s.Release(ctx, flightID, groups[i].Class, groups[i].Count); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validate(cabin domain.CabinClass, count int) error {
	if !cabin.Valid() {
		return domain.Validation("unknown cabin class %q", cabin)
	}
	if count <= 0 {
		return domain.Validation("seat count must be positive, got %d", count)
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := domain.KindOf(err); kind != "" {
		return strings.ToLower(string(kind))
	}
	return "error"
}
