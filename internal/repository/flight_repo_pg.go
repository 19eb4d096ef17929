package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGFlightRepository struct {
	db *pgxpool.Pool
}

func NewFlightRepository(db *pgxpool.Pool) FlightRepository {
	return &PGFlightRepository{db: db}
}

const flightColumns = `id, number, from_airport, to_airport, departure_time, arrival_time, created_at, updated_at`

func (r *PGFlightRepository) List(ctx context.Context) ([]domain.Flight, error) {
	rows, err := r.db.Query(ctx, `SELECT `+flightColumns+` FROM flights ORDER BY departure_time`)
	if err != nil {
		return nil, err
	}
	flights, err := pgx.CollectRows(rows, scanFlight)
	if err != nil {
		return nil, err
	}
	if len(flights) == 0 {
		return flights, nil
	}

	ids := make([]int64, len(flights))
	for i := range flights {
		ids[i] = flights[i].ID
	}
	cabins, err := r.cabins(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range flights {
		flights[i].Cabins = cabins[flights[i].ID]
	}
	return flights, nil
}

func (r *PGFlightRepository) GetByID(ctx context.Context, id int64) (*domain.Flight, error) {
	rows, err := r.db.Query(ctx, `SELECT `+flightColumns+` FROM flights WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	f, err := pgx.CollectExactlyOneRow(rows, scanFlight)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.FlightNotFound(id)
		}
		return nil, err
	}

	cabins, err := r.cabins(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	f.Cabins = cabins[id]
	return &f, nil
}

func (r *PGFlightRepository) Create(ctx context.Context, flight *domain.Flight) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `INSERT INTO flights (number, from_airport, to_airport, departure_time, arrival_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		flight.Number, flight.FromAirport, flight.ToAirport, flight.DepartureTime, flight.ArrivalTime).
		Scan(&flight.ID, &flight.CreatedAt, &flight.UpdatedAt); err != nil {
		return fmt.Errorf("insert flight: %w", err)
	}

	for i := range flight.Cabins {
		c := &flight.Cabins[i]
		c.Available = c.Capacity
		if _, err := tx.Exec(ctx, `INSERT INTO flight_cabins (flight_id, cabin_class, capacity, available, price_cents)
			VALUES ($1, $2, $3, $3, $4)`, flight.ID, c.Class, c.Capacity, toCents(c.Price)); err != nil {
			return fmt.Errorf("insert cabin %s: %w", c.Class, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PGFlightRepository) ReserveSeats(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error {
	var available int
	err := r.db.QueryRow(ctx, `UPDATE flight_cabins
		SET available = available - $3, version = version + 1, updated_at = now()
		WHERE flight_id = $1 AND cabin_class = $2 AND available >= $3
		RETURNING available`, flightID, cabin, count).Scan(&available)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return mapPgError(fmt.Sprintf("reserve %d/%s", flightID, cabin), err)
	}

	_, available, err = r.bucket(ctx, flightID, cabin)
	if err != nil {
		return err
	}
	return domain.InsufficientSeats(flightID, cabin, count, available)
}

func (r *PGFlightRepository) ReleaseSeats(ctx context.Context, flightID int64, cabin domain.CabinClass, count int) error {
	var available int
	err := r.db.QueryRow(ctx, `UPDATE flight_cabins
		SET available = available + $3, version = version + 1, updated_at = now()
		WHERE flight_id = $1 AND cabin_class = $2 AND available + $3 <= capacity
		RETURNING available`, flightID, cabin, count).Scan(&available)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return mapPgError(fmt.Sprintf("release %d/%s", flightID, cabin), err)
	}

	capacity, available, err := r.bucket(ctx, flightID, cabin)
	if err != nil {
		return err
	}
	return domain.OverRelease(flightID, cabin, count, available, capacity)
}

func (r *PGFlightRepository) bucket(ctx context.Context, flightID int64, cabin domain.CabinClass) (capacity, available int, err error) {
	err = r.db.QueryRow(ctx, `SELECT capacity, available FROM flight_cabins WHERE flight_id=$1 AND cabin_class=$2`, flightID, cabin).
		Scan(&capacity, &available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, domain.NotFound("cabin %s on flight %d", cabin, flightID)
	}
	return capacity, available, err
}

func (r *PGFlightRepository) cabins(ctx context.Context, flightIDs []int64) (map[int64][]domain.CabinInventory, error) {
	rows, err := r.db.Query(ctx, `SELECT flight_id, cabin_class, capacity, available, price_cents
		FROM flight_cabins WHERE flight_id = ANY($1)
		ORDER BY flight_id, array_position(ARRAY['ECONOMY','BUSINESS','FIRST'], cabin_class)`, flightIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64][]domain.CabinInventory, len(flightIDs))
	for rows.Next() {
		var (
			flightID int64
			c        domain.CabinInventory
			cents    int64
		)
		if err := rows.Scan(&flightID, &c.Class, &c.Capacity, &c.Available, &cents); err != nil {
			return nil, err
		}
		c.Price = fromCents(cents)
		result[flightID] = append(result[flightID], c)
	}
	return result, rows.Err()
}

func scanFlight(row pgx.CollectableRow) (domain.Flight, error) {
	var f domain.Flight
	err := row.Scan(&f.ID, &f.Number, &f.FromAirport, &f.ToAirport, &f.DepartureTime, &f.ArrivalTime, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

var _ FlightRepository = (*PGFlightRepository)(nil)
