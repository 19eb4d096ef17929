package repository

import (
	"context"
	"fmt"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGPaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &PGPaymentRepository{db: db}
}

const paymentColumns = `id, transaction_id, booking_reference, amount_cents, method, status, card_last4, card_fingerprint,
	gateway_reference, failure_reason, created_at, updated_at, completed_at, refunded_at`

func (r *PGPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payments (id, transaction_id, booking_reference, amount_cents, method, status,
		card_last4, card_fingerprint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		p.ID, p.TransactionID, p.BookingReference, toCents(p.Amount), p.Method, p.Status, p.CardLast4, p.CardFingerprint, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "payments_one_active") {
			return domain.InvalidState(p.BookingReference, "", "booking already has an active payment")
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	p.UpdatedAt = p.CreatedAt
	return nil
}

func (r *PGPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, "payment "+id, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id)
}

func (r *PGPaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return r.getOne(ctx, "transaction "+transactionID, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id=$1`, transactionID)
}

func (r *PGPaymentRepository) ListByBooking(ctx context.Context, reference string) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_reference=$1 ORDER BY created_at`, reference)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPayment)
}

func (r *PGPaymentRepository) Update(ctx context.Context, p *domain.Payment, from domain.PaymentStatus) error {
	cmd, err := r.db.Exec(ctx, `UPDATE payments
		SET status=$3, gateway_reference=$4, failure_reason=$5, completed_at=$6, refunded_at=$7, updated_at=$8
		WHERE id=$1 AND status=$2`,
		p.ID, from, p.Status, p.GatewayReference, p.FailureReason, p.CompletedAt, p.RefundedAt, p.UpdatedAt)
	if err != nil {
		return mapPgError("payment "+p.ID, err)
	}
	if cmd.RowsAffected() == 0 {
		current, err := r.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		return domain.InvalidState(current.BookingReference, string(current.Status), "payment %s status changed", p.ID)
	}
	return nil
}

func (r *PGPaymentRepository) getOne(ctx context.Context, what, query string, args ...any) (*domain.Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	payments, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, domain.NotFound("%s", what)
	}
	return &payments[0], nil
}

func scanPayment(row pgx.CollectableRow) (domain.Payment, error) {
	var (
		p     domain.Payment
		cents int64
	)
	err := row.Scan(&p.ID, &p.TransactionID, &p.BookingReference, &cents, &p.Method, &p.Status, &p.CardLast4,
		&p.CardFingerprint, &p.GatewayReference, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.RefundedAt)
	p.Amount = fromCents(cents)
	return p, err
}

var _ PaymentRepository = (*PGPaymentRepository)(nil)
