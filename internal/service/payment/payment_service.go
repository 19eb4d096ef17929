package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
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
	"github.com/zeebo/blake3"
)

type PaymentUseCase interface {
	CreatePayment(ctx context.Context, input CreatePaymentInput) (*domain.Payment, error)
	ConfirmPayment(ctx context.Context, transactionID string, v Verification) (*domain.Payment, error)
	RefundPayment(ctx context.Context, paymentID, userID string) (*domain.Payment, error)
	GetPayment(ctx context.Context, paymentID, userID string) (*domain.Payment, error)
	ListPayments(ctx context.Context, reference, userID string) ([]domain.Payment, error)
}

// BookingLifecycle applies booking transitions on behalf of payments. Both
// methods expect the caller to hold the booking lock.
type BookingLifecycle interface {
	ConfirmLocked(ctx context.Context, booking *domain.Booking) (*domain.Booking, error)
	ExpireLocked(ctx context.Context, booking *domain.Booking) (*domain.Booking, error)
}

type Notifier interface {
	Notify(ctx context.Context, event kafka.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, kafka.Event) {}

const (
	GatewayStatusSuccess = "success"
	GatewayStatusFailed  = "failed"
)

type CardDetails struct {
	Number      string `json:"number"`
	Holder      string `json:"holder"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	CVV         string `json:"cvv"`
}

type CreatePaymentInput struct {
	BookingReference string               `json:"booking_reference"`
	UserID           string               `json:"-"`
	Amount           decimal.Decimal      `json:"amount"`
	Method           domain.PaymentMethod `json:"method"`
	Card             *CardDetails         `json:"card,omitempty"`
}

// Verification is the gateway callback for one transaction. Signature is
// hex(HMAC-SHA256(secret, transactionID|amount|status)).
type Verification struct {
	Status           string `json:"status"`
	GatewayReference string `json:"gateway_reference"`
	Signature        string `json:"signature"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

type PaymentService struct {
	bookings       repository.BookingRepository
	payments       repository.PaymentRepository
	lifecycle      BookingLifecycle
	locker         lock.Locker
	clock          clock.Clock
	notifier       Notifier
	logger         *slog.Logger
	signingSecret  []byte
	fingerprintKey []byte
}

type PaymentServiceOption func(*PaymentService)

func WithClock(c clock.Clock) PaymentServiceOption {
	return func(s *PaymentService) {
		s.clock = c
	}
}

func WithNotifier(n Notifier) PaymentServiceOption {
	return func(s *PaymentService) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithLogger(logger *slog.Logger) PaymentServiceOption {
	return func(s *PaymentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFingerprintKey sets the 32 byte key for card fingerprints. Without
// it fingerprints are unkeyed hashes.
func WithFingerprintKey(key []byte) PaymentServiceOption {
	return func(s *PaymentService) {
		s.fingerprintKey = key
	}
}

func NewPaymentService(
	bookings repository.BookingRepository,
	payments repository.PaymentRepository,
	lifecycle BookingLifecycle,
	locker lock.Locker,
	signingSecret []byte,
	opts ...PaymentServiceOption,
) *PaymentService {
	s := &PaymentService{
		bookings:      bookings,
		payments:      payments,
		lifecycle:     lifecycle,
		locker:        locker,
		clock:         clock.Real(),
		notifier:      nopNotifier{},
		logger:        slog.Default(),
		signingSecret: signingSecret,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePayment opens a PENDING payment for the full booking total.
func (s *PaymentService) CreatePayment(ctx context.Context, input CreatePaymentInput) (*domain.Payment, error) {
	if err := requireUser(input.UserID); err != nil {
		return nil, err
	}
	if !input.Method.Valid() {
		return nil, domain.Validation("unknown payment method %q", input.Method)
	}
	if !input.Amount.IsPositive() {
		return nil, domain.Validation("amount must be positive")
	}
	var last4, fingerprint string
	if input.Method == domain.PaymentMethodCard {
		if input.Card == nil {
			return nil, domain.Validation("card details are required for card payments")
		}
		number, err := validateCard(*input.Card, s.clock.Now())
		if err != nil {
			return nil, err
		}
		fp, err := s.fingerprint(number)
		if err != nil {
			return nil, err
		}
		last4, fingerprint = number[len(number)-4:], fp
	}

	unlock, err := s.locker.Lock(ctx, lock.BookingKey(input.BookingReference))
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking, err := s.ownedBooking(ctx, input.BookingReference, input.UserID)
	if err != nil {
		return nil, err
	}
	if booking.Status == domain.BookingStatusPending && booking.Expired(s.clock.Now()) {
		return nil, s.expire(ctx, booking)
	}
	switch booking.Status {
	case domain.BookingStatusPending:
	case domain.BookingStatusExpired:
		return nil, domain.BookingExpired(booking.Reference, string(booking.Status))
	default:
		return nil, domain.InvalidState(booking.Reference, string(booking.Status), "booking is not awaiting payment")
	}
	if !input.Amount.Equal(booking.TotalAmount) {
		return nil, domain.AmountMismatch(booking.Reference, booking.TotalAmount.StringFixed(2), input.Amount.StringFixed(2))
	}

	now := s.clock.Now()
	payment := &domain.Payment{
		ID:               uuid.NewString(),
		TransactionID:    "TXN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")),
		BookingReference: booking.Reference,
		Amount:           booking.TotalAmount,
		Method:           input.Method,
		Status:           domain.PaymentStatusPending,
		CardLast4:        last4,
		CardFingerprint:  fingerprint,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	metrics.PaymentEvent("created")
	s.logger.InfoContext(ctx, "payment created",
		"reference", booking.Reference, "payment_id", payment.ID, "method", payment.Method)
	return payment, nil
}

// ConfirmPayment applies the gateway verdict for a transaction. On success
// the payment passes through PROCESSING before the booking is confirmed so
// that a crash between the two steps is finished by the next retry.
func (s *PaymentService) ConfirmPayment(ctx context.Context, transactionID string, v Verification) (*domain.Payment, error) {
	payment, err := s.payments.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if v.Status != GatewayStatusSuccess && v.Status != GatewayStatusFailed {
		return nil, domain.Validation("unknown gateway status %q", v.Status)
	}
	if !s.verify(payment, v) {
		s.logger.WarnContext(ctx, "rejected gateway callback with bad signature", "payment_id", payment.ID)
		return nil, domain.Validation("invalid gateway signature")
	}

	unlock, err := s.locker.Lock(ctx, lock.BookingKey(payment.BookingReference))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; a concurrent callback may have moved it.
	payment, err = s.payments.GetByID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	booking, err := s.bookings.GetByReference(ctx, payment.BookingReference)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case domain.PaymentStatusPaid:
		if v.Status == GatewayStatusSuccess {
			return payment, nil
		}
		return nil, domain.InvalidState(booking.Reference, string(payment.Status), "payment %s is already paid", payment.ID)
	case domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
		return nil, domain.InvalidState(booking.Reference, string(payment.Status), "payment %s is closed", payment.ID)
	}

	if v.Status == GatewayStatusFailed {
		reason := v.FailureReason
		if reason == "" {
			reason = "declined by gateway"
		}
		if err := s.fail(ctx, payment, booking, reason); err != nil {
			return nil, err
		}
		return payment, nil
	}

	if payment.Status == domain.PaymentStatusPending {
		if err := s.update(ctx, payment, domain.PaymentStatusProcessing, func(p *domain.Payment) {
			p.GatewayReference = v.GatewayReference
		}); err != nil {
			return nil, err
		}
	}

	switch {
	case booking.Status == domain.BookingStatusConfirmed:
		// Recovery: the booking was confirmed but the payment never completed.
	case booking.Status != domain.BookingStatusPending:
		return nil, s.rejectLate(ctx, payment, booking, booking.Status)
	case booking.Expired(s.clock.Now()):
		status := domain.BookingStatusExpired
		if _, err := s.lifecycle.ExpireLocked(ctx, booking); err != nil {
			s.logger.WarnContext(ctx, "lazy expiry failed", "reference", booking.Reference, "error", err)
			if current, getErr := s.bookings.GetByReference(ctx, booking.Reference); getErr == nil {
				status = current.Status
			}
		}
		return nil, s.rejectLate(ctx, payment, booking, status)
	default:
		if _, err := s.lifecycle.ConfirmLocked(ctx, booking); err != nil {
			var de *domain.Error
			if errors.As(err, &de) && de.Kind == domain.KindInvalidState {
				return nil, s.rejectLate(ctx, payment, booking, domain.BookingStatus(de.Status))
			}
			// Payment stays PROCESSING; a retry resumes from here.
			return nil, err
		}
	}

	now := s.clock.Now()
	if err := s.update(ctx, payment, domain.PaymentStatusPaid, func(p *domain.Payment) {
		p.CompletedAt = &now
		if v.GatewayReference != "" {
			p.GatewayReference = v.GatewayReference
		}
	}); err != nil {
		return nil, err
	}
	metrics.PaymentEvent("paid")
	s.logger.InfoContext(ctx, "payment completed", "reference", booking.Reference, "payment_id", payment.ID)
	return payment, nil
}

// rejectLate fails a payment whose booking left PENDING before it could be
// confirmed. No seats are touched here; whoever terminated the booking
// already released them.
func (s *PaymentService) rejectLate(ctx context.Context, payment *domain.Payment, booking *domain.Booking, status domain.BookingStatus) error {
	if err := s.fail(ctx, payment, booking, "booking is "+strings.ToLower(string(status))); err != nil {
		return err
	}
	return domain.BookingExpired(booking.Reference, string(status))
}

func (s *PaymentService) fail(ctx context.Context, payment *domain.Payment, booking *domain.Booking, reason string) error {
	if err := s.update(ctx, payment, domain.PaymentStatusFailed, func(p *domain.Payment) {
		p.FailureReason = reason
	}); err != nil {
		return err
	}
	metrics.PaymentEvent("failed")
	s.logger.InfoContext(ctx, "payment failed", "reference", booking.Reference, "payment_id", payment.ID, "reason", reason)
	s.notifier.Notify(ctx, kafka.PaymentEvent(kafka.EventPaymentFailed, payment, booking, payment.UpdatedAt))
	return nil
}

// RefundPayment refunds a PAID payment of a booking that has since been
// cancelled.
func (s *PaymentService) RefundPayment(ctx context.Context, paymentID, userID string) (*domain.Payment, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.BookingKey(payment.BookingReference))
	if err != nil {
		return nil, err
	}
	defer unlock()

	booking, err := s.ownedBooking(ctx, payment.BookingReference, userID)
	if err != nil {
		return nil, domain.NotFound("payment %s", paymentID)
	}
	payment, err = s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusPaid {
		return nil, domain.InvalidState(booking.Reference, string(payment.Status), "only paid payments can be refunded")
	}
	if booking.Status != domain.BookingStatusCancelled {
		return nil, domain.InvalidState(booking.Reference, string(booking.Status), "booking must be cancelled before refund")
	}

	now := s.clock.Now()
	if err := s.update(ctx, payment, domain.PaymentStatusRefunded, func(p *domain.Payment) {
		p.RefundedAt = &now
	}); err != nil {
		return nil, err
	}
	metrics.PaymentEvent("refunded")
	s.logger.InfoContext(ctx, "payment refunded", "reference", booking.Reference, "payment_id", payment.ID)
	s.notifier.Notify(ctx, kafka.PaymentEvent(kafka.EventPaymentRefunded, payment, booking, now))
	return payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentID, userID string) (*domain.Payment, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedBooking(ctx, payment.BookingReference, userID); err != nil {
		return nil, domain.NotFound("payment %s", paymentID)
	}
	return payment, nil
}

func (s *PaymentService) ListPayments(ctx context.Context, reference, userID string) ([]domain.Payment, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if _, err := s.ownedBooking(ctx, reference, userID); err != nil {
		return nil, err
	}
	return s.payments.ListByBooking(ctx, reference)
}

// Sign returns the signature a gateway must attach to a verification.
func (s *PaymentService) Sign(transactionID string, amount decimal.Decimal, status string) string {
	mac := hmac.New(sha256.New, s.signingSecret)
	mac.Write([]byte(transactionID + "|" + amount.StringFixed(2) + "|" + status))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *PaymentService) verify(p *domain.Payment, v Verification) bool {
	got, err := hex.DecodeString(v.Signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.Sign(p.TransactionID, p.Amount, v.Status))
	return hmac.Equal(got, want)
}

func (s *PaymentService) fingerprint(number string) (string, error) {
	var h *blake3.Hasher
	if len(s.fingerprintKey) > 0 {
		var err error
		if h, err = blake3.NewKeyed(s.fingerprintKey); err != nil {
			return "", err
		}
	} else {
		h = blake3.New()
	}
	_, _ = h.Write([]byte(number))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// expire terminates an overdue booking found while the lock is held and
// reports it as expired.
func (s *PaymentService) expire(ctx context.Context, booking *domain.Booking) error {
	if _, err := s.lifecycle.ExpireLocked(ctx, booking); err != nil {
		return err
	}
	return domain.BookingExpired(booking.Reference, string(domain.BookingStatusExpired))
}

func (s *PaymentService) update(ctx context.Context, p *domain.Payment, to domain.PaymentStatus, mutate func(*domain.Payment)) error {
	from := p.Status
	if !from.CanTransitionTo(to) {
		return domain.InvalidState(p.BookingReference, string(from), "payment cannot move to %s", to)
	}
	next := *p
	next.Status = to
	next.UpdatedAt = s.clock.Now()
	if mutate != nil {
		mutate(&next)
	}
	if err := s.payments.Update(ctx, &next, from); err != nil {
		return err
	}
	*p = next
	return nil
}

func (s *PaymentService) ownedBooking(ctx context.Context, reference, userID string) (*domain.Booking, error) {
	booking, err := s.bookings.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, domain.NotFound("booking %s", reference)
	}
	return booking, nil
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.Validation("user id is required")
	}
	return nil
}

// validateCard checks the card and returns its digits. Only the last four
// digits and a fingerprint ever leave this function.
func validateCard(card CardDetails, now time.Time) (string, error) {
	number := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, card.Number)
	if len(number) < 12 || len(number) > 19 {
		return "", domain.Validation("card number must have 12 to 19 digits")
	}
	sum := 0
	for i := 0; i < len(number); i++ {
		c := number[len(number)-1-i]
		if c < '0' || c > '9' {
			return "", domain.Validation("card number must contain digits only")
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	if sum%10 != 0 {
		return "", domain.Validation("card number failed checksum")
	}
	if card.ExpiryMonth < 1 || card.ExpiryMonth > 12 {
		return "", domain.Validation("card expiry month is invalid")
	}
	if card.ExpiryYear < now.Year() || (card.ExpiryYear == now.Year() && card.ExpiryMonth < int(now.Month())) {
		return "", domain.Validation("card has expired")
	}
	if l := len(card.CVV); l < 3 || l > 4 {
		return "", domain.Validation("card security code is invalid")
	}
	return number, nil
}

var _ PaymentUseCase = (*PaymentService)(nil)
