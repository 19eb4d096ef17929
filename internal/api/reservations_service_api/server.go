package reservations_service_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/service/booking"
	"github.com/Domenick1991/airreserve/internal/service/flights"
	"github.com/Domenick1991/airreserve/internal/service/payment"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// UserIDMetadataKey carries the caller identity, as X-User-ID does over HTTP.
const UserIDMetadataKey = "x-user-id"

// Server implements ReservationsService on top of the use cases.
type Server struct {
	flights  flights.FlightUseCase
	bookings booking.BookingUseCase
	payments payment.PaymentUseCase
}

func NewServer(flights flights.FlightUseCase, bookings booking.BookingUseCase, payments payment.PaymentUseCase) *Server {
	return &Server{flights: flights, bookings: bookings, payments: payments}
}

func (s *Server) ListFlights(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list, err := s.flights.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"flights": list})
}

func (s *Server) GetFlight(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := int64(req.GetFields()["id"].GetNumberValue())
	if id <= 0 {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	flight, err := s.flights.GetByID(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(flight)
}

func (s *Server) CreateBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	var input booking.CreateBookingInput
	if err := fromStruct(req, &input); err != nil {
		return nil, err
	}
	input.UserID = userID

	b, err := s.bookings.CreateBooking(ctx, input)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(newBookingView(b))
}

func (s *Server) GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.GetBooking(ctx, stringField(req, "reference"), userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(newBookingView(b))
}

func (s *Server) ListBookings(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.bookings.ListBookings(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	views := make([]bookingView, 0, len(list))
	for i := range list {
		views = append(views, newBookingView(&list[i]))
	}
	return toStruct(map[string]any{"bookings": views})
}

func (s *Server) CancelBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.CancelBooking(ctx, stringField(req, "reference"), userID, stringField(req, "reason"))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(newBookingView(b))
}

func (s *Server) CreatePayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	var input payment.CreatePaymentInput
	if err := fromStruct(req, &input); err != nil {
		return nil, err
	}
	input.UserID = userID

	p, err := s.payments.CreatePayment(ctx, input)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(newPaymentView(p))
}

func (s *Server) ConfirmPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var v payment.Verification
	if err := fromStruct(req, &v); err != nil {
		return nil, err
	}
	p, err := s.payments.ConfirmPayment(ctx, stringField(req, "transaction_id"), v)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(newPaymentView(p))
}

func (s *Server) RefundPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.payments.RefundPayment(ctx, stringField(req, "payment_id"), userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(newPaymentView(p))
}

func (s *Server) GetPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.payments.GetPayment(ctx, stringField(req, "payment_id"), userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(newPaymentView(p))
}

// LoggingInterceptor logs every unary call with its status code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := slog.LevelInfo
		if code := status.Code(err); code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		}
		logger.LogAttrs(ctx, level, "grpc call",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

func userFrom(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if values := md.Get(UserIDMetadataKey); len(values) > 0 && values[0] != "" {
		return values[0], nil
	}
	return "", status.Error(codes.Unauthenticated, "missing "+UserIDMetadataKey+" metadata")
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func fromStruct(req *structpb.Struct, dst any) error {
	data, err := json.Marshal(req.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

// toStruct round-trips v through JSON so its json tags shape the result.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

type ticketView struct {
	ID        string           `json:"id"`
	Passenger domain.Passenger `json:"passenger"`
	Cabin     string           `json:"cabin"`
	Price     string           `json:"price"`
	Status    string           `json:"status"`
}

type bookingView struct {
	Reference    string             `json:"reference"`
	Status       string             `json:"status"`
	FlightID     int64              `json:"flight_id"`
	Contact      domain.ContactInfo `json:"contact"`
	Tickets      []ticketView       `json:"tickets"`
	TotalAmount  string             `json:"total_amount"`
	CancelReason string             `json:"cancel_reason,omitempty"`
	ExpiresAt    time.Time          `json:"expires_at"`
}

func newBookingView(b *domain.Booking) bookingView {
	v := bookingView{
		Reference:    b.Reference,
		Status:       string(b.Status),
		FlightID:     b.FlightID,
		Contact:      b.Contact,
		Tickets:      make([]ticketView, 0, len(b.Tickets)),
		TotalAmount:  b.TotalAmount.StringFixed(2),
		CancelReason: b.CancelReason,
		ExpiresAt:    b.ExpiresAt,
	}
	for _, t := range b.Tickets {
		v.Tickets = append(v.Tickets, ticketView{
			ID:        t.ID,
			Passenger: t.Passenger,
			Cabin:     string(t.Cabin),
			Price:     t.Price.StringFixed(2),
			Status:    string(t.Status),
		})
	}
	return v
}

type paymentView struct {
	ID               string     `json:"id"`
	TransactionID    string     `json:"transaction_id"`
	BookingReference string     `json:"booking_reference"`
	Amount           string     `json:"amount"`
	Method           string     `json:"method"`
	Status           string     `json:"status"`
	CardLast4        string     `json:"card_last4,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"`
}

func newPaymentView(p *domain.Payment) paymentView {
	return paymentView{
		ID:               p.ID,
		TransactionID:    p.TransactionID,
		BookingReference: p.BookingReference,
		Amount:           p.Amount.StringFixed(2),
		Method:           string(p.Method),
		Status:           string(p.Status),
		CardLast4:        p.CardLast4,
		FailureReason:    p.FailureReason,
		CompletedAt:      p.CompletedAt,
		RefundedAt:       p.RefundedAt,
	}
}

var _ ReservationsServiceServer = (*Server)(nil)
